package viewgen

import (
	"github.com/dave/jennifer/jen"

	"github.com/syssam/modelkit/graph"
	"github.com/syssam/modelkit/schema"
	"github.com/syssam/modelkit/schema/field"
	"github.com/syssam/modelkit/view"
)

// Structs renders the views of g as Go structs of package pkg. Create and
// Update structs also get a Map method returning the present fields, ready
// to be bound by the view.
func Structs(g *graph.Graph, pkg string) (*jen.File, error) {
	es, err := entities(g)
	if err != nil {
		return nil, err
	}
	f := jen.NewFile(pkg)
	f.HeaderComment(Header)
	for _, e := range es {
		for _, fs := range e.views {
			genStruct(f, e, fs)
			if fs.Kind != view.Public {
				genMap(f, fs)
			}
		}
	}
	return f, nil
}

func genStruct(f *jen.File, e *entity, fs view.FieldSet) {
	name := typeName(fs)
	switch fs.Kind {
	case view.Create:
		f.Commentf("%s is the creation input of %s.", name, e.name)
	case view.Update:
		f.Commentf("%s is the partial update of %s. Nil fields are left unchanged.", name, e.name)
	default:
		if e.comment != "" {
			f.Comment(e.comment)
		} else {
			f.Commentf("%s is the public representation of %s.", name, e.name)
		}
	}
	f.Type().Id(name).StructFunc(func(group *jen.Group) {
		for _, vf := range fs.Fields {
			s := group.Id(schema.Pascal(vf.Name)).Add(goType(vf.Type, pointer(fs, vf)))
			tag := vf.Name
			if optional(fs, vf) {
				tag += ",omitempty"
			}
			s.Tag(map[string]string{"json": tag})
			if vf.Desc != nil && vf.Desc.Comment != "" {
				s.Comment(vf.Desc.Comment)
			}
		}
	})
}

// genMap renders the Map method of a Create or Update struct.
func genMap(f *jen.File, fs view.FieldSet) {
	recv := jen.Id("v").Op("*").Id(typeName(fs))
	f.Commentf("Map returns the fields of %s that are set.", typeName(fs))
	f.Func().Params(recv).Id("Map").Params().Map(jen.String()).Any().BlockFunc(func(body *jen.Group) {
		body.Id("m").Op(":=").Make(jen.Map(jen.String()).Any(), jen.Lit(len(fs.Fields)))
		for _, vf := range fs.Fields {
			sel := jen.Id("v").Dot(schema.Pascal(vf.Name))
			switch {
			case pointer(fs, vf):
				body.If(sel.Clone().Op("!=").Nil()).Block(
					jen.Id("m").Index(jen.Lit(vf.Name)).Op("=").Op("*").Add(sel.Clone()),
				)
			case optional(fs, vf):
				body.If(sel.Clone().Op("!=").Nil()).Block(
					jen.Id("m").Index(jen.Lit(vf.Name)).Op("=").Add(sel.Clone()),
				)
			default:
				body.Id("m").Index(jen.Lit(vf.Name)).Op("=").Add(sel)
			}
		}
		body.Return(jen.Id("m"))
	})
}

// pointer reports if an optional field is rendered as a pointer. Bytes and
// JSON values are nil-able already.
func pointer(fs view.FieldSet, f view.Field) bool {
	return optional(fs, f) && f.Type != field.TypeBytes && f.Type != field.TypeJSON
}

func goType(t field.Type, ptr bool) jen.Code {
	var c *jen.Statement
	switch t {
	case field.TypeBool:
		c = jen.Bool()
	case field.TypeInt:
		c = jen.Int64()
	case field.TypeFloat:
		c = jen.Float64()
	case field.TypeBytes:
		return jen.Index().Byte()
	case field.TypeTime:
		c = jen.Qual("time", "Time")
	case field.TypeUUID:
		c = jen.Qual("github.com/google/uuid", "UUID")
	case field.TypeJSON:
		return jen.Any()
	default:
		c = jen.String()
	}
	if ptr {
		return jen.Op("*").Add(c)
	}
	return c
}
