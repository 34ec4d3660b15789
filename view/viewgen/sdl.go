package viewgen

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"

	"github.com/syssam/modelkit/graph"
	"github.com/syssam/modelkit/schema"
	"github.com/syssam/modelkit/schema/field"
	"github.com/syssam/modelkit/view"
)

// scalars maps the field types without a built-in GraphQL scalar to the
// custom scalar declared for them.
var scalars = map[field.Type]string{
	field.TypeBytes: "Bytes",
	field.TypeTime:  "Time",
	field.TypeUUID:  "UUID",
	field.TypeJSON:  "JSON",
}

var gqlName = regexp.MustCompile(`^[_A-Za-z][_0-9A-Za-z]*$`)

// SDL renders the views of g as GraphQL definitions: an object type for the
// public view and input types for the create and update views.
//
//	type Team { id: Int! name: String! }
//	input TeamCreateInput { name: String! }
//	input TeamUpdateInput { name: String }
func SDL(g *graph.Graph) (string, error) {
	doc, err := Document(g)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	formatter.NewFormatter(&b).FormatSchemaDocument(doc)
	return b.String(), nil
}

// Document returns the GraphQL schema document of the views of g.
func Document(g *graph.Graph) (*ast.SchemaDocument, error) {
	es, err := entities(g)
	if err != nil {
		return nil, err
	}
	s := &sdl{used: make(map[string]bool)}
	var defs ast.DefinitionList
	for _, e := range es {
		for _, fs := range e.views {
			defs = append(defs, s.definition(e, fs))
		}
	}
	doc := &ast.SchemaDocument{}
	for _, t := range []field.Type{field.TypeBytes, field.TypeTime, field.TypeUUID, field.TypeJSON} {
		if name := scalars[t]; s.used[name] {
			doc.Definitions = append(doc.Definitions, &ast.Definition{Kind: ast.Scalar, Name: name})
		}
	}
	doc.Definitions = append(doc.Definitions, s.enums...)
	doc.Definitions = append(doc.Definitions, defs...)
	return doc, nil
}

type sdl struct {
	used  map[string]bool
	enums ast.DefinitionList
}

func (s *sdl) definition(e *entity, fs view.FieldSet) *ast.Definition {
	def := &ast.Definition{Kind: ast.InputObject, Name: typeName(fs) + "Input"}
	if fs.Kind == view.Public {
		def.Kind = ast.Object
		def.Name = e.name
		def.Description = e.comment
	}
	for _, vf := range fs.Fields {
		fd := &ast.FieldDefinition{Name: schema.Camel(vf.Name), Type: s.fieldType(fs, vf)}
		if vf.Desc != nil {
			fd.Description = vf.Desc.Comment
		}
		if fs.Kind == view.Create && vf.Default != nil {
			fd.DefaultValue = literal(vf)
		}
		def.Fields = append(def.Fields, fd)
	}
	return def
}

func (s *sdl) fieldType(fs view.FieldSet, f view.Field) *ast.Type {
	name := s.named(fs.Entity, f)
	if optional(fs, f) {
		return ast.NamedType(name, nil)
	}
	return ast.NonNullNamedType(name, nil)
}

// named returns the GraphQL type name of a field, declaring its scalar or
// enum on first use.
func (s *sdl) named(entity string, f view.Field) string {
	switch f.Type {
	case field.TypeBool:
		return "Boolean"
	case field.TypeInt:
		return "Int"
	case field.TypeFloat:
		return "Float"
	case field.TypeString:
		return "String"
	case field.TypeEnum:
		return s.enum(entity, f)
	}
	name := scalars[f.Type]
	s.used[name] = true
	return name
}

// enum declares the enum of a field. Enums with values that are not GraphQL
// names are rendered as strings.
func (s *sdl) enum(entity string, f view.Field) string {
	if !enumNames(f) {
		return "String"
	}
	name := entity + schema.Pascal(f.Name)
	if s.used[name] {
		return name
	}
	s.used[name] = true
	def := &ast.Definition{Kind: ast.Enum, Name: name}
	for _, v := range f.Desc.Enums {
		def.EnumValues = append(def.EnumValues, &ast.EnumValueDefinition{Name: v})
	}
	s.enums = append(s.enums, def)
	return name
}

// literal returns the default value of a create field, or nil when it has
// no GraphQL literal.
func literal(f view.Field) *ast.Value {
	v, err := f.Desc.Normalize(f.Default)
	if err != nil {
		return nil
	}
	switch x := v.(type) {
	case bool:
		return &ast.Value{Kind: ast.BooleanValue, Raw: strconv.FormatBool(x)}
	case int64:
		return &ast.Value{Kind: ast.IntValue, Raw: strconv.FormatInt(x, 10)}
	case float64:
		return &ast.Value{Kind: ast.FloatValue, Raw: strconv.FormatFloat(x, 'f', -1, 64)}
	case string:
		if f.Type == field.TypeEnum && enumNames(f) {
			return &ast.Value{Kind: ast.EnumValue, Raw: x}
		}
		return &ast.Value{Kind: ast.StringValue, Raw: x}
	}
	return nil
}

// enumNames reports if the values of an enum field are GraphQL names.
func enumNames(f view.Field) bool {
	if f.Desc == nil {
		return false
	}
	for _, v := range f.Desc.Enums {
		if !gqlName.MatchString(v) {
			return false
		}
	}
	return true
}
