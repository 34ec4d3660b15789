package graph

import (
	"fmt"
	"slices"

	"github.com/syssam/modelkit"
	"github.com/syssam/modelkit/schema"
	"github.com/syssam/modelkit/schema/edge"
	"github.com/syssam/modelkit/schema/field"
	"github.com/syssam/modelkit/storage"
)

// resolver wires the edges of the registered entities into relations.
type resolver struct {
	g     *Graph
	types map[string]*Type
	order []*Type
	errs  []error
}

// pair is an assoc edge and its single back-reference.
type pair struct {
	owner   *Type
	assoc   *edge.Descriptor
	target  *Type
	inverse *edge.Descriptor
}

func (r *resolver) resolve() error {
	for _, name := range r.g.names {
		t := &Type{Entity: r.g.entities[name].Clone()}
		r.types[name] = t
		r.order = append(r.order, t)
	}
	var pairs []pair
	for _, t := range r.order {
		for _, ed := range t.Edges {
			if ed.Inverse {
				r.checkInverse(t, ed)
				continue
			}
			if p, ok := r.pairOf(t, ed); ok {
				pairs = append(pairs, p)
			}
		}
	}
	if len(r.errs) > 0 {
		return modelkit.NewAggregateError(r.errs...)
	}
	for _, p := range pairs {
		r.wire(p)
	}
	if len(r.errs) > 0 {
		return modelkit.NewAggregateError(r.errs...)
	}
	for _, t := range r.order {
		pos := make(map[string]int, len(t.Edges))
		for i, ed := range t.Edges {
			pos[ed.Name] = i
		}
		slices.SortStableFunc(t.Relations, func(a, b *Relation) int {
			return pos[a.Name] - pos[b.Name]
		})
	}
	return nil
}

func (r *resolver) fail(kind error, t *Type, ed string, format string, args ...any) {
	r.errs = append(r.errs, modelkit.EdgeError(kind, t.Name, ed, format, args...))
}

// checkInverse reports back-references whose Ref does not lead to an assoc
// edge pointing back to the declaring entity.
func (r *resolver) checkInverse(t *Type, ed *edge.Descriptor) {
	target, ok := r.types[ed.Type]
	switch {
	case !ok:
		r.fail(modelkit.ErrDanglingForeignKey, t, ed.Name, "unknown entity %q", ed.Type)
	case ed.RefName == "":
		r.fail(modelkit.ErrAsymmetricBackReference, t, ed.Name, "back-reference without a Ref")
	default:
		assoc, ok := target.Edge(ed.RefName)
		if !ok || assoc.Inverse || assoc.Type != t.Name {
			r.fail(modelkit.ErrAsymmetricBackReference, t, ed.Name, "%s.%s is not an edge to %s", target.Name, ed.RefName, t.Name)
		}
	}
}

// pairOf returns the assoc edge with its back-reference. Exactly one must
// exist on the target.
func (r *resolver) pairOf(t *Type, assoc *edge.Descriptor) (pair, bool) {
	target, ok := r.types[assoc.Type]
	if !ok {
		r.fail(modelkit.ErrDanglingForeignKey, t, assoc.Name, "unknown entity %q", assoc.Type)
		return pair{}, false
	}
	var inverses []*edge.Descriptor
	for _, ed := range target.Edges {
		if ed.Inverse && ed.RefName == assoc.Name && ed.Type == t.Name {
			inverses = append(inverses, ed)
		}
	}
	switch len(inverses) {
	case 0:
		r.fail(modelkit.ErrAsymmetricBackReference, t, assoc.Name, "no back-reference declared on %s", target.Name)
		return pair{}, false
	case 1:
		return pair{owner: t, assoc: assoc, target: target, inverse: inverses[0]}, true
	default:
		r.fail(modelkit.ErrAsymmetricBackReference, t, assoc.Name, "%d back-references declared on %s", len(inverses), target.Name)
		return pair{}, false
	}
}

func (r *resolver) wire(p pair) {
	a, b := p.assoc, p.inverse
	ar := &Relation{Name: a.Name, Owner: p.owner.Name, Target: p.target.Name}
	br := &Relation{Name: b.Name, Owner: p.target.Name, Target: p.owner.Name, Inverse: true}
	ar.ref, br.ref = br, ar
	m2m := !a.Unique && !b.Unique
	switch {
	case a.Cascade && (m2m || (a.Unique && !b.Unique)):
		r.fail(modelkit.ErrInvalidField, p.owner, a.Name, "cascade delete requires %s to hold the foreign key", p.target.Name)
		return
	case a.Through != "" && !m2m:
		r.fail(modelkit.ErrInvalidField, p.owner, a.Name, "link entity on a non many-to-many edge")
		return
	case m2m:
		if !r.wireM2M(p, ar, br) {
			return
		}
	case a.Unique && !b.Unique:
		// The assoc side owns the foreign key.
		col, ok := r.foreignKey(p.owner, a.Name, "", p.target, false, false, false)
		if !ok {
			return
		}
		ar.Rel, br.Rel = M2O, O2M
		ar.Table, ar.Column, ar.OwnFK = p.owner.Table, col, true
		br.Table, br.Column = p.owner.Table, col
	default:
		// The back-reference side owns the foreign key.
		col, ok := r.foreignKey(p.target, b.Name, b.Field, p.owner, b.Required, a.Unique, a.Cascade)
		if !ok {
			return
		}
		if a.Unique {
			ar.Rel, br.Rel = O2O, O2O
		} else {
			ar.Rel, br.Rel = O2M, M2O
		}
		ar.Table, ar.Column, ar.Cascade = p.target.Table, col, a.Cascade
		br.Table, br.Column, br.OwnFK = p.target.Table, col, true
	}
	p.owner.Relations = append(p.owner.Relations, ar)
	p.target.Relations = append(p.target.Relations, br)
}

// foreignKey binds, or synthesizes, the foreign key field of holder that
// references the primary key of ref. It returns the column name.
func (r *resolver) foreignKey(holder *Type, edgeName, declared string, ref *Type, required, unique, cascade bool) (string, bool) {
	pk, ok := ref.ID()
	if !ok {
		r.fail(modelkit.ErrDanglingForeignKey, holder, edgeName, "%s has no single-column primary key", ref.Name)
		return "", false
	}
	name := declared
	if name == "" {
		name = edgeName + "_id"
	}
	fk, ok := holder.Field(name)
	switch {
	case ok && fk.Type != pk.Type:
		r.fail(modelkit.ErrDanglingForeignKey, holder, edgeName, "foreign key %s is %s, %s.%s is %s", name, fk.Type, ref.Name, pk.Name, pk.Type)
		return "", false
	case !ok && declared != "":
		r.fail(modelkit.ErrDanglingForeignKey, holder, edgeName, "foreign key field %q is not declared", declared)
		return "", false
	case !ok:
		fk = fkField(name, pk, required, unique)
		holder.Fields = append(holder.Fields, fk)
	}
	action := storage.NoAction
	switch {
	case cascade:
		action = storage.Cascade
	case fk.Nillable:
		action = storage.SetNull
	}
	holder.ForeignKeys = append(holder.ForeignKeys, &storage.ForeignKey{
		Name:      holder.Table + "_" + name + "_fkey",
		Column:    name,
		RefTable:  ref.Table,
		RefColumn: pk.Name,
		OnDelete:  action,
	})
	return name, true
}

// wireM2M routes a many-to-many pair through its link entity, generating
// one when none is supplied.
func (r *resolver) wireM2M(p pair, ar, br *Relation) bool {
	a := p.assoc
	ownerCol := p.owner.Label() + "_id"
	targetCol := p.target.Label() + "_id"
	if ownerCol == targetCol {
		targetCol = schema.Singular(a.Name) + "_id"
	}
	opk, ok1 := p.owner.ID()
	tpk, ok2 := p.target.ID()
	var link *Type
	switch {
	case a.Through != "":
		var ok bool
		if link, ok = r.types[a.Through]; !ok {
			r.fail(modelkit.ErrMissingLinkEntity, p.owner, a.Name, "link entity %q is not registered", a.Through)
			return false
		}
		if !ok1 || !ok2 {
			r.fail(modelkit.ErrMissingLinkEntity, p.owner, a.Name, "link entity %s requires single-column primary keys on both sides", link.Name)
			return false
		}
		for _, c := range []struct {
			name string
			pk   *field.Descriptor
		}{{ownerCol, opk}, {targetCol, tpk}} {
			if f, ok := link.Field(c.name); !ok || f.Type != c.pk.Type {
				r.fail(modelkit.ErrMissingLinkEntity, p.owner, a.Name, "link entity %s has no %s field of type %s", link.Name, c.name, c.pk.Type)
				return false
			}
		}
	default:
		if !ok1 || !ok2 || !opk.Type.Comparable() || !tpk.Type.Comparable() {
			r.fail(modelkit.ErrMissingLinkEntity, p.owner, a.Name, "a link entity can only be generated between single-column comparable primary keys")
			return false
		}
		name := p.owner.Name + schema.Pascal(a.Name)
		if _, ok := r.types[name]; ok {
			r.fail(modelkit.ErrMissingLinkEntity, p.owner, a.Name, "generated link entity %s collides with a registered entity", name)
			return false
		}
		link = &Type{Entity: &schema.Entity{
			Name:  name,
			Table: p.owner.Label() + "_" + a.Name,
			Link:  true,
			Fields: []*field.Descriptor{
				field.Of(ownerCol, opk.Type).PrimaryKey().Descriptor(),
				field.Of(targetCol, tpk.Type).PrimaryKey().Descriptor(),
			},
			Comment: fmt.Sprintf("Link entity of %s.%s.", p.owner.Name, a.Name),
		}}
		r.types[name] = link
		r.order = append(r.order, link)
	}
	for _, c := range []struct {
		col string
		ref *Type
		pk  *field.Descriptor
	}{{ownerCol, p.owner, opk}, {targetCol, p.target, tpk}} {
		fkName := link.Table + "_" + c.col + "_fkey"
		if _, ok := findForeignKey(link.ForeignKeys, fkName); ok {
			continue
		}
		link.ForeignKeys = append(link.ForeignKeys, &storage.ForeignKey{
			Name:      fkName,
			Column:    c.col,
			RefTable:  c.ref.Table,
			RefColumn: c.pk.Name,
			OnDelete:  storage.Cascade,
		})
	}
	ar.Rel, br.Rel = M2M, M2M
	ar.Table, ar.Column, ar.TargetColumn, ar.Link = link.Table, ownerCol, targetCol, link
	br.Table, br.Column, br.TargetColumn, br.Link = link.Table, targetCol, ownerCol, link
	return true
}

func findForeignKey(fks []*storage.ForeignKey, name string) (*storage.ForeignKey, bool) {
	for _, fk := range fks {
		if fk.Name == name {
			return fk, true
		}
	}
	return nil, false
}
