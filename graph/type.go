package graph

import (
	"github.com/syssam/modelkit/schema"
	"github.com/syssam/modelkit/schema/field"
	"github.com/syssam/modelkit/storage"
)

// Rel is the cardinality of a relation, seen from its owner.
type Rel uint8

// Relation types.
const (
	Unk Rel = iota // Unknown.
	O2O            // One to one / has one.
	O2M            // One to many / has many.
	M2O            // Many to one (inverse perspective for O2M).
	M2M            // Many to many.
)

// String returns the relation name.
func (r Rel) String() string {
	switch r {
	case O2O:
		return "O2O"
	case O2M:
		return "O2M"
	case M2O:
		return "M2O"
	case M2M:
		return "M2M"
	default:
		return "Unknown"
	}
}

// Type is a resolved entity. Its fields include the foreign key fields of
// the relations it owns.
type Type struct {
	*schema.Entity
	// Relations in edge declaration order.
	Relations []*Relation
	// ForeignKeys of the entity's table.
	ForeignKeys []*storage.ForeignKey
}

// Relation returns the relation with the given name.
func (t *Type) Relation(name string) (*Relation, bool) {
	for _, r := range t.Relations {
		if r.Name == name {
			return r, true
		}
	}
	return nil, false
}

// Columns returns the column names of the type's table.
func (t *Type) Columns() []string {
	cols := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		cols[i] = f.Name
	}
	return cols
}

// Dependents returns the relations whose targets hold a foreign key to the
// type. Deleting an instance of the type affects their rows.
func (t *Type) Dependents() []*Relation {
	var deps []*Relation
	for _, r := range t.Relations {
		if !r.OwnFK {
			deps = append(deps, r)
		}
	}
	return deps
}

// Relation is one side of a resolved relationship. An entry of the
// bidirectional index: its name, its kind, its target and the path used
// to resolve it.
type Relation struct {
	Name    string
	Rel     Rel
	Owner   string // entity declaring the edge.
	Target  string // entity on the other side.
	Inverse bool   // declared with edge.From.
	// Cascade is set on the owner side of O2M and O2O relations declared
	// with CascadeDelete.
	Cascade bool
	// Table holding Column: the table owning the foreign key or, for M2M,
	// the link table.
	Table string
	// Column is the foreign key column or, for M2M, the link column that
	// references the owner.
	Column string
	// TargetColumn is the link column that references the target (M2M).
	TargetColumn string
	// OwnFK is set when Column is in the owner's table.
	OwnFK bool
	// Link is the link type of an M2M relation.
	Link *Type
	ref  *Relation
}

// Ref returns the other side of the relationship.
func (r *Relation) Ref() *Relation { return r.ref }

// Unique reports whether the relation leads to at most one instance.
func (r *Relation) Unique() bool { return r.Rel == O2O || r.Rel == M2O }

// M2M reports whether the relation goes through a link entity.
func (r *Relation) M2M() bool { return r.Rel == M2M }

// fkField returns the descriptor of a foreign key field.
func fkField(name string, pk *field.Descriptor, required, unique bool) *field.Descriptor {
	b := field.Of(name, pk.Type).Index()
	if !required {
		b.Nillable()
	}
	if unique {
		b.Unique()
	}
	return b.Descriptor()
}
