package schema

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"

	"github.com/syssam/modelkit"
	"github.com/syssam/modelkit/schema/edge"
	"github.com/syssam/modelkit/schema/field"
	"github.com/syssam/modelkit/schema/index"
	"github.com/syssam/modelkit/schema/mixin"
)

// identRe matches names that can be used verbatim as SQL identifiers.
var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Entity is the canonical descriptor of one entity type. It is built from a
// declaration, registered into a graph and never mutated afterwards.
type Entity struct {
	Name    string
	Table   string
	Fields  []*field.Descriptor
	Edges   []*edge.Descriptor
	Indexes []*index.Descriptor
	Comment string
	// Link is set on link entities generated for many-to-many edges.
	Link bool
}

// New returns the descriptor of the given declaration. Mixin fields, edges
// and indexes come before the declaration's own.
func New(name string, s modelkit.Interface) *Entity {
	e := &Entity{Name: name}
	for _, m := range s.Mixin() {
		e.add(m.Fields(), m.Edges(), m.Indexes())
	}
	e.add(s.Fields(), s.Edges(), s.Indexes())
	if t, ok := s.(modelkit.Tabler); ok {
		e.Table = t.Table()
	}
	return e
}

// Of returns the descriptor of the given declaration, named after its Go type.
//
//	schema.Of(Team{}) // Team
func Of(s modelkit.Interface) *Entity {
	t := reflect.TypeOf(s)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return New(t.Name(), s)
}

func (e *Entity) add(fields []modelkit.Field, edges []modelkit.Edge, indexes []modelkit.Index) {
	for _, f := range fields {
		e.Fields = append(e.Fields, f.Descriptor())
	}
	for _, ed := range edges {
		e.Edges = append(e.Edges, ed.Descriptor())
	}
	for _, idx := range indexes {
		e.Indexes = append(e.Indexes, idx.Descriptor())
	}
}

// Label returns the snake_case label of the entity.
func (e *Entity) Label() string {
	return Snake(e.Name)
}

// Field returns the field with the given name.
func (e *Entity) Field(name string) (*field.Descriptor, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// Edge returns the edge with the given name.
func (e *Entity) Edge(name string) (*edge.Descriptor, bool) {
	for _, ed := range e.Edges {
		if ed.Name == name {
			return ed, true
		}
	}
	return nil, false
}

// PrimaryKey returns the primary key fields in declaration order.
func (e *Entity) PrimaryKey() []*field.Descriptor {
	var pk []*field.Descriptor
	for _, f := range e.Fields {
		if f.PrimaryKey {
			pk = append(pk, f)
		}
	}
	return pk
}

// ID returns the primary key field of an entity with a single-column key.
func (e *Entity) ID() (*field.Descriptor, bool) {
	pk := e.PrimaryKey()
	if len(pk) != 1 {
		return nil, false
	}
	return pk[0], true
}

// Clone returns a deep copy of the entity.
func (e *Entity) Clone() *Entity {
	c := *e
	c.Fields = make([]*field.Descriptor, len(e.Fields))
	for i, f := range e.Fields {
		c.Fields[i] = f.Clone()
	}
	c.Edges = make([]*edge.Descriptor, len(e.Edges))
	for i, ed := range e.Edges {
		c.Edges[i] = ed.Clone()
	}
	c.Indexes = make([]*index.Descriptor, len(e.Indexes))
	for i, idx := range e.Indexes {
		c.Indexes[i] = idx.Clone()
	}
	return &c
}

// Normalize fills the defaults of the entity: the table name and, for
// entities without a primary key, the implicit `id` field.
func (e *Entity) Normalize() {
	if e.Table == "" {
		e.Table = TableName(e.Name)
	}
	if len(e.PrimaryKey()) == 0 {
		e.Fields = append([]*field.Descriptor{mixin.IDField().Descriptor()}, e.Fields...)
	}
}

// Validate checks the fields, edges and indexes of the entity in isolation.
// Every failure is an ErrInvalidField SchemaError.
func (e *Entity) Validate() error {
	if e.Name == "" || !identRe.MatchString(e.Name) {
		return modelkit.NewSchemaError(modelkit.ErrInvalidField, e.Name, "invalid entity name")
	}
	if !identRe.MatchString(e.Table) {
		return modelkit.NewSchemaError(modelkit.ErrInvalidField, e.Name, fmt.Sprintf("invalid table name %q", e.Table))
	}
	var errs []error
	names := make(map[string]struct{}, len(e.Fields))
	for _, f := range e.Fields {
		if err := f.Validate(); err != nil {
			errs = append(errs, modelkit.InvalidField(e.Name, f.Name, err))
			continue
		}
		if !identRe.MatchString(f.Name) {
			errs = append(errs, modelkit.InvalidField(e.Name, f.Name, errors.New("invalid field name")))
		}
		if _, ok := names[f.Name]; ok {
			errs = append(errs, modelkit.InvalidField(e.Name, f.Name, errors.New("duplicate field")))
		}
		names[f.Name] = struct{}{}
		if f.PrimaryKey && !f.Type.Comparable() {
			errs = append(errs, modelkit.InvalidField(e.Name, f.Name, fmt.Errorf("%s field cannot be a primary key", f.Type)))
		}
	}
	edges := make(map[string]struct{}, len(e.Edges))
	for _, ed := range e.Edges {
		if err := ed.Validate(); err != nil {
			errs = append(errs, &modelkit.SchemaError{Kind: modelkit.ErrInvalidField, Entity: e.Name, Edge: ed.Name, Cause: err})
			continue
		}
		if _, ok := edges[ed.Name]; ok {
			errs = append(errs, modelkit.EdgeError(modelkit.ErrInvalidField, e.Name, ed.Name, "duplicate edge"))
		}
		if _, ok := names[ed.Name]; ok {
			errs = append(errs, modelkit.EdgeError(modelkit.ErrInvalidField, e.Name, ed.Name, "edge name collides with a field"))
		}
		edges[ed.Name] = struct{}{}
	}
	for _, idx := range e.Indexes {
		if err := idx.Validate(); err != nil {
			errs = append(errs, modelkit.NewSchemaError(modelkit.ErrInvalidField, e.Name, err.Error()))
			continue
		}
		for _, name := range idx.Fields {
			if _, ok := names[name]; !ok {
				errs = append(errs, modelkit.InvalidField(e.Name, name, errors.New("unknown field in index")))
			}
		}
	}
	return modelkit.NewAggregateError(errs...)
}

// IndexName returns the storage name of an index of the entity.
func (e *Entity) IndexName(idx *index.Descriptor) string {
	if idx.StorageKey != "" {
		return idx.StorageKey
	}
	name := e.Table
	for _, f := range idx.Fields {
		name += "_" + f
	}
	if idx.Unique {
		return name + "_key"
	}
	return name + "_idx"
}
