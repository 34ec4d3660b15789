// Package modelkit is an entity-relationship mapping and schema-evolution
// engine.
//
// Entities are declared once, ent style, by embedding Schema and overriding
// the methods that describe the entity:
//
//	type Team struct{ modelkit.Schema }
//
//	func (Team) Fields() []modelkit.Field {
//	    return []modelkit.Field{
//	        field.String("name").NotEmpty(),
//	    }
//	}
//
//	func (Team) Edges() []modelkit.Edge {
//	    return []modelkit.Edge{
//	        edge.To("heroes", "Hero").CascadeDelete(),
//	    }
//	}
//
// Declarations are turned into descriptors by the schema package, registered
// and cross-validated by the graph package, shaped at the boundary by the view
// package, mutated through the session package and evolved by the migrate
// package.
package modelkit

import (
	"github.com/syssam/modelkit/schema/edge"
	"github.com/syssam/modelkit/schema/field"
	"github.com/syssam/modelkit/schema/index"
)

// The Interface type describes the requirements for an exported type defined
// in the schema package.
type Interface interface {
	// Fields returns the fields of the entity.
	Fields() []Field
	// Edges returns the relationship declarations of the entity.
	Edges() []Edge
	// Indexes returns the indexes of the entity.
	Indexes() []Index
	// Mixin returns reusable field, edge and index sets.
	Mixin() []Mixin
}

type (
	// Field is implemented by field builders.
	Field interface {
		Descriptor() *field.Descriptor
	}

	// Edge is implemented by edge builders.
	Edge interface {
		Descriptor() *edge.Descriptor
	}

	// Index is implemented by index builders.
	Index interface {
		Descriptor() *index.Descriptor
	}

	// Mixin is a reusable part of an entity declaration.
	Mixin interface {
		Fields() []Field
		Edges() []Edge
		Indexes() []Index
	}
)

// Schema is the default implementation for the Interface. It should be
// embedded in entity declarations.
type Schema struct{}

// Fields of the schema.
func (Schema) Fields() []Field { return nil }

// Edges of the schema.
func (Schema) Edges() []Edge { return nil }

// Indexes of the schema.
func (Schema) Indexes() []Index { return nil }

// Mixin of the schema.
func (Schema) Mixin() []Mixin { return nil }

// Tabler can be implemented by a declaration to override its table name.
type Tabler interface {
	Table() string
}

var _ Interface = (*Schema)(nil)
