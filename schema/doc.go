// Package schema turns entity declarations into canonical descriptors.
//
// The building blocks live in the subpackages:
//
//   - [field]: Field builders for entity attributes
//   - [edge]: Edge builders for entity relationships
//   - [index]: Index builders for composite and unique indexes
//   - [mixin]: Reusable declaration parts
//   - [load]: YAML declarations
//
// # Quick Start
//
// Declare an entity by embedding modelkit.Schema:
//
//	type Team struct{ modelkit.Schema }
//
//	func (Team) Fields() []modelkit.Field {
//	    return []modelkit.Field{
//	        field.String("name").NotEmpty().MaxLen(100),
//	        field.Enum("tier").Values("bronze", "silver", "gold").Default("bronze"),
//	    }
//	}
//
//	func (Team) Edges() []modelkit.Edge {
//	    return []modelkit.Edge{
//	        edge.To("heroes", "Hero").CascadeDelete(),
//	    }
//	}
//
//	func (Team) Indexes() []modelkit.Index {
//	    return []modelkit.Index{
//	        index.Fields("name").Unique(),
//	    }
//	}
//
// and build its descriptor:
//
//	team := schema.Of(Team{})
//
// Entities without a primary key get an implicit `id` field assigned by
// storage. Table names default to the snake_case plural of the entity name
// and can be overridden by implementing modelkit.Tabler.
package schema
