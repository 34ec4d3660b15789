// Package field provides fluent builders for declaring entity fields.
//
// Field names follow database conventions (snake_case):
//
//	field.Int("age")
//	field.String("email")
//
// # Field Types
//
// The set of types is closed and resolved when the field is declared:
//
//	field.Bool("active")
//	field.Int("count")              // stored as int64
//	field.Float("price")
//	field.String("name")
//	field.Enum("status").Values("pending", "active")
//	field.Bytes("data")
//	field.Time("created_at")
//	field.UUID("token")
//	field.JSON("metadata")
//
// # Field Options
//
//	field.String("email").
//	    Unique().              // Unique constraint
//	    Optional().            // Not required on create
//	    Nillable().            // Nullable in storage (implies Optional)
//	    Immutable().           // Cannot be updated
//	    Sensitive().           // Excluded from the public view
//	    Default("unknown").    // Literal default value
//	    Comment("User email")
//
// Server-generated fields are excluded from the create view:
//
//	field.Int("id").PrimaryKey().Generated()                      // assigned by storage
//	field.Time("created_at").Generated().DefaultFunc(now)         // computed on commit
//
// # Validation
//
//	field.String("name").NotEmpty().MaxLen(100)
//	field.Int("age").Range(0, 150)
//	field.Int("level").Check("value % 10 == 0")
//
// Contradictory constraints (for example an optional non-nullable field
// with no default) are reported by Descriptor.Validate when the entity is
// registered.
package field
