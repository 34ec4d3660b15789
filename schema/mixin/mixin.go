package mixin

import (
	"time"

	"github.com/syssam/modelkit"
	"github.com/syssam/modelkit/schema/field"
)

// Schema is the default implementation for the modelkit.Mixin interface.
// It should be embedded in all custom mixin definitions.
//
// Example:
//
//	type MyMixin struct {
//	    mixin.Schema
//	}
//
//	func (MyMixin) Fields() []modelkit.Field {
//	    return []modelkit.Field{
//	        field.String("custom_field"),
//	    }
//	}
type Schema struct{}

// Fields returns the fields of the mixin.
func (Schema) Fields() []modelkit.Field { return nil }

// Edges returns the edges of the mixin.
func (Schema) Edges() []modelkit.Edge { return nil }

// Indexes returns the indexes of the mixin.
func (Schema) Indexes() []modelkit.Index { return nil }

// schema mixin must implement `Mixin` interface.
var _ modelkit.Mixin = (*Schema)(nil)

// =============================================================================
// Built-in Mixins
// =============================================================================

// ID adds an int64 primary key assigned by storage. Entities without a
// primary key get the same field implicitly.
type ID struct {
	Schema
}

// Fields returns the id field.
func (ID) Fields() []modelkit.Field {
	return []modelkit.Field{
		IDField(),
	}
}

// IDField returns the builder of the implicit primary key.
func IDField() *field.Builder {
	return field.Int("id").
		PrimaryKey().
		Generated()
}

// UUIDID adds a UUID primary key generated on commit.
type UUIDID struct {
	Schema
}

// Fields returns the id field.
func (UUIDID) Fields() []modelkit.Field {
	return []modelkit.Field{
		field.UUID("id").
			PrimaryKey().
			Generated(),
	}
}

// Time adds created_at and updated_at timestamp fields to a schema.
// created_at is set on creation and is immutable.
// updated_at is set on creation and on each update.
//
// Example:
//
//	func (User) Mixin() []modelkit.Mixin {
//	    return []modelkit.Mixin{
//	        mixin.Time{},
//	    }
//	}
type Time struct {
	Schema
}

// Fields returns the time tracking fields.
func (Time) Fields() []modelkit.Field {
	return append(CreateTime{}.Fields(), UpdateTime{}.Fields()...)
}

// CreateTime adds only the created_at timestamp field to a schema.
type CreateTime struct {
	Schema
}

// Fields returns the created_at field.
func (CreateTime) Fields() []modelkit.Field {
	return []modelkit.Field{
		field.Time("created_at").
			Generated().
			DefaultFunc(now).
			Immutable().
			Comment("Timestamp when the entity was created"),
	}
}

// UpdateTime adds only the updated_at timestamp field to a schema.
type UpdateTime struct {
	Schema
}

// Fields returns the updated_at field.
func (UpdateTime) Fields() []modelkit.Field {
	return []modelkit.Field{
		field.Time("updated_at").
			Generated().
			DefaultFunc(now).
			UpdateDefault(now).
			Comment("Timestamp when the entity was last updated"),
	}
}

// SoftDelete adds a nullable deleted_at timestamp. Rows are marked rather
// than deleted; readers filter them with storage.IsNull("deleted_at").
type SoftDelete struct {
	Schema
}

// Fields returns the deleted_at field.
func (SoftDelete) Fields() []modelkit.Field {
	return []modelkit.Field{
		field.Time("deleted_at").
			Nillable().
			Comment("Timestamp when the entity was soft deleted"),
	}
}

// TenantID adds an immutable, indexed tenant_id field for row-level
// multi-tenancy.
type TenantID struct {
	Schema
}

// Fields returns the tenant_id field.
func (TenantID) Fields() []modelkit.Field {
	return []modelkit.Field{
		field.String("tenant_id").
			Immutable().
			NotEmpty().
			Index(),
	}
}

func now() any { return time.Now().UTC() }
