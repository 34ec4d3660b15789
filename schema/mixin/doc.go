// Package mixin provides the base mixin implementation for modelkit
// declarations.
//
// A mixin is a reusable set of fields, edges and indexes that can be embedded
// in multiple entity declarations. Mixin fields come before the entity's own
// fields.
//
// To create a custom mixin, embed Schema and override the methods you need:
//
//	type AuditMixin struct {
//	    mixin.Schema
//	}
//
//	func (AuditMixin) Fields() []modelkit.Field {
//	    return []modelkit.Field{
//	        field.String("created_by").Optional().Default(""),
//	    }
//	}
//
//	func (AuditMixin) Indexes() []modelkit.Index {
//	    return []modelkit.Index{
//	        index.Fields("created_by"),
//	    }
//	}
//
// Using mixins:
//
//	func (User) Mixin() []modelkit.Mixin {
//	    return []modelkit.Mixin{
//	        mixin.UUIDID{}, // uuid primary key
//	        mixin.Time{},   // created_at, updated_at
//	        AuditMixin{},
//	    }
//	}
package mixin
