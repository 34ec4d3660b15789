// Package edge provides fluent builders for declaring entity relationships.
//
// Edges come in pairs. The association is declared with To on one side and
// the back-reference is declared with From on the other. Targets are named by
// their registered entity name, so cyclic pairs (Team and Hero) need no
// forward declarations.
//
// # Relationship Cardinality
//
// The Unique modifier on both sides determines the relationship:
//
//	// One-to-Many: Team has many Heroes
//	edge.To("heroes", "Hero")
//	edge.From("team", "Team").Ref("heroes").Unique()
//
//	// One-to-One: User has one Profile
//	edge.To("profile", "Profile").Unique()
//	edge.From("user", "User").Ref("profile").Unique()
//
//	// Many-to-Many: Users have many Groups
//	edge.To("groups", "Group")
//	edge.From("users", "User").Ref("groups")
//
// The unique From side owns the foreign key. Its column is `<edge>_id` unless
// Field binds the edge to a declared field.
//
// # Link Entities
//
// A many-to-many pair is routed through a link entity. It is generated with a
// composite primary key, or supplied explicitly:
//
//	edge.To("groups", "Group").Through("Membership")
//
// # Cascades
//
// CascadeDelete on the association removes the dependents when the owner is
// deleted:
//
//	edge.To("heroes", "Hero").CascadeDelete()
package edge
