// Package graph provides the schema registry and the relationship resolver.
//
// Registration is two-phase: every entity is registered first, in any order,
// and the cross references are checked by Validate once all of them exist.
//
//	g := graph.New()
//	if err := g.Register(schema.Of(Team{}), schema.Of(Hero{})); err != nil {
//	    log.Fatal(err) // DuplicateEntity or InvalidField
//	}
//	if err := g.Validate(); err != nil {
//	    log.Fatal(err) // DanglingForeignKey, MissingLinkEntity or AsymmetricBackReference
//	}
//
// # Type Representation
//
// Validate seals the graph and resolves every entity into a Type. A Type
// carries the declared fields plus the foreign key fields it owns, its
// foreign keys, and its relations in declaration order:
//
//	type Type struct {
//	    *schema.Entity
//	    Relations   []*Relation
//	    ForeignKeys []*storage.ForeignKey
//	}
//
// # Relation Types
//
// Every edge pair becomes two relations, one per side, linked through Ref:
//
//   - O2O (One-to-One): User has one Profile
//   - O2M (One-to-Many): Team has many Heroes
//   - M2O (Many-to-One): Hero belongs to Team
//   - M2M (Many-to-Many): User has many Groups, Group has many Users
//
// A relation records how it is resolved: the table and column holding the
// foreign key, whether the column is on the owner's side, and for M2M the
// link type and its two columns. Sessions use this index to load related
// instances and to cascade deletes.
//
// # Link Types
//
// An M2M pair without a Through entity gets a generated link type named
// after the owner and the edge (UserGroups, table user_groups) whose primary
// key is the composite of both referenced keys.
package graph
