package edge

import (
	"errors"
	"fmt"
)

// A Descriptor for edge configuration.
type Descriptor struct {
	Name     string // edge name.
	Type     string // target entity name.
	Inverse  bool   // back-reference declared with From.
	RefName  string // name of the assoc edge on the target, for inverse edges.
	Field    string // foreign key field, for inverse unique edges.
	Through  string // link entity name, for many-to-many edges.
	Unique   bool   // to-one edge.
	Required bool   // foreign key is non-nullable.
	Cascade  bool   // deleting the owner deletes the dependents.
	Comment  string // edge comment.
	Err      error
}

// To defines an association edge between two entities. The target is the
// registered name of the other entity.
//
//	edge.To("heroes", "Hero")
func To(name, target string) *assocBuilder {
	return &assocBuilder{desc: &Descriptor{Name: name, Type: target}}
}

// From represents a reversed-edge between two entities. It must be paired
// with an association edge on the target using Ref.
//
//	edge.From("team", "Team").Ref("heroes").Unique()
func From(name, target string) *inverseBuilder {
	return &inverseBuilder{desc: &Descriptor{Name: name, Type: target, Inverse: true}}
}

// assocBuilder is the builder for assoc edges.
type assocBuilder struct {
	desc *Descriptor
}

// Unique sets the edge type to be unique. Basically, it limits the edge to
// be one of the two: one-2-one or many-2-one.
func (b *assocBuilder) Unique() *assocBuilder {
	b.desc.Unique = true
	return b
}

// CascadeDelete deletes the dependents on the other side when the owner of
// the edge is deleted.
func (b *assocBuilder) CascadeDelete() *assocBuilder {
	b.desc.Cascade = true
	return b
}

// Through sets the link entity of a many-to-many edge. Without it, the link
// entity is generated.
//
//	edge.To("groups", "Group").Through("Membership")
func (b *assocBuilder) Through(link string) *assocBuilder {
	b.desc.Through = link
	return b
}

// Comment used to put annotations on the schema.
func (b *assocBuilder) Comment(c string) *assocBuilder {
	b.desc.Comment = c
	return b
}

// Descriptor implements the modelkit.Edge interface by returning its descriptor.
func (b *assocBuilder) Descriptor() *Descriptor {
	return b.desc
}

// inverseBuilder is the builder for inverse edges.
type inverseBuilder struct {
	desc *Descriptor
}

// Ref sets the referenced assoc edge of the inverse edge.
func (b *inverseBuilder) Ref(ref string) *inverseBuilder {
	b.desc.RefName = ref
	return b
}

// Unique sets the edge type to be unique. A unique inverse edge owns the
// foreign key.
func (b *inverseBuilder) Unique() *inverseBuilder {
	b.desc.Unique = true
	return b
}

// Field is used to bind an edge (with a foreign-key) to a field in the
// schema. When not set, a `<edge>_id` field is generated.
//
//	field.Int("owner_id").Optional()
//	edge.From("owner", "User").Ref("pets").Field("owner_id").Unique()
func (b *inverseBuilder) Field(f string) *inverseBuilder {
	b.desc.Field = f
	return b
}

// Required indicates that every instance must reference the other side,
// making the foreign key non-nullable.
func (b *inverseBuilder) Required() *inverseBuilder {
	b.desc.Required = true
	return b
}

// Comment used to put annotations on the schema.
func (b *inverseBuilder) Comment(c string) *inverseBuilder {
	b.desc.Comment = c
	return b
}

// Descriptor implements the modelkit.Edge interface by returning its descriptor.
func (b *inverseBuilder) Descriptor() *Descriptor {
	return b.desc
}

// Clone returns a copy of the descriptor.
func (d *Descriptor) Clone() *Descriptor {
	c := *d
	return &c
}

// M2M reports if the declaration, looked at from its own side, can only
// describe a many-to-many edge (both declarations non-unique).
func (d *Descriptor) M2M(other *Descriptor) bool {
	return !d.Unique && other != nil && !other.Unique
}

// Validate checks the declaration in isolation. Pairing and target checks
// are done by the graph resolver.
func (d *Descriptor) Validate() error {
	var errs []error
	if d.Err != nil {
		errs = append(errs, d.Err)
	}
	if d.Name == "" {
		errs = append(errs, errors.New("missing edge name"))
	}
	if d.Type == "" {
		errs = append(errs, fmt.Errorf("edge %q: missing target entity", d.Name))
	}
	switch {
	case d.Inverse && d.Field != "" && !d.Unique:
		errs = append(errs, fmt.Errorf("edge %q: foreign key field on a non-unique inverse edge", d.Name))
	case !d.Inverse && d.Through != "" && d.Unique:
		errs = append(errs, fmt.Errorf("edge %q: unique edge cannot have a link entity", d.Name))
	}
	return errors.Join(errs...)
}
