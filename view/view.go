// Package view derives the boundary projections of an entity: the creation
// input, the public output and the partial update.
//
// Views are pure functions of the field descriptors. They are recomputed on
// every call and carry no state of their own.
package view

import (
	"errors"
	"fmt"
	"slices"

	"github.com/syssam/modelkit"
	"github.com/syssam/modelkit/schema/field"
)

// Kind of a view.
type Kind uint8

// List of view kinds.
const (
	Create Kind = iota + 1
	Public
	Update
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case Create:
		return "create"
	case Public:
		return "public"
	case Update:
		return "update"
	default:
		return "invalid"
	}
}

// Kinds returns all view kinds.
func Kinds() []Kind { return []Kind{Create, Public, Update} }

// Field of a view.
type Field struct {
	Name     string
	Type     field.Type
	Required bool // must be present in the input.
	Nullable bool // null is a valid value.
	// HasDefault reports if an absent field is filled on create.
	HasDefault bool
	// Default is the literal default value, if any.
	Default any
	Desc    *field.Descriptor
}

// FieldSet is the ordered field set of a view.
type FieldSet struct {
	Entity string
	Kind   Kind
	Fields []Field
}

// Derive returns the view of the given kind over the fields of an entity.
//
//   - Create excludes server-generated fields. A field is required unless it
//     is optional or has a default.
//   - Public includes every field except sensitive ones.
//   - Update is the create view without immutable fields, where every field
//     is optional and no field has a default.
func Derive(entity string, fields []*field.Descriptor, kind Kind) FieldSet {
	fs := FieldSet{Entity: entity, Kind: kind}
	for _, fd := range fields {
		f := Field{Name: fd.Name, Type: fd.Type, Nullable: fd.Nillable, Desc: fd}
		switch kind {
		case Create:
			if fd.Generated {
				continue
			}
			f.Required = !fd.Optional && !fd.HasDefault()
			f.HasDefault = fd.HasDefault()
			f.Default = fd.Default
		case Public:
			if fd.Sensitive {
				continue
			}
			f.Required = true
		case Update:
			if fd.Generated || fd.Immutable {
				continue
			}
		default:
			continue
		}
		fs.Fields = append(fs.Fields, f)
	}
	return fs
}

// Names returns the field names of the view, in order.
func (fs FieldSet) Names() []string {
	names := make([]string, len(fs.Fields))
	for i, f := range fs.Fields {
		names[i] = f.Name
	}
	return names
}

// Field returns the view field with the given name.
func (fs FieldSet) Field(name string) (Field, bool) {
	for _, f := range fs.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Bind validates an input body against the view and returns its normalized
// values. Unknown fields are rejected. For Create, required fields must be
// present; absent fields stay absent so that defaults apply later. Errors are
// *modelkit.ValidationError values.
func (fs FieldSet) Bind(input map[string]any) (map[string]any, error) {
	var (
		errs []error
		out  = make(map[string]any, len(input))
	)
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		f, ok := fs.Field(k)
		if !ok {
			errs = append(errs, modelkit.NewValidationError(k, fmt.Errorf("unknown field for %s %s view", fs.Entity, fs.Kind)))
			continue
		}
		v, err := f.Desc.Normalize(input[k])
		if err == nil {
			err = f.Desc.ValidateValue(v)
		}
		if err != nil {
			errs = append(errs, modelkit.NewValidationError(k, err))
			continue
		}
		out[k] = v
	}
	if fs.Kind == Create {
		for _, f := range fs.Fields {
			if _, ok := input[f.Name]; f.Required && !ok {
				errs = append(errs, modelkit.NewValidationError(f.Name, errors.New("missing required field")))
			}
		}
	}
	if err := modelkit.NewAggregateError(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

// Project shapes stored values for output. Only the view's fields are kept;
// absent values are emitted as nil.
func (fs FieldSet) Project(values map[string]any) map[string]any {
	out := make(map[string]any, len(fs.Fields))
	for _, f := range fs.Fields {
		out[f.Name] = values[f.Name]
	}
	return out
}
