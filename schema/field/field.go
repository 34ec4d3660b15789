package field

import (
	"errors"
	"fmt"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/google/uuid"
)

// A Descriptor for field configuration.
type Descriptor struct {
	Name          string     // field name.
	Type          Type       // field type.
	Optional      bool       // may be omitted on create.
	Nillable      bool       // NULL is a valid stored value.
	Default       any        // literal default value.
	DefaultFunc   func() any // lazily computed default value.
	UpdateDefault func() any // value computed on every update.
	Unique        bool       // unique constraint.
	Indexed       bool       // non-unique index.
	Immutable     bool       // cannot be changed after creation.
	Sensitive     bool       // never part of an output view.
	Generated     bool       // assigned by the server, never by the caller.
	PrimaryKey    bool       // part of the primary key.
	Min, Max      *float64   // numeric bounds.
	MinLen        *int       // length bounds for strings and bytes.
	MaxLen        *int
	Enums         []string // enum values.
	Check         string   // boolean expression over `value`.
	Comment       string   // field comment.
	Err           error

	program *vm.Program
}

// Builder configures a field descriptor.
type Builder struct {
	desc *Descriptor
}

func newBuilder(name string, t Type) *Builder {
	return &Builder{desc: &Descriptor{Name: name, Type: t}}
}

// Int returns a new field builder for an integer field (stored as int64).
func Int(name string) *Builder { return newBuilder(name, TypeInt) }

// Float returns a new field builder for a float64 field.
func Float(name string) *Builder { return newBuilder(name, TypeFloat) }

// String returns a new field builder for a string field.
func String(name string) *Builder { return newBuilder(name, TypeString) }

// Bool returns a new field builder for a boolean field.
func Bool(name string) *Builder { return newBuilder(name, TypeBool) }

// Bytes returns a new field builder for a binary field.
func Bytes(name string) *Builder { return newBuilder(name, TypeBytes) }

// Time returns a new field builder for a time.Time field.
func Time(name string) *Builder { return newBuilder(name, TypeTime) }

// UUID returns a new field builder for a uuid.UUID field.
func UUID(name string) *Builder { return newBuilder(name, TypeUUID) }

// JSON returns a new field builder for a JSON document field.
func JSON(name string) *Builder { return newBuilder(name, TypeJSON) }

// Enum returns a new field builder for a string field restricted to
// the values given to Values.
func Enum(name string) *Builder { return newBuilder(name, TypeEnum) }

// Of returns a builder of the given type. It is used by declaration loaders.
func Of(name string, t Type) *Builder { return newBuilder(name, t) }

// Optional indicates that this field can be omitted on create.
func (b *Builder) Optional() *Builder {
	b.desc.Optional = true
	return b
}

// Nillable indicates that this field accepts NULL and may be omitted on create.
func (b *Builder) Nillable() *Builder {
	b.desc.Nillable = true
	b.desc.Optional = true
	return b
}

// Default sets the literal default value of the field.
func (b *Builder) Default(v any) *Builder {
	b.desc.Default = v
	return b
}

// DefaultFunc sets a function computing the default value on create.
func (b *Builder) DefaultFunc(fn func() any) *Builder {
	b.desc.DefaultFunc = fn
	return b
}

// UpdateDefault sets a function computing the field value on every update.
func (b *Builder) UpdateDefault(fn func() any) *Builder {
	b.desc.UpdateDefault = fn
	return b
}

// Unique makes the field unique within all rows of the entity.
func (b *Builder) Unique() *Builder {
	b.desc.Unique = true
	return b
}

// Index creates a non-unique index on the field.
func (b *Builder) Index() *Builder {
	b.desc.Indexed = true
	return b
}

// Immutable indicates that this field cannot be updated.
func (b *Builder) Immutable() *Builder {
	b.desc.Immutable = true
	return b
}

// Sensitive fields are never part of the public output view.
func (b *Builder) Sensitive() *Builder {
	b.desc.Sensitive = true
	return b
}

// Generated marks the field as server-generated. Integer fields are assigned
// by storage, UUID fields default to uuid.New and other types require a
// DefaultFunc.
func (b *Builder) Generated() *Builder {
	b.desc.Generated = true
	return b
}

// PrimaryKey marks the field as (part of) the primary key. A primary key
// is immutable.
func (b *Builder) PrimaryKey() *Builder {
	b.desc.PrimaryKey = true
	b.desc.Immutable = true
	return b
}

// Min adds a minimum value bound for numeric fields.
func (b *Builder) Min(v float64) *Builder {
	b.desc.Min = &v
	return b
}

// Max adds a maximum value bound for numeric fields.
func (b *Builder) Max(v float64) *Builder {
	b.desc.Max = &v
	return b
}

// Range adds both numeric bounds.
func (b *Builder) Range(lo, hi float64) *Builder {
	return b.Min(lo).Max(hi)
}

// Positive adds a minimum value bound of 1 for numeric fields.
func (b *Builder) Positive() *Builder {
	return b.Min(1)
}

// MinLen adds a length validator for string and bytes fields.
func (b *Builder) MinLen(n int) *Builder {
	b.desc.MinLen = &n
	return b
}

// MaxLen adds a length validator for string and bytes fields.
func (b *Builder) MaxLen(n int) *Builder {
	b.desc.MaxLen = &n
	return b
}

// NotEmpty adds a length validator rejecting empty values.
func (b *Builder) NotEmpty() *Builder {
	return b.MinLen(1)
}

// Values sets the allowed values of an enum field.
func (b *Builder) Values(vs ...string) *Builder {
	b.desc.Enums = append(b.desc.Enums, vs...)
	return b
}

// Check adds a boolean expression that every value must satisfy.
// The value is bound to the `value` variable, for example "value % 2 == 0".
func (b *Builder) Check(src string) *Builder {
	b.desc.Check = src
	return b
}

// Comment sets the comment of the field.
func (b *Builder) Comment(c string) *Builder {
	b.desc.Comment = c
	return b
}

// Descriptor implements the modelkit.Field interface by returning its descriptor.
func (b *Builder) Descriptor() *Descriptor {
	if b.desc.Generated && b.desc.Type == TypeUUID && b.desc.DefaultFunc == nil {
		b.desc.DefaultFunc = func() any { return uuid.New() }
	}
	return b.desc
}

// HasDefault reports if the field has a literal or computed default.
func (d *Descriptor) HasDefault() bool {
	return d.Default != nil || d.DefaultFunc != nil
}

// DefaultValue returns the default value of the field, calling the
// default function if one is set.
func (d *Descriptor) DefaultValue() (any, bool) {
	switch {
	case d.DefaultFunc != nil:
		v, err := d.Normalize(d.DefaultFunc())
		if err != nil {
			return nil, false
		}
		return v, true
	case d.Default != nil:
		v, err := d.Normalize(d.Default)
		if err != nil {
			return nil, false
		}
		return v, true
	}
	return nil, false
}

// StorageGenerated reports if the value of the field is assigned by storage
// (auto-increment) rather than computed in process.
func (d *Descriptor) StorageGenerated() bool {
	return d.Generated && d.DefaultFunc == nil && d.Type == TypeInt
}

// Clone returns a deep copy of the descriptor.
func (d *Descriptor) Clone() *Descriptor {
	c := *d
	c.Enums = append([]string(nil), d.Enums...)
	if d.Min != nil {
		v := *d.Min
		c.Min = &v
	}
	if d.Max != nil {
		v := *d.Max
		c.Max = &v
	}
	if d.MinLen != nil {
		v := *d.MinLen
		c.MinLen = &v
	}
	if d.MaxLen != nil {
		v := *d.MaxLen
		c.MaxLen = &v
	}
	return &c
}

// Validate reports whether the constraints of the field are consistent.
// It also compiles the check expression, if any.
func (d *Descriptor) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}
	if d.Err != nil {
		errs = append(errs, d.Err)
	}
	if d.Name == "" {
		add("missing field name")
	}
	if !d.Type.Valid() {
		add("invalid type %q", d.Type)
	}
	if d.Default != nil && d.DefaultFunc != nil {
		add("both a default value and a default function are set")
	}
	if d.Optional && !d.Nillable && !d.HasDefault() && !d.Generated {
		add("optional non-nullable field requires a default value or a default function")
	}
	if d.PrimaryKey && d.Nillable {
		add("primary key cannot be nullable")
	}
	if d.PrimaryKey && d.Sensitive {
		add("primary key cannot be sensitive")
	}
	if d.Generated && d.DefaultFunc == nil && d.Type != TypeInt && d.Type != TypeUUID {
		add("generated %s field requires a default function", d.Type)
	}
	if (d.Min != nil || d.Max != nil) && !d.Type.Numeric() {
		add("numeric bounds on %s field", d.Type)
	}
	if d.Min != nil && d.Max != nil && *d.Min > *d.Max {
		add("min %v is greater than max %v", *d.Min, *d.Max)
	}
	if (d.MinLen != nil || d.MaxLen != nil) && !d.Type.Textual() {
		add("length bounds on %s field", d.Type)
	}
	if d.MinLen != nil && *d.MinLen < 0 {
		add("negative min length %d", *d.MinLen)
	}
	if d.MinLen != nil && d.MaxLen != nil && *d.MinLen > *d.MaxLen {
		add("min length %d is greater than max length %d", *d.MinLen, *d.MaxLen)
	}
	if d.Type == TypeEnum {
		if len(d.Enums) == 0 {
			add("enum field without values")
		}
		seen := make(map[string]struct{}, len(d.Enums))
		for _, v := range d.Enums {
			if _, ok := seen[v]; ok {
				add("duplicate enum value %q", v)
			}
			seen[v] = struct{}{}
		}
	} else if len(d.Enums) > 0 {
		add("values on non-enum %s field", d.Type)
	}
	if d.Check != "" && d.Type.Valid() {
		p, err := expr.Compile(d.Check, expr.Env(map[string]any{"value": zero(d.Type)}), expr.AsBool())
		if err != nil {
			add("check %q: %v", d.Check, err)
		}
		d.program = p
	}
	if len(errs) == 0 && d.Default != nil {
		v, err := d.Normalize(d.Default)
		if err == nil {
			err = d.ValidateValue(v)
		}
		if err != nil {
			add("default value: %v", err)
		}
	}
	return errors.Join(errs...)
}

// zero returns the representative value of a type used to type-check
// check expressions.
func zero(t Type) any {
	switch t {
	case TypeBool:
		return false
	case TypeInt:
		return int64(0)
	case TypeFloat:
		return float64(0)
	case TypeString, TypeEnum:
		return ""
	case TypeBytes:
		return []byte(nil)
	case TypeTime:
		return time.Time{}
	case TypeUUID:
		return uuid.UUID{}
	default:
		return nil
	}
}
