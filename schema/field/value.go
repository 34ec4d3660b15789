package field

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/expr-lang/expr"
	"github.com/google/uuid"
)

// ErrNull is returned when a NULL value is given to a non-nullable field.
var ErrNull = errors.New("null value for non-nullable field")

// timeLayouts are the textual time formats accepted for time fields.
// The second one is what SQLite drivers write for time.Time values.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	time.DateOnly,
}

// Normalize converts v to the canonical Go representation of the field
// type: int64, float64, string, bool, []byte, time.Time, uuid.UUID or, for
// JSON, the value itself.
func (d *Descriptor) Normalize(v any) (any, error) {
	if v == nil {
		if d.Nillable {
			return nil, nil
		}
		return nil, ErrNull
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return d.Normalize(nil)
		}
		if d.Type != TypeJSON {
			return d.Normalize(rv.Elem().Interface())
		}
	}
	switch d.Type {
	case TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
		if i, ok := asInt(v); ok && (i == 0 || i == 1) {
			return i == 1, nil
		}
	case TypeInt:
		if i, ok := asInt(v); ok {
			return i, nil
		}
	case TypeFloat:
		if f, ok := asFloat(v); ok {
			return f, nil
		}
	case TypeString, TypeEnum:
		switch s := v.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		}
	case TypeBytes:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			return []byte(b), nil
		}
	case TypeTime:
		switch t := v.(type) {
		case time.Time:
			return t, nil
		case string:
			for _, layout := range timeLayouts {
				if pt, err := time.Parse(layout, t); err == nil {
					return pt, nil
				}
			}
			return nil, fmt.Errorf("parse time %q: unknown layout", t)
		}
	case TypeUUID:
		switch u := v.(type) {
		case uuid.UUID:
			return u, nil
		case [16]byte:
			return uuid.UUID(u), nil
		case string:
			return uuid.Parse(u)
		case []byte:
			if len(u) == 16 {
				return uuid.FromBytes(u)
			}
			return uuid.ParseBytes(u)
		}
	case TypeJSON:
		if raw, ok := v.(json.RawMessage); ok {
			var doc any
			if err := json.Unmarshal(raw, &doc); err != nil {
				return nil, err
			}
			return doc, nil
		}
		if _, err := json.Marshal(v); err != nil {
			return nil, fmt.Errorf("value is not JSON encodable: %w", err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("invalid value type %T for %s field", v, d.Type)
}

// ValidateValue checks a normalized value against the field bounds,
// enum values and check expression.
func (d *Descriptor) ValidateValue(v any) error {
	if v == nil {
		if d.Nillable {
			return nil
		}
		return ErrNull
	}
	switch x := v.(type) {
	case int64:
		if err := d.checkRange(float64(x)); err != nil {
			return err
		}
	case float64:
		if err := d.checkRange(x); err != nil {
			return err
		}
	case string:
		if err := d.checkLen(utf8.RuneCountInString(x)); err != nil {
			return err
		}
		if d.Type == TypeEnum && !slices.Contains(d.Enums, x) {
			return fmt.Errorf("value %q is not one of %v", x, d.Enums)
		}
	case []byte:
		if err := d.checkLen(len(x)); err != nil {
			return err
		}
	}
	if d.Check == "" {
		return nil
	}
	if d.program == nil {
		p, err := expr.Compile(d.Check, expr.Env(map[string]any{"value": zero(d.Type)}), expr.AsBool())
		if err != nil {
			return fmt.Errorf("check %q: %w", d.Check, err)
		}
		d.program = p
	}
	out, err := expr.Run(d.program, map[string]any{"value": v})
	if err != nil {
		return fmt.Errorf("check %q: %w", d.Check, err)
	}
	if ok, _ := out.(bool); !ok {
		return fmt.Errorf("value %v does not satisfy %q", v, d.Check)
	}
	return nil
}

func (d *Descriptor) checkRange(f float64) error {
	if d.Min != nil && f < *d.Min {
		return fmt.Errorf("value %v is less than the minimum %v", f, *d.Min)
	}
	if d.Max != nil && f > *d.Max {
		return fmt.Errorf("value %v is greater than the maximum %v", f, *d.Max)
	}
	return nil
}

func (d *Descriptor) checkLen(n int) error {
	if d.MinLen != nil && n < *d.MinLen {
		return fmt.Errorf("length %d is less than the minimum %d", n, *d.MinLen)
	}
	if d.MaxLen != nil && n > *d.MaxLen {
		return fmt.Errorf("length %d is greater than the maximum %d", n, *d.MaxLen)
	}
	return nil
}

// Equal reports whether two normalized values are equal.
func Equal(a, b any) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	}
	return reflect.DeepEqual(a, b)
}

func asInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return int64(x), uint64(x) <= math.MaxInt64
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return int64(x), x <= math.MaxInt64
	case float32:
		return int64(x), float32(int64(x)) == x
	case float64:
		return int64(x), float64(int64(x)) == x
	case json.Number:
		i, err := x.Int64()
		return i, err == nil
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	if i, ok := asInt(v); ok {
		return float64(i), true
	}
	return 0, false
}
