package memstore

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/syssam/modelkit/schema/field"
	"github.com/syssam/modelkit/storage"
)

var (
	errClosed = errors.New("memstore: store is closed")
	errTxDone = errors.New("memstore: transaction has already been committed or rolled back")
)

// keyOf returns the primary key of a row as a map key.
func keyOf(def *storage.Table, row storage.Row, order uint64) (string, error) {
	if len(def.PrimaryKey) == 0 {
		return fmt.Sprintf("#%d", order), nil
	}
	var b strings.Builder
	for i, c := range def.PrimaryKey {
		v := row[c]
		if v == nil {
			return "", fmt.Errorf("NULL value in primary key column %s.%s", def.Name, c)
		}
		if i > 0 {
			b.WriteByte(0)
		}
		fmt.Fprintf(&b, "%v", v)
	}
	return b.String(), nil
}

// coerce converts a value to the canonical representation of the column.
func coerce(c *storage.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	d := &field.Descriptor{Name: c.Name, Type: c.Type, Nillable: true}
	nv, err := d.Normalize(v)
	if err != nil {
		return nil, fmt.Errorf("column %s: %w", c.Name, err)
	}
	return nv, nil
}

// compare orders two normalized values. NULL sorts first.
func compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch x := a.(type) {
	case int64:
		if y, ok := b.(int64); ok {
			return cmpOrdered(x, y)
		}
	case float64:
		if y, ok := b.(float64); ok {
			return cmpOrdered(x, y)
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			}
			return 1
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	case uuid.UUID:
		if y, ok := b.(uuid.UUID); ok {
			return bytes.Compare(x[:], y[:])
		}
	case []byte:
		if y, ok := b.([]byte); ok {
			return bytes.Compare(x, y)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func cmpOrdered[T int64 | float64](x, y T) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

// sameValues reports whether the rows hold equal non-NULL values in all
// the given columns.
func sameValues(a, b storage.Row, columns []string) bool {
	for _, c := range columns {
		if a[c] == nil || b[c] == nil || !field.Equal(a[c], b[c]) {
			return false
		}
	}
	return true
}
