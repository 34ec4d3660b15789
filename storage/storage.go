// Package storage defines the contracts between the engine and its storage
// collaborators: row-level persistence inside transactions, schema
// introspection and DDL execution.
//
// Implementations guarantee atomicity per transaction and classify their
// failures with the modelkit error kinds: ConstraintError for violated
// constraints, ErrConflictingWrite for lost races and ErrStorageUnavailable
// for connectivity and timeout failures.
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/syssam/modelkit/schema/field"
)

// Row is a mapping of column name to value.
type Row map[string]any

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	c := make(Row, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// Op is a predicate operator.
type Op uint8

// Predicate operators.
const (
	OpEQ Op = iota + 1
	OpIn
	OpIsNull
	OpNotNull
)

// Predicate is a condition on one column.
type Predicate struct {
	Column string
	Op     Op
	Values []any
}

// EQ returns a predicate that checks if the column equals the given value.
func EQ(column string, v any) Predicate {
	return Predicate{Column: column, Op: OpEQ, Values: []any{v}}
}

// In returns a predicate that checks if the column value is in the given list.
func In(column string, vs ...any) Predicate {
	return Predicate{Column: column, Op: OpIn, Values: vs}
}

// IsNull returns a predicate that checks if the column is null.
func IsNull(column string) Predicate {
	return Predicate{Column: column, Op: OpIsNull}
}

// NotNull returns a predicate that checks if the column is not null.
func NotNull(column string) Predicate {
	return Predicate{Column: column, Op: OpNotNull}
}

// String implements fmt.Stringer.
func (p Predicate) String() string {
	switch p.Op {
	case OpEQ:
		return fmt.Sprintf("%s = %v", p.Column, p.Values[0])
	case OpIn:
		return fmt.Sprintf("%s IN %v", p.Column, p.Values)
	case OpIsNull:
		return p.Column + " IS NULL"
	case OpNotNull:
		return p.Column + " IS NOT NULL"
	}
	return "invalid predicate"
}

// Filter is a conjunction of predicates. An empty filter matches every row.
type Filter []Predicate

// Where returns a filter of the given predicates.
func Where(ps ...Predicate) Filter { return Filter(ps) }

// Match reports whether the row satisfies every predicate of the filter.
// Values are compared with field.Equal.
func (f Filter) Match(r Row) bool {
	for _, p := range f {
		v, ok := r[p.Column]
		switch p.Op {
		case OpEQ:
			if !ok || v == nil || p.Values[0] == nil || !field.Equal(normalize(v), normalize(p.Values[0])) {
				return false
			}
		case OpIn:
			if !ok || v == nil || !containsValue(p.Values, v) {
				return false
			}
		case OpIsNull:
			if ok && v != nil {
				return false
			}
		case OpNotNull:
			if !ok || v == nil {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// String implements fmt.Stringer.
func (f Filter) String() string {
	parts := make([]string, len(f))
	for i, p := range f {
		parts[i] = p.String()
	}
	return strings.Join(parts, " AND ")
}

func containsValue(vs []any, v any) bool {
	nv := normalize(v)
	for _, x := range vs {
		if x != nil && field.Equal(normalize(x), nv) {
			return true
		}
	}
	return false
}

// normalize widens integers so that values of different integer types
// compare equal.
func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int16:
		return int64(x)
	case int8:
		return int64(x)
	case uint32:
		return int64(x)
	case uint16:
		return int64(x)
	case uint8:
		return int64(x)
	case float32:
		return float64(x)
	}
	return v
}

// Query selects rows of one table.
type Query struct {
	Table   string
	Columns []string // all columns when empty.
	Where   Filter
	OrderBy []string
	Limit   int
	// ForUpdate locks the selected rows until the end of the transaction.
	ForUpdate bool
}

// Reader reads rows.
type Reader interface {
	Select(ctx context.Context, q *Query) ([]Row, error)
}

// Writer writes rows. Update and Delete return the number of affected rows.
type Writer interface {
	// Insert inserts a row and returns the value of the generated column,
	// or nil when generated is empty.
	Insert(ctx context.Context, table string, row Row, generated string) (any, error)
	Update(ctx context.Context, table string, set Row, where Filter) (int64, error)
	Delete(ctx context.Context, table string, where Filter) (int64, error)
}

// Tx is a storage transaction.
type Tx interface {
	Reader
	Writer
	Commit() error
	Rollback() error
}

// Conn is a dedicated storage connection. It is used by a single session.
type Conn interface {
	Reader
	// Begin starts a transaction on the connection.
	Begin(ctx context.Context) (Tx, error)
	// Close releases the connection.
	Close() error
}

// Store is a storage backend.
type Store interface {
	// Conn acquires a dedicated connection.
	Conn(ctx context.Context) (Conn, error)
	// Dialect returns the dialect name of the store.
	Dialect() string
	Close() error
}

// Migrator introspects and changes the persisted schema.
type Migrator interface {
	// Inspect captures the current shape of the persisted schema.
	Inspect(ctx context.Context) (*Snapshot, error)
	// Apply executes the changes in one transaction.
	Apply(ctx context.Context, changes []*Change) error
}
