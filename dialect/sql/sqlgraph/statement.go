package sqlgraph

import (
	"slices"

	"github.com/syssam/modelkit/dialect"
	"github.com/syssam/modelkit/dialect/sql"
	"github.com/syssam/modelkit/storage"
)

// Select renders a query.
func Select(d string, q *storage.Query) (string, []any) {
	b := sql.Dialect(d)
	b.WriteString("SELECT ")
	if len(q.Columns) == 0 {
		b.WriteString("*")
	} else {
		b.IdentComma(q.Columns...)
	}
	b.WriteString(" FROM ").Ident(q.Table)
	Where(b, q.Where)
	if len(q.OrderBy) > 0 {
		b.WriteString(" ORDER BY ").IdentComma(q.OrderBy...)
	}
	if q.Limit > 0 {
		b.WriteString(" LIMIT ").Arg(q.Limit)
	}
	// SQLite serializes writers on the database file; there is no row lock.
	if q.ForUpdate && d != dialect.SQLite {
		b.WriteString(" FOR UPDATE")
	}
	return b.Query()
}

// Insert renders an insert of one row. If returning is set, the value of the
// column is selected back on dialects that support RETURNING.
func Insert(d, table string, row storage.Row, returning string) (string, []any) {
	b := sql.Dialect(d)
	b.WriteString("INSERT INTO ").Ident(table)
	columns := sortedColumns(row)
	switch {
	case len(columns) > 0:
		values := make([]any, len(columns))
		for i, c := range columns {
			values[i] = row[c]
		}
		b.Pad().Wrap(func(b *sql.Builder) { b.IdentComma(columns...) })
		b.WriteString(" VALUES ").Wrap(func(b *sql.Builder) { b.Args(values...) })
	case d == dialect.MySQL:
		b.WriteString(" () VALUES ()")
	default:
		b.WriteString(" DEFAULT VALUES")
	}
	if returning != "" && Returning(d) {
		b.WriteString(" RETURNING ").Ident(returning)
	}
	return b.Query()
}

// Returning reports whether the dialect supports INSERT ... RETURNING.
func Returning(d string) bool {
	return d == dialect.Postgres || d == dialect.SQLite
}

// Update renders an update of the rows matching where. When where holds the
// original values of the changed columns, the statement is a compare-and-swap:
// it affects no row if a concurrent write changed them.
func Update(d, table string, set storage.Row, where storage.Filter) (string, []any) {
	b := sql.Dialect(d)
	b.WriteString("UPDATE ").Ident(table).WriteString(" SET ")
	for i, c := range sortedColumns(set) {
		if i > 0 {
			b.WriteString(", ")
		}
		b.Ident(c).WriteString(" = ").Arg(set[c])
	}
	Where(b, where)
	return b.Query()
}

// Delete renders a delete of the rows matching where. A filter on a foreign
// key column deletes every dependent in one statement.
func Delete(d, table string, where storage.Filter) (string, []any) {
	b := sql.Dialect(d)
	b.WriteString("DELETE FROM ").Ident(table)
	Where(b, where)
	return b.Query()
}

// Where appends the WHERE clause of a filter, if any.
func Where(b *sql.Builder, f storage.Filter) {
	for i, p := range f {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		switch p.Op {
		case storage.OpEQ:
			// NULL never compares equal, use IsNull.
			if p.Values[0] == nil {
				b.WriteString("1 = 0")
				continue
			}
			b.Ident(p.Column).WriteString(" = ").Arg(p.Values[0])
		case storage.OpIn:
			if len(p.Values) == 0 {
				b.WriteString("1 = 0")
				continue
			}
			b.Ident(p.Column).WriteString(" IN ").Wrap(func(b *sql.Builder) { b.Args(p.Values...) })
		case storage.OpIsNull:
			b.Ident(p.Column).WriteString(" IS NULL")
		case storage.OpNotNull:
			b.Ident(p.Column).WriteString(" IS NOT NULL")
		}
	}
}

func sortedColumns(r storage.Row) []string {
	columns := make([]string, 0, len(r))
	for c := range r {
		columns = append(columns, c)
	}
	slices.Sort(columns)
	return columns
}
