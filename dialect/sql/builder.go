package sql

import (
	"strconv"
	"strings"

	"github.com/syssam/modelkit/dialect"
)

// Builder is a SQL statement builder. It quotes identifiers and numbers
// placeholders the way its dialect expects.
type Builder struct {
	sb      strings.Builder
	dialect string
	args    []any
}

// Dialect returns a new builder for the given dialect.
func Dialect(name string) *Builder {
	return &Builder{dialect: name}
}

// Quote quotes an identifier. Embedded quote characters are doubled.
func (b *Builder) Quote(ident string) string {
	q := `"`
	if b.dialect == dialect.MySQL {
		q = "`"
	}
	return q + strings.ReplaceAll(ident, q, q+q) + q
}

// WriteString appends s verbatim.
func (b *Builder) WriteString(s string) *Builder {
	b.sb.WriteString(s)
	return b
}

// Ident appends a quoted identifier.
func (b *Builder) Ident(ident string) *Builder {
	b.sb.WriteString(b.Quote(ident))
	return b
}

// IdentComma appends a comma separated list of quoted identifiers.
func (b *Builder) IdentComma(idents ...string) *Builder {
	for i, ident := range idents {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		b.Ident(ident)
	}
	return b
}

// Arg appends a placeholder bound to v.
func (b *Builder) Arg(v any) *Builder {
	b.args = append(b.args, v)
	if b.dialect == dialect.Postgres {
		b.sb.WriteString("$" + strconv.Itoa(len(b.args)))
	} else {
		b.sb.WriteString("?")
	}
	return b
}

// Args appends a comma separated list of placeholders.
func (b *Builder) Args(vs ...any) *Builder {
	for i, v := range vs {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		b.Arg(v)
	}
	return b
}

// Pad appends a space.
func (b *Builder) Pad() *Builder {
	b.sb.WriteByte(' ')
	return b
}

// Wrap appends the output of fn between parentheses.
func (b *Builder) Wrap(fn func(*Builder)) *Builder {
	b.sb.WriteByte('(')
	fn(b)
	b.sb.WriteByte(')')
	return b
}

// Dialect returns the dialect of the builder.
func (b *Builder) Dialect() string { return b.dialect }

// Query returns the statement and its arguments.
func (b *Builder) Query() (string, []any) {
	return b.sb.String(), b.args
}

// String returns the statement.
func (b *Builder) String() string { return b.sb.String() }
