// Package migrate compares the schema graph with a persisted snapshot and
// plans the structural changes that bring storage to the registry's shape.
//
// A plan is a list of steps in dependency order:
//
//	drop foreign keys, drop indexes, create tables, add columns, alter
//	columns, add foreign keys, add indexes, drop columns, drop tables
//
// Every step has an inverse, so a plan can be reversed. Renames are never
// inferred: a renamed field is planned as a dropped and an added column.
package migrate

import (
	"slices"
	"strings"

	"github.com/syssam/modelkit/graph"
	"github.com/syssam/modelkit/schema/field"
	"github.com/syssam/modelkit/schema/index"
	"github.com/syssam/modelkit/storage"
)

// Desired returns the canonical storage shape of a validated graph. Tables
// are sorted by name, indexes and foreign keys by name, as introspection
// reports them.
func Desired(g *graph.Graph) *storage.Snapshot {
	s := &storage.Snapshot{}
	for _, t := range g.Types() {
		s.Tables = append(s.Tables, table(t))
	}
	slices.SortFunc(s.Tables, func(a, b *storage.Table) int { return strings.Compare(a.Name, b.Name) })
	return s
}

func table(t *graph.Type) *storage.Table {
	tb := &storage.Table{Name: t.Table}
	for _, f := range t.Fields {
		tb.Columns = append(tb.Columns, column(f))
		var idx *index.Descriptor
		switch {
		case f.PrimaryKey:
			tb.PrimaryKey = append(tb.PrimaryKey, f.Name)
			continue
		case f.Unique:
			idx = &index.Descriptor{Fields: []string{f.Name}, Unique: true}
		case f.Indexed:
			idx = &index.Descriptor{Fields: []string{f.Name}}
		default:
			continue
		}
		tb.Indexes = append(tb.Indexes, &storage.Index{Name: t.IndexName(idx), Columns: idx.Fields, Unique: idx.Unique})
	}
	for _, idx := range t.Indexes {
		name := t.IndexName(idx)
		if _, ok := tb.Index(name); !ok {
			tb.Indexes = append(tb.Indexes, &storage.Index{Name: name, Columns: slices.Clone(idx.Fields), Unique: idx.Unique})
		}
	}
	for _, fk := range t.ForeignKeys {
		fk := *fk
		tb.ForeignKeys = append(tb.ForeignKeys, &fk)
	}
	slices.SortFunc(tb.Indexes, func(a, b *storage.Index) int { return strings.Compare(a.Name, b.Name) })
	slices.SortFunc(tb.ForeignKeys, func(a, b *storage.ForeignKey) int { return strings.Compare(a.Name, b.Name) })
	return tb
}

func column(f *field.Descriptor) *storage.Column {
	c := &storage.Column{
		Name:      f.Name,
		Type:      f.Type,
		Nullable:  f.Nillable,
		Increment: f.StorageGenerated(),
	}
	// Only scalar literals are rendered as storage defaults. Computed
	// defaults and documents are filled in by the session.
	if f.Default != nil && scalar(f.Type) {
		if v, err := f.Normalize(f.Default); err == nil {
			c.Default = v
		}
	}
	return c
}

func scalar(t field.Type) bool {
	switch t {
	case field.TypeBool, field.TypeInt, field.TypeFloat, field.TypeString, field.TypeEnum:
		return true
	}
	return false
}
