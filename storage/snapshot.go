package storage

import (
	"fmt"
	"slices"

	"github.com/syssam/modelkit/schema/field"
)

// Snapshot is the shape of a persisted schema. It is captured on demand and
// never cached across schema changes.
type Snapshot struct {
	// Dialect of the store the snapshot was taken from.
	Dialect string
	Tables  []*Table
}

// Table returns the table with the given name.
func (s *Snapshot) Table(name string) (*Table, bool) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{Dialect: s.Dialect, Tables: make([]*Table, len(s.Tables))}
	for i, t := range s.Tables {
		c.Tables[i] = t.Clone()
	}
	return c
}

// Table describes a table.
type Table struct {
	Name        string
	Columns     []*Column
	PrimaryKey  []string
	ForeignKeys []*ForeignKey
	Indexes     []*Index
}

// Column returns the column with the given name.
func (t *Table) Column(name string) (*Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// ForeignKey returns the foreign key with the given name.
func (t *Table) ForeignKey(name string) (*ForeignKey, bool) {
	for _, fk := range t.ForeignKeys {
		if fk.Name == name {
			return fk, true
		}
	}
	return nil, false
}

// Index returns the index with the given name.
func (t *Table) Index(name string) (*Index, bool) {
	for _, idx := range t.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return nil, false
}

// References returns the names of the tables referenced by the table's
// foreign keys, excluding itself.
func (t *Table) References() []string {
	var refs []string
	for _, fk := range t.ForeignKeys {
		if fk.RefTable != t.Name && !slices.Contains(refs, fk.RefTable) {
			refs = append(refs, fk.RefTable)
		}
	}
	return refs
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	c := &Table{Name: t.Name, PrimaryKey: slices.Clone(t.PrimaryKey)}
	for _, col := range t.Columns {
		c.Columns = append(c.Columns, col.Clone())
	}
	for _, fk := range t.ForeignKeys {
		fk := *fk
		c.ForeignKeys = append(c.ForeignKeys, &fk)
	}
	for _, idx := range t.Indexes {
		c.Indexes = append(c.Indexes, idx.Clone())
	}
	return c
}

// Column describes a table column.
type Column struct {
	Name     string
	Type     field.Type
	Nullable bool
	// Default is the literal default value of the column, if any.
	Default any
	// Increment is set on integer primary keys assigned by storage.
	Increment bool
	// Raw is the dialect type reported by introspection, empty for stores
	// that keep the canonical type.
	Raw string
}

// Clone returns a copy of the column.
func (c *Column) Clone() *Column {
	cc := *c
	return &cc
}

// Action is a referential action.
type Action string

// Referential actions.
const (
	NoAction Action = "NO ACTION"
	Restrict Action = "RESTRICT"
	Cascade  Action = "CASCADE"
	SetNull  Action = "SET NULL"
)

// ForeignKey describes a single-column foreign key.
type ForeignKey struct {
	Name      string
	Column    string
	RefTable  string
	RefColumn string
	OnDelete  Action
}

// String implements fmt.Stringer.
func (fk *ForeignKey) String() string {
	return fmt.Sprintf("%s(%s) -> %s(%s) ON DELETE %s", fk.Name, fk.Column, fk.RefTable, fk.RefColumn, fk.OnDelete)
}

// Index describes an index.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// Clone returns a deep copy of the index.
func (i *Index) Clone() *Index {
	return &Index{Name: i.Name, Columns: slices.Clone(i.Columns), Unique: i.Unique}
}

// ChangeKind is the kind of a schema change.
type ChangeKind uint8

// Schema change kinds.
const (
	CreateTable ChangeKind = iota + 1
	DropTable
	AddColumn
	DropColumn
	AlterColumn
	AddForeignKey
	DropForeignKey
	AddIndex
	DropIndex
)

var changeNames = [...]string{
	CreateTable:    "CreateTable",
	DropTable:      "DropTable",
	AddColumn:      "AddColumn",
	DropColumn:     "DropColumn",
	AlterColumn:    "AlterColumn",
	AddForeignKey:  "AddForeignKey",
	DropForeignKey: "DropForeignKey",
	AddIndex:       "AddIndex",
	DropIndex:      "DropIndex",
}

// String returns the change kind name.
func (k ChangeKind) String() string {
	if k >= CreateTable && int(k) < len(changeNames) {
		return changeNames[k]
	}
	return "Invalid"
}

// Change is one structural change of a table. Table is the full table for
// CreateTable and DropTable; for the other kinds only its name is relevant
// and the changed element is set.
type Change struct {
	Kind       ChangeKind
	Table      *Table
	Column     *Column // AddColumn, DropColumn, AlterColumn (new shape).
	From       *Column // AlterColumn (old shape).
	ForeignKey *ForeignKey
	Index      *Index
	// Backfill is the value written into existing rows when a non-nullable
	// column without a default is added.
	Backfill any
}

// String implements fmt.Stringer.
func (c *Change) String() string {
	switch c.Kind {
	case CreateTable, DropTable:
		return fmt.Sprintf("%s %s", c.Kind, c.Table.Name)
	case AddColumn, DropColumn, AlterColumn:
		return fmt.Sprintf("%s %s.%s", c.Kind, c.Table.Name, c.Column.Name)
	case AddForeignKey, DropForeignKey:
		return fmt.Sprintf("%s %s.%s", c.Kind, c.Table.Name, c.ForeignKey.Name)
	case AddIndex, DropIndex:
		return fmt.Sprintf("%s %s.%s", c.Kind, c.Table.Name, c.Index.Name)
	}
	return c.Kind.String()
}
