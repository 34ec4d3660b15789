package memstore

import (
	"errors"
	"fmt"
	"slices"

	"github.com/syssam/modelkit"
	"github.com/syssam/modelkit/storage"
)

// applyChange applies one change to a working copy of the store tables.
// Table definitions are copied before they are modified, open transactions
// keep the definitions they started with.
func (s *Store) applyChange(tables map[string]*table, c *storage.Change) error {
	if c.Kind == storage.CreateTable {
		if _, ok := tables[c.Table.Name]; ok {
			return errors.New("table already exists")
		}
		def := c.Table.Clone()
		for _, fk := range def.ForeignKeys {
			if _, ok := tables[fk.RefTable]; !ok && fk.RefTable != def.Name {
				return fmt.Errorf("foreign key %s references unknown table %q", fk.Name, fk.RefTable)
			}
		}
		tables[def.Name] = &table{def: def, rows: make(map[string]*record)}
		return nil
	}
	t, ok := tables[c.Table.Name]
	if !ok {
		return fmt.Errorf("unknown table %q", c.Table.Name)
	}
	def := t.def.Clone()
	switch c.Kind {
	case storage.DropTable:
		for name, other := range tables {
			if name == def.Name {
				continue
			}
			for _, fk := range other.def.ForeignKeys {
				if fk.RefTable == def.Name {
					return fmt.Errorf("table is referenced by %s.%s", name, fk.Name)
				}
			}
		}
		delete(tables, def.Name)
		return nil
	case storage.AddColumn:
		if _, ok := def.Column(c.Column.Name); ok {
			return fmt.Errorf("column %q already exists", c.Column.Name)
		}
		col := c.Column.Clone()
		fill := col.Default
		if fill == nil {
			fill = c.Backfill
		}
		v, err := coerce(col, fill)
		if err != nil {
			return err
		}
		if v == nil && !col.Nullable && len(t.rows) > 0 {
			return modelkit.NewConstraintError(fmt.Sprintf("NOT NULL constraint failed: %s.%s", def.Name, col.Name), nil)
		}
		def.Columns = append(def.Columns, col)
		t.rewrite(func(r storage.Row) error {
			r[col.Name] = v
			return nil
		})
	case storage.DropColumn:
		name := c.Column.Name
		if _, ok := def.Column(name); !ok {
			return fmt.Errorf("unknown column %q", name)
		}
		if slices.Contains(def.PrimaryKey, name) {
			return fmt.Errorf("column %q is part of the primary key", name)
		}
		for _, fk := range def.ForeignKeys {
			if fk.Column == name {
				return fmt.Errorf("column %q is used by foreign key %s", name, fk.Name)
			}
		}
		for _, idx := range def.Indexes {
			if slices.Contains(idx.Columns, name) {
				return fmt.Errorf("column %q is used by index %s", name, idx.Name)
			}
		}
		def.Columns = slices.DeleteFunc(def.Columns, func(col *storage.Column) bool { return col.Name == name })
		t.rewrite(func(r storage.Row) error {
			delete(r, name)
			return nil
		})
	case storage.AlterColumn:
		i := slices.IndexFunc(def.Columns, func(col *storage.Column) bool { return col.Name == c.Column.Name })
		if i < 0 {
			return fmt.Errorf("unknown column %q", c.Column.Name)
		}
		col := c.Column.Clone()
		def.Columns[i] = col
		if err := t.rewrite(func(r storage.Row) error {
			v, err := coerce(col, r[col.Name])
			if err != nil {
				return err
			}
			if v == nil && !col.Nullable {
				return modelkit.NewConstraintError(fmt.Sprintf("NOT NULL constraint failed: %s.%s", def.Name, col.Name), nil)
			}
			r[col.Name] = v
			return nil
		}); err != nil {
			return err
		}
	case storage.AddForeignKey:
		fk := *c.ForeignKey
		if _, ok := def.ForeignKey(fk.Name); ok {
			return fmt.Errorf("foreign key %q already exists", fk.Name)
		}
		if _, ok := def.Column(fk.Column); !ok {
			return fmt.Errorf("unknown column %q", fk.Column)
		}
		parent, ok := tables[fk.RefTable]
		if !ok {
			return fmt.Errorf("unknown referenced table %q", fk.RefTable)
		}
		if fk.RefTable == def.Name {
			parent = t
		}
		for _, rec := range t.rows {
			if v := rec.row[fk.Column]; v != nil {
				if _, prec := lookup(parent, fk.RefColumn, v); prec == nil {
					return modelkit.NewConstraintError(fmt.Sprintf("FOREIGN KEY constraint failed: %s", &fk), nil)
				}
			}
		}
		def.ForeignKeys = append(def.ForeignKeys, &fk)
	case storage.DropForeignKey:
		if _, ok := def.ForeignKey(c.ForeignKey.Name); !ok {
			return fmt.Errorf("unknown foreign key %q", c.ForeignKey.Name)
		}
		def.ForeignKeys = slices.DeleteFunc(def.ForeignKeys, func(fk *storage.ForeignKey) bool { return fk.Name == c.ForeignKey.Name })
	case storage.AddIndex:
		idx := c.Index.Clone()
		if _, ok := def.Index(idx.Name); ok {
			return fmt.Errorf("index %q already exists", idx.Name)
		}
		for _, col := range idx.Columns {
			if _, ok := def.Column(col); !ok {
				return fmt.Errorf("unknown column %q", col)
			}
		}
		if idx.Unique {
			es := entries(t)
			for i := range es {
				for j := i + 1; j < len(es); j++ {
					if sameValues(es[i].rec.row, es[j].rec.row, idx.Columns) {
						return modelkit.NewConstraintError(fmt.Sprintf("UNIQUE constraint failed: %s(%v)", def.Name, idx.Columns), nil)
					}
				}
			}
		}
		def.Indexes = append(def.Indexes, idx)
	case storage.DropIndex:
		if _, ok := def.Index(c.Index.Name); !ok {
			return fmt.Errorf("unknown index %q", c.Index.Name)
		}
		def.Indexes = slices.DeleteFunc(def.Indexes, func(idx *storage.Index) bool { return idx.Name == c.Index.Name })
	default:
		return fmt.Errorf("unsupported change kind %s", c.Kind)
	}
	t.def = def
	return nil
}

// rewrite replaces every row with a modified copy. Versions are kept: the
// schema version bump already invalidates open transactions.
func (t *table) rewrite(fn func(storage.Row) error) error {
	for k, rec := range t.rows {
		r := rec.row.Clone()
		if err := fn(r); err != nil {
			return err
		}
		t.rows[k] = &record{row: r, version: rec.version, order: rec.order}
	}
	return nil
}
