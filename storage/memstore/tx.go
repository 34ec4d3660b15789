package memstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/syssam/modelkit"
	"github.com/syssam/modelkit/schema/field"
	"github.com/syssam/modelkit/storage"
)

type conn struct {
	s      *Store
	mu     sync.Mutex
	closed bool
}

// Select reads committed rows.
func (c *conn) Select(ctx context.Context, q *storage.Query) ([]storage.Row, error) {
	if err := c.check(ctx, "select", q.Table); err != nil {
		return nil, err
	}
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	t, ok := c.s.tables[q.Table]
	if !ok {
		return nil, fmt.Errorf("memstore: unknown table %q", q.Table)
	}
	rows, _, err := selectRows(t, q)
	return rows, err
}

// Begin starts an optimistic transaction.
func (c *conn) Begin(ctx context.Context) (storage.Tx, error) {
	if err := c.check(ctx, "begin", ""); err != nil {
		return nil, err
	}
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	if c.s.closed {
		return nil, modelkit.StorageUnavailable("begin", errClosed)
	}
	x := &tx{
		s:      c.s,
		schema: c.s.schema,
		defs:   make(map[string]*storage.Table, len(c.s.tables)),
		tables: make(map[string]*table),
		seen:   make(map[rowKey]uint64),
		dirty:  make(map[rowKey]struct{}),
	}
	for name, t := range c.s.tables {
		x.defs[name] = t.def
	}
	return x, nil
}

// Close releases the connection.
func (c *conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *conn) check(ctx context.Context, op, table string) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return fmt.Errorf("memstore: %s: connection is closed", op)
	}
	if err := ctx.Err(); err != nil {
		return modelkit.StorageUnavailable(op, err)
	}
	return c.s.injected(op, table)
}

type rowKey struct{ table, key string }

// tx is a transaction over private copies of the tables it touches.
type tx struct {
	s      *Store
	schema uint64
	defs   map[string]*storage.Table
	tables map[string]*table
	// seen holds the version of every row the transaction depends on, zero
	// for rows that did not exist.
	seen  map[rowKey]uint64
	dirty map[rowKey]struct{}
	done  bool
}

func (x *tx) check(ctx context.Context, op, table string) error {
	if x.done {
		return errTxDone
	}
	if err := ctx.Err(); err != nil {
		return modelkit.StorageUnavailable(op, err)
	}
	return x.s.injected(op, table)
}

// table returns the working copy of a table.
func (x *tx) table(name string) (*table, error) {
	if t, ok := x.tables[name]; ok {
		return t, nil
	}
	if _, ok := x.defs[name]; !ok {
		return nil, fmt.Errorf("memstore: unknown table %q", name)
	}
	x.s.mu.RLock()
	defer x.s.mu.RUnlock()
	if x.s.schema != x.schema {
		return nil, modelkit.ConflictingWrite(name, errors.New("schema changed during the transaction"))
	}
	t := x.s.tables[name].clone()
	x.tables[name] = t
	return t, nil
}

func (x *tx) observe(table, key string, rec *record) {
	rk := rowKey{table, key}
	if _, ok := x.seen[rk]; ok {
		return
	}
	var v uint64
	if rec != nil {
		v = rec.version
	}
	x.seen[rk] = v
}

func (x *tx) put(t *table, key string, row storage.Row, order uint64) {
	t.rows[key] = &record{row: row, order: order}
	x.dirty[rowKey{t.def.Name, key}] = struct{}{}
}

func (x *tx) remove(t *table, key string) {
	delete(t.rows, key)
	x.dirty[rowKey{t.def.Name, key}] = struct{}{}
}

// Select reads the working copy. Rows selected for update become part of
// the commit validation.
func (x *tx) Select(ctx context.Context, q *storage.Query) ([]storage.Row, error) {
	if err := x.check(ctx, "select", q.Table); err != nil {
		return nil, err
	}
	t, err := x.table(q.Table)
	if err != nil {
		return nil, err
	}
	rows, matched, err := selectRows(t, q)
	if err != nil {
		return nil, err
	}
	if q.ForUpdate {
		for _, e := range matched {
			x.observe(q.Table, e.key, e.rec)
		}
	}
	return rows, nil
}

// Insert inserts a row. Missing columns get their default, the next
// identifier for increment columns, or NULL.
func (x *tx) Insert(ctx context.Context, name string, row storage.Row, generated string) (any, error) {
	if err := x.check(ctx, "insert", name); err != nil {
		return nil, err
	}
	t, err := x.table(name)
	if err != nil {
		return nil, err
	}
	def := t.def
	for k := range row {
		if _, ok := def.Column(k); !ok {
			return nil, fmt.Errorf("memstore: unknown column %s.%s", name, k)
		}
	}
	r := make(storage.Row, len(def.Columns))
	for _, c := range def.Columns {
		v, err := coerce(c, row[c.Name])
		if err != nil {
			return nil, fmt.Errorf("memstore: insert %s: %w", name, err)
		}
		switch {
		case v != nil:
			if i, ok := v.(int64); ok && c.Increment {
				x.s.advance(name, i)
			}
		case c.Increment:
			v = x.s.allocate(name)
		case c.Default != nil:
			if v, err = coerce(c, c.Default); err != nil {
				return nil, fmt.Errorf("memstore: insert %s: default: %w", name, err)
			}
		case !c.Nullable:
			return nil, modelkit.NewConstraintError(fmt.Sprintf("NOT NULL constraint failed: %s.%s", name, c.Name), nil)
		}
		r[c.Name] = v
	}
	order := x.s.nextOrder()
	key, err := keyOf(def, r, order)
	if err != nil {
		return nil, modelkit.NewConstraintError(err.Error(), nil)
	}
	if rec, ok := t.rows[key]; ok {
		x.observe(name, key, rec)
		return nil, modelkit.ConflictingWrite("insert", fmt.Errorf("duplicate primary key %q in %s", key, name))
	}
	x.observe(name, key, nil)
	if err := x.checkRow(t, key, r, nil); err != nil {
		return nil, err
	}
	x.put(t, key, r, order)
	if generated == "" {
		return nil, nil
	}
	return r[generated], nil
}

// Update sets columns on every matching row.
func (x *tx) Update(ctx context.Context, name string, set storage.Row, where storage.Filter) (int64, error) {
	if err := x.check(ctx, "update", name); err != nil {
		return 0, err
	}
	t, err := x.table(name)
	if err != nil {
		return 0, err
	}
	values := make(storage.Row, len(set))
	for k, v := range set {
		c, ok := t.def.Column(k)
		if !ok {
			return 0, fmt.Errorf("memstore: unknown column %s.%s", name, k)
		}
		if values[k], err = coerce(c, v); err != nil {
			return 0, fmt.Errorf("memstore: update %s: %w", name, err)
		}
		if values[k] == nil && !c.Nullable {
			return 0, modelkit.NewConstraintError(fmt.Sprintf("NOT NULL constraint failed: %s.%s", name, k), nil)
		}
	}
	var n int64
	for _, e := range entries(t) {
		if !where.Match(e.rec.row) {
			continue
		}
		x.observe(name, e.key, e.rec)
		r := e.rec.row.Clone()
		for k, v := range values {
			r[k] = v
		}
		if nk, err := keyOf(t.def, r, e.rec.order); err != nil || nk != e.key {
			return 0, fmt.Errorf("memstore: update %s: primary key columns cannot be changed", name)
		}
		if err := x.checkRow(t, e.key, r, e.rec.row); err != nil {
			return 0, err
		}
		x.put(t, e.key, r, e.rec.order)
		n++
	}
	return n, nil
}

// Delete deletes every matching row and applies the referential actions of
// the foreign keys pointing to them.
func (x *tx) Delete(ctx context.Context, name string, where storage.Filter) (int64, error) {
	if err := x.check(ctx, "delete", name); err != nil {
		return 0, err
	}
	t, err := x.table(name)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, e := range entries(t) {
		if !where.Match(e.rec.row) {
			continue
		}
		if _, ok := t.rows[e.key]; !ok {
			// Removed by a cascade of a previous match.
			continue
		}
		if err := x.deleteRow(t, e.key); err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

func (x *tx) deleteRow(t *table, key string) error {
	rec, ok := t.rows[key]
	if !ok {
		return nil
	}
	x.observe(t.def.Name, key, rec)
	x.remove(t, key)
	for _, name := range defNames(x.defs) {
		for _, fk := range x.defs[name].ForeignKeys {
			if fk.RefTable != t.def.Name || rec.row[fk.RefColumn] == nil {
				continue
			}
			child, err := x.table(name)
			if err != nil {
				return err
			}
			for _, e := range entries(child) {
				if !field.Equal(e.rec.row[fk.Column], rec.row[fk.RefColumn]) {
					continue
				}
				switch fk.OnDelete {
				case storage.Cascade:
					if err := x.deleteRow(child, e.key); err != nil {
						return err
					}
				case storage.SetNull:
					x.observe(name, e.key, e.rec)
					r := e.rec.row.Clone()
					r[fk.Column] = nil
					x.put(child, e.key, r, e.rec.order)
				default:
					return modelkit.NewConstraintError(fmt.Sprintf("FOREIGN KEY constraint failed: %s", fk), nil)
				}
			}
		}
	}
	return nil
}

// checkRow checks the unique indexes and foreign keys of a new row version.
// old is the previous version, or nil for inserts.
func (x *tx) checkRow(t *table, key string, r, old storage.Row) error {
	for _, idx := range t.def.Indexes {
		if !idx.Unique || (old != nil && sameValues(old, r, idx.Columns)) {
			continue
		}
		for k, rec := range t.rows {
			if k != key && sameValues(rec.row, r, idx.Columns) {
				return modelkit.NewConstraintError(fmt.Sprintf("UNIQUE constraint failed: %s(%v)", t.def.Name, idx.Columns), nil)
			}
		}
	}
	for _, fk := range t.def.ForeignKeys {
		v := r[fk.Column]
		if v == nil || (old != nil && field.Equal(old[fk.Column], v)) {
			continue
		}
		if fk.RefTable == t.def.Name && field.Equal(r[fk.RefColumn], v) {
			continue
		}
		parent, err := x.table(fk.RefTable)
		if err != nil {
			return err
		}
		pk, rec := lookup(parent, fk.RefColumn, v)
		if rec == nil {
			return modelkit.NewConstraintError(fmt.Sprintf("FOREIGN KEY constraint failed: %s", fk), nil)
		}
		x.observe(fk.RefTable, pk, rec)
	}
	return nil
}

// lookup finds the row holding v in the given column.
func lookup(t *table, column string, v any) (string, *record) {
	if len(t.def.PrimaryKey) == 1 && t.def.PrimaryKey[0] == column {
		key, err := keyOf(t.def, storage.Row{column: v}, 0)
		if err != nil {
			return "", nil
		}
		if rec, ok := t.rows[key]; ok && field.Equal(rec.row[column], v) {
			return key, rec
		}
		return "", nil
	}
	for k, rec := range t.rows {
		if field.Equal(rec.row[column], v) {
			return k, rec
		}
	}
	return "", nil
}

// Commit validates the transaction against the live state and installs its
// writes.
func (x *tx) Commit() error {
	if x.done {
		return errTxDone
	}
	x.done = true
	if err := x.s.injected("commit", ""); err != nil {
		return err
	}
	s := x.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return modelkit.StorageUnavailable("commit", errClosed)
	}
	if s.schema != x.schema {
		return modelkit.ConflictingWrite("commit", errors.New("schema changed during the transaction"))
	}
	for rk, v := range x.seen {
		var cur uint64
		if live, ok := s.tables[rk.table]; ok {
			if rec, ok := live.rows[rk.key]; ok {
				cur = rec.version
			}
		}
		if cur != v {
			return modelkit.ConflictingWrite("commit", fmt.Errorf("row %q of %s was changed by a concurrent transaction", rk.key, rk.table))
		}
	}
	if err := x.validate(); err != nil {
		return err
	}
	for rk := range x.dirty {
		live := s.tables[rk.table]
		rec, ok := x.tables[rk.table].rows[rk.key]
		if !ok {
			delete(live.rows, rk.key)
			continue
		}
		live.rows[rk.key] = &record{row: rec.row, version: s.nextVersion(), order: rec.order}
	}
	s.log.Debug("memstore: commit", "rows", len(x.dirty))
	return nil
}

// validate checks the written rows against rows committed concurrently by
// other transactions. It runs under the store lock.
func (x *tx) validate() error {
	s := x.s
	for rk := range x.dirty {
		live := s.tables[rk.table]
		rec, ok := x.tables[rk.table].rows[rk.key]
		if ok {
			for _, idx := range live.def.Indexes {
				if !idx.Unique {
					continue
				}
				for k, lr := range live.rows {
					if _, mine := x.dirty[rowKey{rk.table, k}]; mine || k == rk.key {
						continue
					}
					if sameValues(lr.row, rec.row, idx.Columns) {
						return modelkit.NewConstraintError(fmt.Sprintf("UNIQUE constraint failed: %s(%v)", rk.table, idx.Columns), nil)
					}
				}
			}
			continue
		}
		old, ok := live.rows[rk.key]
		if !ok {
			continue
		}
		for _, name := range defNames(x.defs) {
			for _, fk := range x.defs[name].ForeignKeys {
				if fk.RefTable != rk.table || old.row[fk.RefColumn] == nil {
					continue
				}
				for k, lr := range s.tables[name].rows {
					if _, mine := x.dirty[rowKey{name, k}]; mine {
						continue
					}
					if field.Equal(lr.row[fk.Column], old.row[fk.RefColumn]) {
						return modelkit.ConflictingWrite("commit", fmt.Errorf("row %q of %s gained a dependent in %s concurrently", rk.key, rk.table, name))
					}
				}
			}
		}
	}
	return nil
}

// Rollback discards the transaction. It is a no-op on a finished transaction.
func (x *tx) Rollback() error {
	x.done = true
	x.tables, x.seen, x.dirty = nil, nil, nil
	return nil
}

func defNames(defs map[string]*storage.Table) []string {
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// selectRows evaluates a query on a table. It returns the projected rows and
// the matched entries.
func selectRows(t *table, q *storage.Query) ([]storage.Row, []entry, error) {
	for _, c := range q.Columns {
		if _, ok := t.def.Column(c); !ok {
			return nil, nil, fmt.Errorf("memstore: unknown column %s.%s", t.def.Name, c)
		}
	}
	var matched []entry
	for _, e := range entries(t) {
		if q.Where.Match(e.rec.row) {
			matched = append(matched, e)
		}
	}
	if len(q.OrderBy) > 0 {
		slices.SortStableFunc(matched, func(a, b entry) int {
			for _, c := range q.OrderBy {
				if n := compare(a.rec.row[c], b.rec.row[c]); n != 0 {
					return n
				}
			}
			return 0
		})
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	rows := make([]storage.Row, len(matched))
	for i, e := range matched {
		if len(q.Columns) == 0 {
			rows[i] = e.rec.row.Clone()
			continue
		}
		r := make(storage.Row, len(q.Columns))
		for _, c := range q.Columns {
			r[c] = e.rec.row[c]
		}
		rows[i] = r
	}
	return rows, matched, nil
}
