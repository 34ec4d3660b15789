// Package memstore implements an in-memory transactional store.
//
// Transactions are optimistic. Each transaction works on private copies of
// the tables it touches and records the version of every row it wrote or
// relied on for a constraint check. Commit validates those versions against
// the live state and fails with modelkit.ErrConflictingWrite when another
// transaction changed one of them first. Transactions on disjoint rows never
// block each other.
//
// Foreign keys, unique indexes and NOT NULL columns are enforced, including
// ON DELETE CASCADE and SET NULL. The store also implements storage.Migrator,
// so migration plans can be applied to it.
package memstore

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/syssam/modelkit"
	"github.com/syssam/modelkit/dialect"
	"github.com/syssam/modelkit/storage"
)

// FaultFunc is called before every row operation with the operation name
// ("select", "insert", "update", "delete", "commit") and the table. A non-nil
// error fails the operation. It is used to simulate storage failures.
type FaultFunc func(op, table string) error

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger of the store.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithFault installs a fault injection function.
func WithFault(f FaultFunc) Option {
	return func(s *Store) { s.fault = f }
}

// Store is an in-memory storage.Store.
type Store struct {
	log   *slog.Logger
	fault FaultFunc

	mu      sync.RWMutex
	closed  bool
	tables  map[string]*table
	version uint64 // last row version.
	order   uint64 // last insertion order.
	schema  uint64 // bumped by every DDL change.
}

// record is an immutable row version.
type record struct {
	row     storage.Row
	version uint64
	order   uint64
}

type table struct {
	def  *storage.Table
	rows map[string]*record
	seq  int64
}

// clone copies the row index. Records are shared; they are never mutated.
func (t *table) clone() *table {
	c := &table{def: t.def, rows: make(map[string]*record, len(t.rows)), seq: t.seq}
	for k, r := range t.rows {
		c.rows[k] = r
	}
	return c
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{tables: make(map[string]*table), log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dialect implements storage.Store.
func (s *Store) Dialect() string { return dialect.Memory }

// Conn implements storage.Store.
func (s *Store) Conn(ctx context.Context) (storage.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, modelkit.StorageUnavailable("conn", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, modelkit.StorageUnavailable("conn", errClosed)
	}
	return &conn{s: s}, nil
}

// Close implements storage.Store. Open transactions fail to commit.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Inspect implements storage.Migrator.
func (s *Store) Inspect(ctx context.Context) (*storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, modelkit.StorageUnavailable("inspect", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, modelkit.StorageUnavailable("inspect", errClosed)
	}
	snap := &storage.Snapshot{Dialect: dialect.Memory}
	for _, name := range sortedNames(s.tables) {
		snap.Tables = append(snap.Tables, s.tables[name].def.Clone())
	}
	return snap, nil
}

// Apply implements storage.Migrator. The changes are applied to a copy of
// the store that replaces the live state only if every change succeeds.
func (s *Store) Apply(ctx context.Context, changes []*storage.Change) error {
	if err := ctx.Err(); err != nil {
		return modelkit.StorageUnavailable("apply", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return modelkit.StorageUnavailable("apply", errClosed)
	}
	next := make(map[string]*table, len(s.tables))
	for name, t := range s.tables {
		next[name] = t.clone()
	}
	for _, c := range changes {
		if err := s.applyChange(next, c); err != nil {
			return fmt.Errorf("memstore: %s: %w", c, err)
		}
		s.log.Debug("memstore: applied change", "change", c.String())
	}
	s.tables = next
	s.schema++
	return nil
}

// Rows returns a copy of the committed rows of a table in insertion order.
func (s *Store) Rows(name string) []storage.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[name]
	if !ok {
		return nil
	}
	rows := make([]storage.Row, 0, len(t.rows))
	for _, e := range entries(t) {
		rows = append(rows, e.rec.row.Clone())
	}
	return rows
}

func (s *Store) nextVersion() uint64 {
	s.version++
	return s.version
}

func (s *Store) nextOrder() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order++
	return s.order
}

// allocate returns the next identifier of a live table. Identifiers
// allocated by rolled back transactions are not reused.
func (s *Store) allocate(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	if !ok {
		return 0
	}
	t.seq++
	return t.seq
}

// advance moves the identifier sequence past an explicitly given value.
func (s *Store) advance(name string, v int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tables[name]; ok && v > t.seq {
		t.seq = v
	}
}

func (s *Store) injected(op, table string) error {
	if s.fault == nil {
		return nil
	}
	if err := s.fault(op, table); err != nil {
		return modelkit.StorageUnavailable(op, err)
	}
	return nil
}

func sortedNames(tables map[string]*table) []string {
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

type entry struct {
	key string
	rec *record
}

// entries returns the rows of a table in insertion order.
func entries(t *table) []entry {
	es := make([]entry, 0, len(t.rows))
	for k, r := range t.rows {
		es = append(es, entry{key: k, rec: r})
	}
	slices.SortFunc(es, func(a, b entry) int {
		switch {
		case a.rec.order < b.rec.order:
			return -1
		case a.rec.order > b.rec.order:
			return 1
		}
		return 0
	})
	return es
}
