// Package sqlstore implements storage.Store and storage.Migrator on SQL
// databases: SQLite (modernc.org/sqlite), PostgreSQL (lib/pq or pgx) and
// MySQL.
//
// Rows are read and written through dialect/sql. Schema introspection and DDL
// go through Atlas, which renders the changes in the dialect of the database.
package sqlstore

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/syssam/modelkit"
	"github.com/syssam/modelkit/dialect"
	"github.com/syssam/modelkit/dialect/sql"
	"github.com/syssam/modelkit/dialect/sql/sqlgraph"
	"github.com/syssam/modelkit/storage"
)

// Driver is the driver used by the store. It is implemented by sql.Driver,
// sql.StatsDriver and sql.DebugDriver.
type Driver interface {
	sql.TxBeginner
	DB() *stdsql.DB
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger of the store.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithIsolation sets the isolation level of the transactions.
func WithIsolation(level sql.IsolationLevel) Option {
	return func(s *Store) { s.isolation = level }
}

// WithLockTimeout bounds the time a PostgreSQL statement waits for a row
// lock. A statement that times out fails with modelkit.ErrConflictingWrite.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// Store is a SQL storage.Store.
type Store struct {
	drv         Driver
	dialect     string
	log         *slog.Logger
	isolation   sql.IsolationLevel
	lockTimeout time.Duration

	mu     sync.Mutex
	tables map[string]*storage.Table // column types, from the last inspection.
}

// New returns a store on top of the given driver.
func New(drv Driver, opts ...Option) *Store {
	s := &Store{drv: drv, dialect: drv.Dialect(), log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens a database with the given driver name and returns a store.
func Open(driverName, source string, opts ...Option) (*Store, error) {
	drv, err := sql.Open(driverName, source)
	if err != nil {
		return nil, err
	}
	return New(drv, opts...), nil
}

// Dialect implements storage.Store.
func (s *Store) Dialect() string { return s.dialect }

// Driver returns the underlying driver.
func (s *Store) Driver() Driver { return s.drv }

// Close closes the database.
func (s *Store) Close() error { return s.drv.Close() }

// Conn implements storage.Store. The database pool hands a connection to
// every transaction, so a Conn is a lightweight handle.
func (s *Store) Conn(ctx context.Context) (storage.Conn, error) {
	if err := s.drv.DB().PingContext(ctx); err != nil {
		return nil, sqlgraph.Classify("conn", err, "")
	}
	return &conn{s: s}, nil
}

// ctx attaches the session variables of the store.
func (s *Store) ctx(ctx context.Context) context.Context {
	if s.lockTimeout > 0 && s.dialect == dialect.Postgres {
		return sql.WithVar(ctx, "lock_timeout", strconv.FormatInt(s.lockTimeout.Milliseconds(), 10))
	}
	return ctx
}

// table returns the definition of a table, inspecting the database if the
// table is not known yet. It runs on the pool and must not be called while a
// transaction of the store holds a connection; transactions use cached.
func (s *Store) table(ctx context.Context, name string) (*storage.Table, error) {
	if t, ok := s.cached(name); ok {
		return t, nil
	}
	if _, err := s.Inspect(ctx); err != nil {
		return nil, err
	}
	if t, ok := s.cached(name); ok {
		return t, nil
	}
	return nil, fmt.Errorf("sqlstore: unknown table %q", name)
}

func (s *Store) cached(name string) (*storage.Table, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	return t, ok
}

// warm loads the table definitions if a schema change dropped them.
func (s *Store) warm(ctx context.Context) error {
	s.mu.Lock()
	loaded := s.tables != nil
	s.mu.Unlock()
	if loaded {
		return nil
	}
	_, err := s.Inspect(ctx)
	return err
}

func (s *Store) query(ctx context.Context, ex dialect.ExecQuerier, t *storage.Table, q *storage.Query) ([]storage.Row, error) {
	where, err := encodeFilter(s.dialect, t, q.Where)
	if err != nil {
		return nil, err
	}
	sq := *q
	sq.Where = where
	query, args := sqlgraph.Select(s.dialect, &sq)
	rows := &sql.Rows{}
	if err := ex.Query(s.ctx(ctx), query, args, rows); err != nil {
		return nil, sqlgraph.Classify("select "+q.Table, err, q.Table)
	}
	maps, err := sql.ScanMaps(rows)
	if err != nil {
		return nil, sqlgraph.Classify("select "+q.Table, err, q.Table)
	}
	res := make([]storage.Row, len(maps))
	for i, m := range maps {
		if res[i], err = decodeRow(t, m); err != nil {
			return nil, fmt.Errorf("sqlstore: select %s: %w", q.Table, err)
		}
	}
	return res, nil
}

type conn struct {
	s *Store
}

// Select implements storage.Reader outside of a transaction.
func (c *conn) Select(ctx context.Context, q *storage.Query) ([]storage.Row, error) {
	t, err := c.s.table(ctx, q.Table)
	if err != nil {
		return nil, err
	}
	return c.s.query(ctx, c.s.drv, t, q)
}

// Begin starts a transaction with the isolation level of the store. The
// table definitions are loaded first: with a single connection pool the
// transaction holds the only connection until it ends.
func (c *conn) Begin(ctx context.Context) (storage.Tx, error) {
	if err := c.s.warm(ctx); err != nil {
		return nil, err
	}
	dtx, err := c.s.drv.BeginTx(ctx, &sql.TxOptions{Isolation: c.s.isolation})
	if err != nil {
		return nil, sqlgraph.Classify("begin", err, "")
	}
	return &tx{s: c.s, tx: dtx}, nil
}

func (c *conn) Close() error { return nil }

type tx struct {
	s  *Store
	tx dialect.Tx
}

// table returns a cached table definition. Inspecting from a transaction
// would wait on the pool for a second connection.
func (t *tx) table(name string) (*storage.Table, error) {
	if def, ok := t.s.cached(name); ok {
		return def, nil
	}
	return nil, fmt.Errorf("sqlstore: unknown table %q", name)
}

func (t *tx) Select(ctx context.Context, q *storage.Query) ([]storage.Row, error) {
	def, err := t.table(q.Table)
	if err != nil {
		return nil, err
	}
	return t.s.query(ctx, t.tx, def, q)
}

func (t *tx) Insert(ctx context.Context, table string, row storage.Row, generated string) (any, error) {
	def, err := t.table(table)
	if err != nil {
		return nil, err
	}
	values, err := encodeRow(t.s.dialect, def, row)
	if err != nil {
		return nil, err
	}
	query, args := sqlgraph.Insert(t.s.dialect, table, values, generated)
	ctx = t.s.ctx(ctx)
	if generated == "" {
		if err := t.tx.Exec(ctx, query, args, nil); err != nil {
			return nil, sqlgraph.Classify("insert "+table, err, table, def.PrimaryKey...)
		}
		return nil, nil
	}
	if v, ok := row[generated]; ok && v != nil {
		if err := t.tx.Exec(ctx, query, args, nil); err != nil {
			return nil, sqlgraph.Classify("insert "+table, err, table, def.PrimaryKey...)
		}
		return v, nil
	}
	if !sqlgraph.Returning(t.s.dialect) {
		var res sql.Result
		if err := t.tx.Exec(ctx, query, args, &res); err != nil {
			return nil, sqlgraph.Classify("insert "+table, err, table, def.PrimaryKey...)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("sqlstore: insert %s: %w", table, err)
		}
		return id, nil
	}
	rows := &sql.Rows{}
	if err := t.tx.Query(ctx, query, args, rows); err != nil {
		return nil, sqlgraph.Classify("insert "+table, err, table, def.PrimaryKey...)
	}
	maps, err := sql.ScanMaps(rows)
	if err != nil {
		return nil, sqlgraph.Classify("insert "+table, err, table, def.PrimaryKey...)
	}
	if len(maps) != 1 {
		return nil, fmt.Errorf("sqlstore: insert %s: expected one returned row, got %d", table, len(maps))
	}
	c, ok := def.Column(generated)
	if !ok {
		return nil, fmt.Errorf("sqlstore: unknown column %s.%s", table, generated)
	}
	return decode(c, maps[0][generated])
}

func (t *tx) Update(ctx context.Context, table string, set storage.Row, where storage.Filter) (int64, error) {
	def, err := t.table(table)
	if err != nil {
		return 0, err
	}
	values, err := encodeRow(t.s.dialect, def, set)
	if err != nil {
		return 0, err
	}
	if where, err = encodeFilter(t.s.dialect, def, where); err != nil {
		return 0, err
	}
	query, args := sqlgraph.Update(t.s.dialect, table, values, where)
	return t.exec(ctx, "update "+table, def, query, args)
}

func (t *tx) Delete(ctx context.Context, table string, where storage.Filter) (int64, error) {
	def, err := t.table(table)
	if err != nil {
		return 0, err
	}
	if where, err = encodeFilter(t.s.dialect, def, where); err != nil {
		return 0, err
	}
	query, args := sqlgraph.Delete(t.s.dialect, table, where)
	return t.exec(ctx, "delete "+table, def, query, args)
}

func (t *tx) exec(ctx context.Context, op string, def *storage.Table, query string, args []any) (int64, error) {
	var res sql.Result
	if err := t.tx.Exec(t.s.ctx(ctx), query, args, &res); err != nil {
		return 0, sqlgraph.Classify(op, err, def.Name, def.PrimaryKey...)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlstore: %s: %w", op, err)
	}
	return n, nil
}

func (t *tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return sqlgraph.Classify("commit", err, "")
	}
	return nil
}

func (t *tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, stdsql.ErrTxDone) {
		return &modelkit.RollbackError{Err: err}
	}
	return nil
}

var (
	_ storage.Store    = (*Store)(nil)
	_ storage.Migrator = (*Store)(nil)
)
