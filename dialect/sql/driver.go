package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/syssam/modelkit/dialect"
)

type (
	// Result is an alias to sql.Result.
	Result = sql.Result
	// TxOptions holds the transaction options to be used in DB.BeginTx.
	TxOptions = sql.TxOptions
	// IsolationLevel is an alias to sql.IsolationLevel.
	IsolationLevel = sql.IsolationLevel
)

// Isolation levels.
const (
	LevelDefault        = sql.LevelDefault
	LevelReadCommitted  = sql.LevelReadCommitted
	LevelRepeatableRead = sql.LevelRepeatableRead
	LevelSerializable   = sql.LevelSerializable
)

// TxBeginner is implemented by drivers that start transactions with options.
type TxBeginner interface {
	dialect.Driver
	BeginTx(ctx context.Context, opts *TxOptions) (dialect.Tx, error)
}

// querier is the part of *sql.DB, *sql.Conn and *sql.Tx used to run
// statements.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Driver is a dialect.Driver on a database/sql pool.
type Driver struct {
	db      *sqlx.DB
	dialect string
}

// Open opens a database with the given driver name ("sqlite", "postgres",
// "pgx" or "mysql") and returns a Driver that implements dialect.Driver.
func Open(driverName, source string) (*Driver, error) {
	db, err := sqlx.Open(driverName, source)
	if err != nil {
		return nil, err
	}
	return &Driver{db: db, dialect: dialectOf(driverName)}, nil
}

// OpenDB wraps the given database/sql.DB with a Driver.
func OpenDB(driverName string, db *sql.DB) *Driver {
	return &Driver{db: sqlx.NewDb(db, driverName), dialect: dialectOf(driverName)}
}

// dialectOf maps a database/sql driver name to its dialect. The pgx driver
// speaks postgres and wrapped drivers keep the name as a prefix, as in
// "sqlite3".
func dialectOf(driverName string) string {
	if driverName == "pgx" {
		return dialect.Postgres
	}
	for _, name := range []string{dialect.MySQL, dialect.SQLite, dialect.Postgres} {
		if strings.HasPrefix(driverName, name) {
			return name
		}
	}
	return driverName
}

// DB returns the underlying *sql.DB instance.
func (d *Driver) DB() *sql.DB { return d.db.DB }

// Dialect implements dialect.Driver.
func (d *Driver) Dialect() string { return d.dialect }

// Close closes the underlying pool.
func (d *Driver) Close() error { return d.db.Close() }

// Exec implements dialect.ExecQuerier. v is nil or a *Result.
func (d *Driver) Exec(ctx context.Context, query string, args, v any) error {
	q, release, err := d.pin(ctx)
	if err != nil {
		return fmt.Errorf("dialect/sql: exec: set session vars: %w", err)
	}
	err = runExec(ctx, q, query, args, v)
	if release != nil {
		err = errors.Join(err, release())
	}
	return err
}

// Query implements dialect.ExecQuerier. v is a *Rows; a connection pinned
// for session variables is released when the rows are closed.
func (d *Driver) Query(ctx context.Context, query string, args, v any) error {
	q, release, err := d.pin(ctx)
	if err != nil {
		return fmt.Errorf("dialect/sql: query: set session vars: %w", err)
	}
	if err := runQuery(ctx, q, query, args, v, release); err != nil {
		if release != nil {
			err = errors.Join(err, release())
		}
		return err
	}
	return nil
}

// pin returns where a statement on the pool runs. With session variables
// in ctx, it is a dedicated connection with the variables set, and release
// resets them before the connection goes back to the pool.
func (d *Driver) pin(ctx context.Context) (querier, func() error, error) {
	vars := varsOf(ctx)
	if len(vars) == 0 {
		return d.db, nil, nil
	}
	c, err := d.db.Conn(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := setVars(ctx, c, vars); err != nil {
		return nil, nil, errors.Join(err, c.Close())
	}
	reset := resetVars(d.dialect, vars)
	return c, func() error {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		for _, stmt := range reset {
			if _, err := c.ExecContext(rctx, stmt); err != nil {
				return errors.Join(err, c.Close())
			}
		}
		return c.Close()
	}, nil
}

// Tx starts and returns a transaction.
func (d *Driver) Tx(ctx context.Context) (dialect.Tx, error) {
	return d.BeginTx(ctx, nil)
}

// BeginTx starts a transaction with options.
func (d *Driver) BeginTx(ctx context.Context, opts *TxOptions) (dialect.Tx, error) {
	tx, err := d.db.BeginTxx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// Tx is a transaction of a Driver. Session variables are set before every
// statement and last until the transaction ends.
type Tx struct {
	tx *sqlx.Tx
}

// Exec implements dialect.ExecQuerier.
func (t *Tx) Exec(ctx context.Context, query string, args, v any) error {
	if err := setVars(ctx, t.tx, varsOf(ctx)); err != nil {
		return fmt.Errorf("dialect/sql: exec: set session vars: %w", err)
	}
	return runExec(ctx, t.tx, query, args, v)
}

// Query implements dialect.ExecQuerier.
func (t *Tx) Query(ctx context.Context, query string, args, v any) error {
	if err := setVars(ctx, t.tx, varsOf(ctx)); err != nil {
		return fmt.Errorf("dialect/sql: query: set session vars: %w", err)
	}
	return runQuery(ctx, t.tx, query, args, v, nil)
}

// Commit commits the transaction.
func (t *Tx) Commit() error { return t.tx.Commit() }

// Rollback aborts the transaction.
func (t *Tx) Rollback() error { return t.tx.Rollback() }

func arguments(args any) ([]any, error) {
	argv, ok := args.([]any)
	if !ok {
		return nil, fmt.Errorf("dialect/sql: invalid type %T. expect []any for args", args)
	}
	return argv, nil
}

func runExec(ctx context.Context, q querier, query string, args, v any) error {
	argv, err := arguments(args)
	if err != nil {
		return err
	}
	res, ok := v.(*Result)
	if v != nil && !ok {
		return fmt.Errorf("dialect/sql: invalid type %T. expect *sql.Result", v)
	}
	r, err := q.ExecContext(ctx, query, argv...)
	if err != nil {
		return fmt.Errorf("dialect/sql: exec: %w", err)
	}
	if res != nil {
		*res = r
	}
	return nil
}

// runQuery runs a query into v. release, if any, runs when the rows close.
func runQuery(ctx context.Context, q querier, query string, args, v any, release func() error) error {
	rows, ok := v.(*Rows)
	if !ok {
		return fmt.Errorf("dialect/sql: invalid type %T. expect *sql.Rows", v)
	}
	argv, err := arguments(args)
	if err != nil {
		return err
	}
	r, err := q.QueryContext(ctx, query, argv...)
	if err != nil {
		return fmt.Errorf("dialect/sql: query: %w", err)
	}
	rows.ColumnScanner = r
	if release != nil {
		rows.ColumnScanner = releasing{r, release}
	}
	return nil
}

// Var is a session variable set before the statements of a context.
type Var struct {
	Name, Value string
}

type varsKey struct{}

// WithVar returns a context whose statements run with the session variable
// set. Later values of the same variable are set after earlier ones.
func WithVar(ctx context.Context, name, value string) context.Context {
	vars := varsOf(ctx)
	return context.WithValue(ctx, varsKey{}, append(vars[:len(vars):len(vars)], Var{Name: name, Value: value}))
}

func varsOf(ctx context.Context) []Var {
	vars, _ := ctx.Value(varsKey{}).([]Var)
	return vars
}

// varName matches the accepted variable names, optionally qualified.
var varName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)

func validVar(name string) bool {
	return len(name) <= 128 && varName.MatchString(name)
}

// quoteValue renders a string literal. Backslashes are doubled for MySQL.
func quoteValue(s string) string {
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `''`).Replace(s) + "'"
}

func setVars(ctx context.Context, q querier, vars []Var) error {
	for _, v := range vars {
		if !validVar(v.Name) {
			return fmt.Errorf("invalid session variable name: %q", v.Name)
		}
		if _, err := q.ExecContext(ctx, "SET "+v.Name+" = "+quoteValue(v.Value)); err != nil {
			return err
		}
	}
	return nil
}

// resetVars returns the statements restoring the variables of a pooled
// connection, once per variable.
func resetVars(d string, vars []Var) []string {
	var (
		stmts []string
		seen  = make(map[string]bool, len(vars))
	)
	for _, v := range vars {
		if seen[v.Name] {
			continue
		}
		seen[v.Name] = true
		switch d {
		case dialect.Postgres:
			stmts = append(stmts, "RESET "+v.Name)
		case dialect.MySQL:
			stmts = append(stmts, "SET "+v.Name+" = NULL")
		}
	}
	return stmts
}

// Rows holds the result of a Query.
type Rows struct{ ColumnScanner }

// ColumnScanner is the part of *sql.Rows used to read results.
type ColumnScanner interface {
	Close() error
	ColumnTypes() ([]*sql.ColumnType, error)
	Columns() ([]string, error)
	Err() error
	Next() bool
	NextResultSet() bool
	Scan(dest ...any) error
}

// releasing closes the rows, then releases their pinned connection.
type releasing struct {
	ColumnScanner
	release func() error
}

func (r releasing) Close() error {
	return errors.Join(r.ColumnScanner.Close(), r.release())
}

// ScanMaps reads the remaining rows into column name to value maps and
// closes them.
func ScanMaps(rows ColumnScanner) (res []map[string]any, err error) {
	defer func() { err = errors.Join(err, rows.Close()) }()
	for rows.Next() {
		m := make(map[string]any)
		if err := sqlx.MapScan(rows, m); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

var (
	_ TxBeginner = (*Driver)(nil)
	_ dialect.Tx = (*Tx)(nil)
)
