package sql

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/syssam/modelkit/dialect"
)

// Op is the kind of a statement.
type Op string

// Statement kinds.
const (
	OpSelect Op = "select"
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpOther  Op = "other"
)

// Classify returns the kind and the table of a statement. The table is
// empty for statements that are not single-table reads or writes.
//
//	SELECT "id" FROM "heroes" WHERE ...  => select, heroes
//	INSERT INTO `teams` (...) VALUES ... => insert, teams
func Classify(query string) (Op, string) {
	words := strings.Fields(query)
	if len(words) == 0 {
		return OpOther, ""
	}
	after := func(kw string) string {
		for i, w := range words[:len(words)-1] {
			if strings.EqualFold(w, kw) {
				return strings.Trim(words[i+1], "\"`(")
			}
		}
		return ""
	}
	switch strings.ToUpper(words[0]) {
	case "SELECT":
		return OpSelect, after("FROM")
	case "INSERT":
		return OpInsert, after("INTO")
	case "UPDATE":
		return OpUpdate, after("UPDATE")
	case "DELETE":
		return OpDelete, after("FROM")
	}
	return OpOther, ""
}

// Key identifies the statements of one kind on one table.
type Key struct {
	Op    Op
	Table string
}

// Counter accumulates statements.
type Counter struct {
	Count    int64
	Errors   int64
	Slow     int64
	Duration time.Duration
}

func (c *Counter) add(o Counter) {
	c.Count += o.Count
	c.Errors += o.Errors
	c.Slow += o.Slow
	c.Duration += o.Duration
}

// Avg returns the average duration of a statement.
func (c Counter) Avg() time.Duration {
	if c.Count == 0 {
		return 0
	}
	return c.Duration / time.Duration(c.Count)
}

// Stats is a point-in-time copy of the statistics of a StatsDriver.
type Stats struct {
	Statements map[Key]Counter
	Commits    int64
	Rollbacks  int64
	// TxDuration is the time spent in ended transactions, from begin to
	// commit or rollback.
	TxDuration time.Duration
}

// Total sums the statements of all kinds and tables.
func (s Stats) Total() Counter {
	var c Counter
	for _, v := range s.Statements {
		c.add(v)
	}
	return c
}

// Table sums the statements on one table.
func (s Stats) Table(name string) Counter {
	var c Counter
	for k, v := range s.Statements {
		if k.Table == name {
			c.add(v)
		}
	}
	return c
}

// String returns one line per table and kind, then the transaction totals.
func (s Stats) String() string {
	var b strings.Builder
	keys := slices.SortedFunc(maps.Keys(s.Statements), func(a, b Key) int {
		return cmp.Or(strings.Compare(a.Table, b.Table), strings.Compare(string(a.Op), string(b.Op)))
	})
	for _, k := range keys {
		c := s.Statements[k]
		fmt.Fprintf(&b, "%s %s: count=%d errors=%d slow=%d avg=%s\n", k.Op, cmp.Or(k.Table, "-"), c.Count, c.Errors, c.Slow, c.Avg())
	}
	fmt.Fprintf(&b, "transactions: commits=%d rollbacks=%d duration=%s", s.Commits, s.Rollbacks, s.TxDuration)
	return b.String()
}

// SlowStatement describes a statement that ran longer than the threshold.
type SlowStatement struct {
	Op       Op
	Table    string
	Query    string
	Args     int
	Duration time.Duration
	InTx     bool
}

// StatsOption configures a StatsDriver.
type StatsOption func(*StatsDriver)

// WithSlowThreshold sets the duration above which a statement is slow.
// The default is 100ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsDriver) { s.threshold = d }
}

// OnSlowStatement sets a function called for every slow statement.
func OnSlowStatement(fn func(context.Context, SlowStatement)) StatsOption {
	return func(s *StatsDriver) { s.onSlow = fn }
}

// WithSlowQueryLog logs slow statements at the warn level, to the default
// logger if l is nil.
func WithSlowQueryLog(l *slog.Logger) StatsOption {
	if l == nil {
		l = slog.Default()
	}
	return OnSlowStatement(func(ctx context.Context, s SlowStatement) {
		l.WarnContext(ctx, "slow statement", "op", s.Op, "table", s.Table, "duration", s.Duration, "tx", s.InTx, "query", s.Query, "args", s.Args)
	})
}

// StatsDriver is a Driver that counts statements per kind and table and
// measures transactions.
type StatsDriver struct {
	*Driver
	threshold time.Duration
	onSlow    func(context.Context, SlowStatement)

	mu    sync.Mutex
	stats Stats
}

// NewStatsDriver wraps a Driver with statistics collection.
//
//	drv := sql.NewStatsDriver(base, sql.WithSlowThreshold(200*time.Millisecond), sql.WithSlowQueryLog(logger))
//	store := sqlstore.New(drv)
//	...
//	fmt.Println(drv.Stats().Table("heroes"))
func NewStatsDriver(drv *Driver, opts ...StatsOption) *StatsDriver {
	s := &StatsDriver{Driver: drv, threshold: 100 * time.Millisecond}
	for _, opt := range opts {
		opt(s)
	}
	s.stats.Statements = make(map[Key]Counter)
	return s
}

// Stats returns a copy of the statistics.
func (d *StatsDriver) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.stats
	s.Statements = maps.Clone(d.stats.Statements)
	return s
}

// Reset clears the statistics.
func (d *StatsDriver) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats = Stats{Statements: make(map[Key]Counter)}
}

// Exec implements dialect.ExecQuerier.
func (d *StatsDriver) Exec(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := d.Driver.Exec(ctx, query, args, v)
	d.record(ctx, query, args, start, err, false)
	return err
}

// Query implements dialect.ExecQuerier.
func (d *StatsDriver) Query(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := d.Driver.Query(ctx, query, args, v)
	d.record(ctx, query, args, start, err, false)
	return err
}

func (d *StatsDriver) record(ctx context.Context, query string, args any, start time.Time, err error, tx bool) {
	elapsed := time.Since(start)
	op, table := Classify(query)
	key := Key{Op: op, Table: table}
	slow := elapsed > d.threshold
	d.mu.Lock()
	c := d.stats.Statements[key]
	c.Count++
	c.Duration += elapsed
	if err != nil {
		c.Errors++
	}
	if slow {
		c.Slow++
	}
	d.stats.Statements[key] = c
	d.mu.Unlock()
	if slow && d.onSlow != nil {
		argv, _ := args.([]any)
		d.onSlow(ctx, SlowStatement{Op: op, Table: table, Query: query, Args: len(argv), Duration: elapsed, InTx: tx})
	}
}

func (d *StatsDriver) ended(start time.Time, committed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if committed {
		d.stats.Commits++
	} else {
		d.stats.Rollbacks++
	}
	d.stats.TxDuration += time.Since(start)
}

// Tx starts a transaction whose statements are counted.
func (d *StatsDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	return d.BeginTx(ctx, nil)
}

// BeginTx starts a transaction with options whose statements are counted.
func (d *StatsDriver) BeginTx(ctx context.Context, opts *TxOptions) (dialect.Tx, error) {
	tx, err := d.Driver.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &statsTx{Tx: tx, d: d, start: time.Now()}, nil
}

type statsTx struct {
	dialect.Tx
	d     *StatsDriver
	start time.Time
}

func (tx *statsTx) Exec(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := tx.Tx.Exec(ctx, query, args, v)
	tx.d.record(ctx, query, args, start, err, true)
	return err
}

func (tx *statsTx) Query(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := tx.Tx.Query(ctx, query, args, v)
	tx.d.record(ctx, query, args, start, err, true)
	return err
}

// Commit counts the transaction as committed only if the commit succeeds.
func (tx *statsTx) Commit() error {
	err := tx.Tx.Commit()
	tx.d.ended(tx.start, err == nil)
	return err
}

func (tx *statsTx) Rollback() error {
	err := tx.Tx.Rollback()
	tx.d.ended(tx.start, false)
	return err
}

// DebugDriver is a Driver that logs every statement and transaction at the
// debug level. Argument values are not logged, only their number.
type DebugDriver struct {
	*Driver
	log *slog.Logger
}

// NewDebugDriver wraps a Driver with statement logging on l, or the default
// logger if l is nil.
func NewDebugDriver(drv *Driver, l *slog.Logger) *DebugDriver {
	if l == nil {
		l = slog.Default()
	}
	return &DebugDriver{Driver: drv, log: l}
}

func (d *DebugDriver) statement(ctx context.Context, query string, args any, tx bool) {
	argv, _ := args.([]any)
	op, table := Classify(query)
	d.log.DebugContext(ctx, "statement", "op", op, "table", table, "tx", tx, "query", query, "args", len(argv))
}

// Exec implements dialect.ExecQuerier.
func (d *DebugDriver) Exec(ctx context.Context, query string, args, v any) error {
	d.statement(ctx, query, args, false)
	return d.Driver.Exec(ctx, query, args, v)
}

// Query implements dialect.ExecQuerier.
func (d *DebugDriver) Query(ctx context.Context, query string, args, v any) error {
	d.statement(ctx, query, args, false)
	return d.Driver.Query(ctx, query, args, v)
}

// Tx starts a logged transaction.
func (d *DebugDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	return d.BeginTx(ctx, nil)
}

// BeginTx starts a logged transaction with options.
func (d *DebugDriver) BeginTx(ctx context.Context, opts *TxOptions) (dialect.Tx, error) {
	var level IsolationLevel
	if opts != nil {
		level = opts.Isolation
	}
	d.log.DebugContext(ctx, "transaction begin", "isolation", level.String())
	tx, err := d.Driver.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &debugTx{Tx: tx, d: d, ctx: ctx}, nil
}

type debugTx struct {
	dialect.Tx
	d   *DebugDriver
	ctx context.Context // of BeginTx, for Commit and Rollback.
}

func (tx *debugTx) Exec(ctx context.Context, query string, args, v any) error {
	tx.d.statement(ctx, query, args, true)
	return tx.Tx.Exec(ctx, query, args, v)
}

func (tx *debugTx) Query(ctx context.Context, query string, args, v any) error {
	tx.d.statement(ctx, query, args, true)
	return tx.Tx.Query(ctx, query, args, v)
}

func (tx *debugTx) Commit() error {
	err := tx.Tx.Commit()
	tx.d.log.DebugContext(tx.ctx, "transaction commit", "error", err)
	return err
}

func (tx *debugTx) Rollback() error {
	err := tx.Tx.Rollback()
	tx.d.log.DebugContext(tx.ctx, "transaction rollback", "error", err)
	return err
}

var (
	_ TxBeginner = (*StatsDriver)(nil)
	_ TxBeginner = (*DebugDriver)(nil)
)
