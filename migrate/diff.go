package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/syssam/modelkit"
	"github.com/syssam/modelkit/graph"
	"github.com/syssam/modelkit/schema/field"
	"github.com/syssam/modelkit/storage"
)

// Option configures Diff.
type Option func(*differ)

// WithLogger sets the logger of the planner.
func WithLogger(l *slog.Logger) Option {
	return func(d *differ) { d.log = l }
}

// WithDefault supplies the value written into the existing rows of table
// when the non-nullable column without a default is added. It does not
// change the column's declared default.
func WithDefault(table, column string, v any) Option {
	return func(d *differ) { d.backfill[table+"."+column] = v }
}

type differ struct {
	log      *slog.Logger
	backfill map[string]any
	errs     []error

	dropFKs, dropIdx, creates, addCols, alters, addFKs, addIdx, dropCols, drops []*storage.Change
}

// Diff computes the plan that migrates the live snapshot to the shape of the
// graph. Adding a non-nullable column without a default to an existing
// table fails with ErrUnsafeNonNullableAddition unless WithDefault supplies
// a value for the existing rows.
func Diff(g *graph.Graph, live *storage.Snapshot, opts ...Option) (*Plan, error) {
	if !g.Sealed() {
		return nil, modelkit.ErrNotValidated
	}
	d := &differ{log: slog.Default(), backfill: make(map[string]any)}
	for _, opt := range opts {
		opt(d)
	}
	if live == nil {
		live = &storage.Snapshot{}
	}
	plan, err := d.diff(Desired(g), live)
	if err != nil {
		return nil, err
	}
	plan.Dialect = live.Dialect
	d.log.Debug("migration planned", "dialect", live.Dialect, "steps", len(plan.Steps), "destructive", len(plan.Destructive()))
	return plan, nil
}

func (d *differ) diff(desired, live *storage.Snapshot) (*Plan, error) {
	var created, dropped []*storage.Table
	for _, t := range desired.Tables {
		cur, ok := live.Table(t.Name)
		if !ok {
			created = append(created, t)
			continue
		}
		d.table(cur, t)
	}
	for _, t := range live.Tables {
		if _, ok := desired.Table(t.Name); !ok {
			dropped = append(dropped, t)
		}
	}
	if len(d.errs) > 0 {
		return nil, modelkit.NewAggregateError(d.errs...)
	}
	d.create(created, live)
	d.drop(dropped)
	plan := &Plan{}
	for _, cs := range [][]*storage.Change{d.dropFKs, d.dropIdx, d.creates, d.addCols, d.alters, d.addFKs, d.addIdx, d.dropCols, d.drops} {
		for _, c := range cs {
			plan.Steps = append(plan.Steps, newStep(c))
		}
	}
	return plan, nil
}

// table compares a live table with its desired shape.
func (d *differ) table(cur, want *storage.Table) {
	ref := &storage.Table{Name: want.Name}
	for _, fk := range cur.ForeignKeys {
		if w, ok := want.ForeignKey(fk.Name); !ok || !sameFK(fk, w) {
			d.dropFKs = append(d.dropFKs, &storage.Change{Kind: storage.DropForeignKey, Table: ref, ForeignKey: fk})
		}
	}
	for _, idx := range cur.Indexes {
		if w, ok := want.Index(idx.Name); !ok || !sameIndex(idx, w) {
			d.dropIdx = append(d.dropIdx, &storage.Change{Kind: storage.DropIndex, Table: ref, Index: idx})
		}
	}
	for _, c := range want.Columns {
		from, ok := cur.Column(c.Name)
		switch {
		case !ok:
			d.addColumn(ref, c)
		case !sameColumn(from, c):
			d.alters = append(d.alters, &storage.Change{Kind: storage.AlterColumn, Table: ref, Column: c, From: from})
		}
	}
	for _, fk := range want.ForeignKeys {
		if f, ok := cur.ForeignKey(fk.Name); !ok || !sameFK(f, fk) {
			d.addFKs = append(d.addFKs, &storage.Change{Kind: storage.AddForeignKey, Table: ref, ForeignKey: fk})
		}
	}
	for _, idx := range want.Indexes {
		if i, ok := cur.Index(idx.Name); !ok || !sameIndex(i, idx) {
			d.addIdx = append(d.addIdx, &storage.Change{Kind: storage.AddIndex, Table: ref, Index: idx})
		}
	}
	for _, c := range cur.Columns {
		if _, ok := want.Column(c.Name); !ok {
			d.dropCols = append(d.dropCols, &storage.Change{Kind: storage.DropColumn, Table: ref, Column: c})
		}
	}
	if !slices.Equal(cur.PrimaryKey, want.PrimaryKey) {
		d.log.Warn("primary key changes are not migrated", "table", want.Name, "live", cur.PrimaryKey, "desired", want.PrimaryKey)
	}
}

func (d *differ) addColumn(t *storage.Table, c *storage.Column) {
	ch := &storage.Change{Kind: storage.AddColumn, Table: t, Column: c}
	if !c.Nullable && c.Default == nil && !c.Increment {
		v, ok := d.backfill[t.Name+"."+c.Name]
		if !ok {
			d.errs = append(d.errs, fmt.Errorf("%w: %s.%s", modelkit.ErrUnsafeNonNullableAddition, t.Name, c.Name))
			return
		}
		nv, err := (&field.Descriptor{Name: c.Name, Type: c.Type}).Normalize(v)
		if err != nil {
			d.errs = append(d.errs, fmt.Errorf("%w: %s.%s: default: %v", modelkit.ErrUnsafeNonNullableAddition, t.Name, c.Name, err))
			return
		}
		ch.Backfill = nv
	}
	d.addCols = append(d.addCols, ch)
}

// create orders the new tables so that a table is created after the tables
// it references. Foreign keys closing a cycle are added once all tables
// exist.
func (d *differ) create(tables []*storage.Table, live *storage.Snapshot) {
	exists := make(map[string]bool, len(live.Tables))
	for _, t := range live.Tables {
		exists[t.Name] = true
	}
	for _, t := range order(tables) {
		t = t.Clone()
		var inline []*storage.ForeignKey
		for _, fk := range t.ForeignKeys {
			if exists[fk.RefTable] || fk.RefTable == t.Name {
				inline = append(inline, fk)
				continue
			}
			d.addFKs = append(d.addFKs, &storage.Change{Kind: storage.AddForeignKey, Table: &storage.Table{Name: t.Name}, ForeignKey: fk})
		}
		t.ForeignKeys = inline
		exists[t.Name] = true
		d.creates = append(d.creates, &storage.Change{Kind: storage.CreateTable, Table: t})
	}
}

// drop removes the tables missing from the graph, referencing tables first.
// Foreign keys closing a cycle between dropped tables are dropped first.
func (d *differ) drop(tables []*storage.Table) {
	ordered := order(tables)
	for i := range ordered {
		ordered[i] = ordered[i].Clone()
	}
	for i := len(ordered) - 1; i >= 0; i-- {
		t := ordered[i]
		for _, other := range ordered[:i] {
			other.ForeignKeys = slices.DeleteFunc(other.ForeignKeys, func(fk *storage.ForeignKey) bool {
				if fk.RefTable != t.Name {
					return false
				}
				d.dropFKs = append(d.dropFKs, &storage.Change{Kind: storage.DropForeignKey, Table: &storage.Table{Name: other.Name}, ForeignKey: fk})
				return true
			})
		}
		d.drops = append(d.drops, &storage.Change{Kind: storage.DropTable, Table: t})
	}
}

// order sorts tables by their references (depth first, by name). A
// reference closing a cycle is ignored.
func order(tables []*storage.Table) []*storage.Table {
	byName := make(map[string]*storage.Table, len(tables))
	for _, t := range tables {
		byName[t.Name] = t
	}
	names := make([]string, 0, len(tables))
	for name := range byName {
		names = append(names, name)
	}
	slices.Sort(names)
	var (
		out   = make([]*storage.Table, 0, len(tables))
		state = make(map[string]int, len(tables))
		visit func(string)
	)
	visit = func(name string) {
		if state[name] != 0 {
			return
		}
		state[name] = 1
		refs := byName[name].References()
		slices.Sort(refs)
		for _, ref := range refs {
			if _, ok := byName[ref]; ok {
				visit(ref)
			}
		}
		state[name] = 2
		out = append(out, byName[name])
	}
	for _, name := range names {
		visit(name)
	}
	return out
}

func sameColumn(a, b *storage.Column) bool {
	return sameType(a.Type, b.Type) && a.Nullable == b.Nullable && a.Increment == b.Increment && field.Equal(a.Default, b.Default)
}

// sameType reports if two field types share a storage type. Enum values
// are stored in string columns and introspected back as strings.
func sameType(a, b field.Type) bool {
	if a == field.TypeEnum {
		a = field.TypeString
	}
	if b == field.TypeEnum {
		b = field.TypeString
	}
	return a == b
}

func sameFK(a, b *storage.ForeignKey) bool {
	return a.Column == b.Column && strings.EqualFold(a.RefTable, b.RefTable) && a.RefColumn == b.RefColumn && action(a.OnDelete) == action(b.OnDelete)
}

// action folds RESTRICT into NO ACTION. Not every dialect reports them
// apart.
func action(a storage.Action) storage.Action {
	if a == "" || a == storage.Restrict {
		return storage.NoAction
	}
	return a
}

func sameIndex(a, b *storage.Index) bool {
	return a.Unique == b.Unique && slices.Equal(a.Columns, b.Columns)
}

// Planner computes plans against a store, capturing a fresh snapshot on
// every call.
type Planner struct {
	g    *graph.Graph
	exec Executor
	opts []Option
}

// NewPlanner returns a planner for the graph and the executor.
func NewPlanner(g *graph.Graph, exec Executor, opts ...Option) *Planner {
	return &Planner{g: g, exec: exec, opts: opts}
}

// Diff inspects the store and returns the plan migrating it to the graph.
func (p *Planner) Diff(ctx context.Context, opts ...Option) (*Plan, error) {
	live, err := p.exec.Inspect(ctx)
	if err != nil {
		return nil, err
	}
	return Diff(p.g, live, append(slices.Clone(p.opts), opts...)...)
}
