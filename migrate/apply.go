package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/syssam/modelkit"
	"github.com/syssam/modelkit/storage"
)

// Executor introspects and changes a persisted schema. It is implemented by
// the memstore and sqlstore packages.
type Executor = storage.Migrator

// ApplyOption configures Apply.
type ApplyOption func(*applier)

// AllowDestructive approves the destructive steps of the plan.
func AllowDestructive() ApplyOption {
	return func(a *applier) { a.destructive = true }
}

// WithApplyLogger sets the logger of Apply.
func WithApplyLogger(l *slog.Logger) ApplyOption {
	return func(a *applier) { a.log = l }
}

type applier struct {
	log         *slog.Logger
	destructive bool
}

// Applied reports the outcome of Apply.
type Applied struct {
	// Steps is the number of steps applied, Groups the number of committed
	// transactions.
	Steps    int
	Groups   int
	Duration time.Duration
}

// Apply executes the plan. Consecutive steps of the same phase and table
// form a group, applied in one transaction. When a group fails, Apply
// stops and returns a *modelkit.StepError with the position of the first
// step of the failed group; the groups applied before it stay applied.
func Apply(ctx context.Context, exec Executor, plan *Plan, opts ...ApplyOption) (*Applied, error) {
	a := &applier{log: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	res := &Applied{}
	if ds := plan.Destructive(); len(ds) > 0 && !a.destructive {
		return res, fmt.Errorf("%w: %d steps, first %s", modelkit.ErrDestructiveStep, len(ds), ds[0])
	}
	start := time.Now()
	for _, g := range groups(plan.Steps) {
		changes := make([]*storage.Change, len(g.steps))
		for i, s := range g.steps {
			changes[i] = s.Change
		}
		if err := exec.Apply(ctx, changes); err != nil {
			a.log.ErrorContext(ctx, "migration step failed", "position", g.start, "step", g.steps[0].String(), "error", err)
			return res, &modelkit.StepError{Position: g.start, Applied: res.Steps, Step: g.steps[0].String(), Err: err}
		}
		res.Steps += len(g.steps)
		res.Groups++
		a.log.DebugContext(ctx, "migration group applied", "position", g.start, "steps", len(g.steps), "phase", g.steps[0].Phase())
	}
	res.Duration = time.Since(start)
	a.log.InfoContext(ctx, "migration applied", "steps", res.Steps, "groups", res.Groups, "duration", res.Duration)
	return res, nil
}

type group struct {
	start int
	steps []*Step
}

func groups(steps []*Step) []group {
	var gs []group
	for i, s := range steps {
		if n := len(gs); n > 0 {
			last := gs[n-1].steps[0]
			if last.Phase() == s.Phase() && last.Table.Name == s.Table.Name {
				gs[n-1].steps = append(gs[n-1].steps, s)
				continue
			}
		}
		gs = append(gs, group{start: i, steps: []*Step{s}})
	}
	return gs
}
