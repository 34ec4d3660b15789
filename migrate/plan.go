package migrate

import (
	"fmt"
	"strings"

	"github.com/syssam/modelkit/schema/field"
	"github.com/syssam/modelkit/storage"
)

// Phase is the position of a step kind in the plan order.
type Phase uint8

// Plan phases, in application order.
const (
	PhaseDropForeignKeys Phase = iota + 1
	PhaseDropIndexes
	PhaseCreateTables
	PhaseAddColumns
	PhaseAlterColumns
	PhaseAddForeignKeys
	PhaseAddIndexes
	PhaseDropColumns
	PhaseDropTables
)

var phases = map[storage.ChangeKind]Phase{
	storage.DropForeignKey: PhaseDropForeignKeys,
	storage.DropIndex:      PhaseDropIndexes,
	storage.CreateTable:    PhaseCreateTables,
	storage.AddColumn:      PhaseAddColumns,
	storage.AlterColumn:    PhaseAlterColumns,
	storage.AddForeignKey:  PhaseAddForeignKeys,
	storage.AddIndex:       PhaseAddIndexes,
	storage.DropColumn:     PhaseDropColumns,
	storage.DropTable:      PhaseDropTables,
}

// Step is one change of a plan.
type Step struct {
	*storage.Change
	// Destructive is set on steps that lose data or may fail on existing
	// rows: dropped tables and columns, narrowed columns.
	Destructive bool
}

// Phase returns the phase of the step.
func (s *Step) Phase() Phase { return phases[s.Kind] }

// Inverse returns the step undoing this one. The inverse restores the
// shape, not the data removed by a destructive step.
func (s *Step) Inverse() *Step {
	c := *s.Change
	c.Backfill = nil
	switch s.Kind {
	case storage.CreateTable:
		c.Kind = storage.DropTable
	case storage.DropTable:
		c.Kind = storage.CreateTable
	case storage.AddColumn:
		c.Kind = storage.DropColumn
	case storage.DropColumn:
		c.Kind = storage.AddColumn
		if col := c.Column; !col.Nullable && col.Default == nil && !col.Increment {
			c.Backfill = zero(col.Type)
		}
	case storage.AlterColumn:
		c.Column, c.From = s.From, s.Column
	case storage.AddForeignKey:
		c.Kind = storage.DropForeignKey
	case storage.DropForeignKey:
		c.Kind = storage.AddForeignKey
	case storage.AddIndex:
		c.Kind = storage.DropIndex
	case storage.DropIndex:
		c.Kind = storage.AddIndex
	}
	return newStep(&c)
}

// String implements fmt.Stringer.
func (s *Step) String() string {
	if s.Destructive {
		return s.Change.String() + " [destructive]"
	}
	return s.Change.String()
}

func newStep(c *storage.Change) *Step {
	s := &Step{Change: c}
	switch c.Kind {
	case storage.DropTable, storage.DropColumn:
		s.Destructive = true
	case storage.AlterColumn:
		s.Destructive = !sameType(c.From.Type, c.Column.Type) || c.From.Nullable && !c.Column.Nullable
	}
	return s
}

// zero is the value written into existing rows when a dropped NOT NULL
// column without a default is restored.
func zero(t field.Type) any {
	switch t {
	case field.TypeBool:
		return false
	case field.TypeInt:
		return int64(0)
	case field.TypeFloat:
		return float64(0)
	case field.TypeBytes:
		return []byte{}
	case field.TypeJSON:
		return map[string]any{}
	case field.TypeTime:
		return "1970-01-01T00:00:00Z"
	case field.TypeUUID:
		return "00000000-0000-0000-0000-000000000000"
	}
	return ""
}

// Plan is an ordered list of migration steps.
type Plan struct {
	// Dialect of the snapshot the plan was computed against.
	Dialect string
	Steps   []*Step
}

// Empty reports whether the plan has no steps.
func (p *Plan) Empty() bool { return len(p.Steps) == 0 }

// Destructive returns the destructive steps of the plan.
func (p *Plan) Destructive() []*Step {
	var steps []*Step
	for _, s := range p.Steps {
		if s.Destructive {
			steps = append(steps, s)
		}
	}
	return steps
}

// Changes returns the storage changes of the plan.
func (p *Plan) Changes() []*storage.Change {
	cs := make([]*storage.Change, len(p.Steps))
	for i, s := range p.Steps {
		cs[i] = s.Change
	}
	return cs
}

// Reverse returns the plan undoing p: the inverse of every step, last
// step first.
func (p *Plan) Reverse() *Plan {
	r := &Plan{Dialect: p.Dialect, Steps: make([]*Step, len(p.Steps))}
	for i, s := range p.Steps {
		r.Steps[len(p.Steps)-1-i] = s.Inverse()
	}
	return r
}

// String returns one numbered line per step.
func (p *Plan) String() string {
	if p.Empty() {
		return "no changes"
	}
	var b strings.Builder
	for i, s := range p.Steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	return b.String()
}
