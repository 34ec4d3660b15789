package migrate

import (
	"fmt"
	"strings"

	"github.com/syssam/modelkit/storage"
)

// Issue is a finding of plan validation.
type Issue struct {
	Position int // step index in the plan.
	Table    string
	Column   string
	Message  string
	// Breaking is set on changes that lose data.
	Breaking bool
}

func (e *Issue) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("%s.%s: %s", e.Table, e.Column, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Table, e.Message)
}

// ValidationResult holds the results of plan validation.
type ValidationResult struct {
	Errors   []*Issue
	Warnings []*Issue
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings.
func (r *ValidationResult) HasWarnings() bool {
	return len(r.Warnings) > 0
}

// HasBreakingChanges returns true if there are any breaking changes.
func (r *ValidationResult) HasBreakingChanges() bool {
	for _, e := range r.Errors {
		if e.Breaking {
			return true
		}
	}
	for _, w := range r.Warnings {
		if w.Breaking {
			return true
		}
	}
	return false
}

// String returns a human-readable summary of the validation result.
func (r *ValidationResult) String() string {
	var sb strings.Builder
	write := func(title string, issues []*Issue) {
		if len(issues) == 0 {
			return
		}
		sb.WriteString(title)
		sb.WriteString(":\n")
		for _, e := range issues {
			sb.WriteString("  - ")
			sb.WriteString(e.Error())
			if e.Breaking {
				sb.WriteString(" [BREAKING]")
			}
			sb.WriteString("\n")
		}
	}
	write("Errors", r.Errors)
	write("Warnings", r.Warnings)
	if !r.HasErrors() && !r.HasWarnings() {
		sb.WriteString("No issues found")
	}
	return sb.String()
}

// ValidateOption configures plan validation.
type ValidateOption func(*validateConfig)

type validateConfig struct {
	allowDropColumn    bool
	allowDropTable     bool
	allowDropIndex     bool
	allowNullToNotNull bool
}

// AllowDropColumn reports dropped columns as warnings.
func AllowDropColumn() ValidateOption {
	return func(c *validateConfig) {
		c.allowDropColumn = true
	}
}

// AllowDropTable reports dropped tables as warnings.
func AllowDropTable() ValidateOption {
	return func(c *validateConfig) {
		c.allowDropTable = true
	}
}

// AllowDropIndex reports dropped indexes as warnings.
func AllowDropIndex() ValidateOption {
	return func(c *validateConfig) {
		c.allowDropIndex = true
	}
}

// AllowNullToNotNull reports nullable columns becoming NOT NULL as warnings.
func AllowNullToNotNull() ValidateOption {
	return func(c *validateConfig) {
		c.allowNullToNotNull = true
	}
}

// Validate reviews the plan before it is approved. Changes that lose data
// are errors unless allowed by an option, changes that may fail on existing
// rows are warnings.
//
//	result := plan.Validate(migrate.AllowDropIndex())
//	if result.HasBreakingChanges() {
//	    log.Fatal("breaking changes detected:\n", result)
//	}
func (p *Plan) Validate(opts ...ValidateOption) *ValidationResult {
	cfg := &validateConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	result := &ValidationResult{}
	report := func(allowed bool, e *Issue) {
		if allowed {
			result.Warnings = append(result.Warnings, e)
		} else {
			result.Errors = append(result.Errors, e)
		}
	}
	warn := func(e *Issue) { result.Warnings = append(result.Warnings, e) }
	// An index dropped only to be added again is a change of definition,
	// and constraints added to new tables cannot fail.
	var (
		readded = make(map[string]bool)
		created = make(map[string]bool)
	)
	for _, s := range p.Steps {
		switch s.Kind {
		case storage.AddIndex:
			readded[s.Table.Name+"."+s.Index.Name] = true
		case storage.CreateTable:
			created[s.Table.Name] = true
		}
	}
	for i, s := range p.Steps {
		table := s.Table.Name
		switch s.Kind {
		case storage.DropTable:
			report(cfg.allowDropTable, &Issue{Position: i, Table: table, Message: "table will be dropped", Breaking: true})
		case storage.DropColumn:
			report(cfg.allowDropColumn, &Issue{Position: i, Table: table, Column: s.Column.Name, Message: "column will be dropped", Breaking: true})
		case storage.DropIndex:
			if !readded[table+"."+s.Index.Name] {
				report(cfg.allowDropIndex, &Issue{Position: i, Table: table, Message: fmt.Sprintf("index %q will be dropped", s.Index.Name)})
			}
		case storage.AddColumn:
			if s.Backfill != nil {
				warn(&Issue{Position: i, Table: table, Column: s.Column.Name, Message: fmt.Sprintf("new NOT NULL column is filled with %v in existing rows", s.Backfill)})
			}
		case storage.AlterColumn:
			from, to := s.From, s.Column
			if !sameType(from.Type, to.Type) {
				warn(&Issue{Position: i, Table: table, Column: to.Name, Message: fmt.Sprintf("column type changing from %v to %v", from.Type, to.Type)})
			}
			if from.Nullable && !to.Nullable {
				report(cfg.allowNullToNotNull, &Issue{Position: i, Table: table, Column: to.Name, Message: "column changing from NULL to NOT NULL may fail if column has NULL values", Breaking: true})
			}
		case storage.AddIndex:
			if s.Index.Unique && !created[table] {
				warn(&Issue{Position: i, Table: table, Message: fmt.Sprintf("adding unique index %q may fail if duplicate values exist", s.Index.Name)})
			}
		case storage.AddForeignKey:
			if created[table] {
				continue
			}
			warn(&Issue{Position: i, Table: table, Column: s.ForeignKey.Column, Message: fmt.Sprintf("adding foreign key %q may fail if orphan rows exist", s.ForeignKey.Name)})
		}
	}
	return result
}
