package migrate

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/modelkit/schema/field"
	"github.com/syssam/modelkit/storage"
)

func cyclic() []*storage.Table {
	ref := func(name, column, to string) *storage.Table {
		return &storage.Table{
			Name:        name,
			Columns:     []*storage.Column{{Name: "id", Type: field.TypeInt}, {Name: column, Type: field.TypeInt, Nullable: true}},
			PrimaryKey:  []string{"id"},
			ForeignKeys: []*storage.ForeignKey{{Name: name + "_" + column + "_fkey", Column: column, RefTable: to, RefColumn: "id", OnDelete: storage.SetNull}},
		}
	}
	return []*storage.Table{ref("a", "b_id", "b"), ref("b", "a_id", "a"), ref("c", "c_id", "c")}
}

func TestOrder(t *testing.T) {
	var names []string
	for _, tb := range order(cyclic()) {
		names = append(names, tb.Name)
	}
	assert.Equal(t, []string{"b", "a", "c"}, names)
}

func TestCyclicCreate(t *testing.T) {
	d := &differ{log: slog.Default(), backfill: map[string]any{}}
	plan, err := d.diff(&storage.Snapshot{Tables: cyclic()}, &storage.Snapshot{})
	require.NoError(t, err)
	var steps []string
	for _, s := range plan.Steps {
		steps = append(steps, s.Change.String())
	}
	assert.Equal(t, []string{
		"CreateTable b",
		"CreateTable a",
		"CreateTable c",
		"AddForeignKey b.b_a_id_fkey",
	}, steps)
	b, _ := plan.Steps[0].Table.Column("a_id")
	assert.NotNil(t, b)
	assert.Empty(t, plan.Steps[0].Table.ForeignKeys, "deferred until a exists")
	assert.Len(t, plan.Steps[1].Table.ForeignKeys, 1)
	assert.Len(t, plan.Steps[2].Table.ForeignKeys, 1, "self reference is inline")
}

func TestCyclicDrop(t *testing.T) {
	d := &differ{log: slog.Default(), backfill: map[string]any{}}
	plan, err := d.diff(&storage.Snapshot{}, &storage.Snapshot{Tables: cyclic()})
	require.NoError(t, err)
	var steps []string
	for _, s := range plan.Steps {
		steps = append(steps, s.Change.String())
	}
	assert.Equal(t, []string{
		"DropForeignKey b.b_a_id_fkey",
		"DropTable c",
		"DropTable a",
		"DropTable b",
	}, steps)
	for _, s := range plan.Steps[1:] {
		assert.True(t, s.Destructive)
	}
}

func TestGroups(t *testing.T) {
	ref := &storage.Table{Name: "t"}
	steps := []*Step{
		newStep(&storage.Change{Kind: storage.DropIndex, Table: ref, Index: &storage.Index{Name: "i1"}}),
		newStep(&storage.Change{Kind: storage.DropIndex, Table: ref, Index: &storage.Index{Name: "i2"}}),
		newStep(&storage.Change{Kind: storage.AddColumn, Table: ref, Column: &storage.Column{Name: "c"}}),
		newStep(&storage.Change{Kind: storage.AddColumn, Table: &storage.Table{Name: "u"}, Column: &storage.Column{Name: "c"}}),
	}
	gs := groups(steps)
	require.Len(t, gs, 3)
	assert.Equal(t, 0, gs[0].start)
	assert.Len(t, gs[0].steps, 2)
	assert.Equal(t, 2, gs[1].start)
	assert.Equal(t, 3, gs[2].start)
}

func TestSameType(t *testing.T) {
	assert.True(t, sameType(field.TypeEnum, field.TypeString))
	assert.True(t, sameType(field.TypeString, field.TypeEnum))
	assert.True(t, sameType(field.TypeEnum, field.TypeEnum))
	assert.False(t, sameType(field.TypeEnum, field.TypeInt))
	assert.False(t, sameType(field.TypeString, field.TypeBytes))

	alter := newStep(&storage.Change{
		Kind:   storage.AlterColumn,
		Table:  &storage.Table{Name: "memberships"},
		From:   &storage.Column{Name: "role", Type: field.TypeString, Default: "member"},
		Column: &storage.Column{Name: "role", Type: field.TypeEnum, Default: "admin"},
	})
	assert.False(t, alter.Destructive, "a default change on an enum column only")
}
