package storage_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/modelkit/schema/field"
	"github.com/syssam/modelkit/storage"
)

func TestFilterMatch(t *testing.T) {
	id := uuid.New()
	row := storage.Row{"id": int64(1), "name": "a", "team_id": nil, "token": id}

	tests := []struct {
		name   string
		filter storage.Filter
		match  bool
	}{
		{"empty", storage.Where(), true},
		{"eq", storage.Where(storage.EQ("id", int64(1))), true},
		{"eq_widened", storage.Where(storage.EQ("id", 1)), true},
		{"eq_mismatch", storage.Where(storage.EQ("name", "b")), false},
		{"eq_null", storage.Where(storage.EQ("team_id", nil)), false},
		{"eq_missing_column", storage.Where(storage.EQ("age", 1)), false},
		{"in", storage.Where(storage.In("id", int64(3), int64(1))), true},
		{"in_mismatch", storage.Where(storage.In("id", int64(3))), false},
		{"is_null", storage.Where(storage.IsNull("team_id")), true},
		{"is_null_missing", storage.Where(storage.IsNull("age")), true},
		{"not_null", storage.Where(storage.NotNull("name")), true},
		{"uuid", storage.Where(storage.EQ("token", id)), true},
		{"conjunction", storage.Where(storage.EQ("id", 1), storage.EQ("name", "b")), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.match, tt.filter.Match(row))
		})
	}
}

func TestFilterString(t *testing.T) {
	f := storage.Where(storage.EQ("id", 1), storage.IsNull("team_id"), storage.In("x", 1, 2))
	assert.Equal(t, "id = 1 AND team_id IS NULL AND x IN [1 2]", f.String())
}

func TestTable(t *testing.T) {
	tbl := &storage.Table{
		Name: "heroes",
		Columns: []*storage.Column{
			{Name: "id", Type: field.TypeInt, Increment: true},
			{Name: "team_id", Type: field.TypeInt, Nullable: true},
			{Name: "mentor_id", Type: field.TypeInt, Nullable: true},
		},
		PrimaryKey: []string{"id"},
		ForeignKeys: []*storage.ForeignKey{
			{Name: "heroes_team_id_fkey", Column: "team_id", RefTable: "teams", RefColumn: "id", OnDelete: storage.Cascade},
			{Name: "heroes_mentor_id_fkey", Column: "mentor_id", RefTable: "heroes", RefColumn: "id", OnDelete: storage.SetNull},
		},
		Indexes: []*storage.Index{{Name: "heroes_team_id_idx", Columns: []string{"team_id"}}},
	}
	_, ok := tbl.Column("team_id")
	assert.True(t, ok)
	_, ok = tbl.ForeignKey("heroes_team_id_fkey")
	assert.True(t, ok)
	_, ok = tbl.Index("missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"teams"}, tbl.References())

	c := tbl.Clone()
	c.Columns[0].Name = "pk"
	c.Indexes[0].Columns[0] = "x"
	c.ForeignKeys[0].OnDelete = storage.NoAction
	assert.Equal(t, "id", tbl.Columns[0].Name)
	assert.Equal(t, "team_id", tbl.Indexes[0].Columns[0])
	assert.Equal(t, storage.Cascade, tbl.ForeignKeys[0].OnDelete)

	snap := &storage.Snapshot{Tables: []*storage.Table{tbl}}
	got, ok := snap.Clone().Table("heroes")
	require.True(t, ok)
	assert.Equal(t, tbl, got)
}

func TestChangeString(t *testing.T) {
	tbl := &storage.Table{Name: "users"}
	assert.Equal(t, "CreateTable users", (&storage.Change{Kind: storage.CreateTable, Table: tbl}).String())
	assert.Equal(t, "AddColumn users.email", (&storage.Change{Kind: storage.AddColumn, Table: tbl, Column: &storage.Column{Name: "email"}}).String())
	assert.Equal(t, "DropIndex users.users_email_key", (&storage.Change{Kind: storage.DropIndex, Table: tbl, Index: &storage.Index{Name: "users_email_key"}}).String())
	assert.Equal(t, "Invalid", storage.ChangeKind(0).String())
}
