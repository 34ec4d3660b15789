package config_test

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/modelkit/config"
	"github.com/syssam/modelkit/dialect"
	"github.com/syssam/modelkit/dialect/sql"
	"github.com/syssam/modelkit/migrate"
	"github.com/syssam/modelkit/session"
	"github.com/syssam/modelkit/storage/memstore"
	"github.com/syssam/modelkit/storage/sqlstore"
)

const declarations = `
entities:
  - name: Team
    fields:
      - {name: name, type: string, min_len: 1, unique: true}
    edges:
      - {name: heroes, to: Hero, cascade: true}
  - name: Hero
    fields:
      - {name: name, type: string}
    edges:
      - {name: team, from: Team, ref: heroes, unique: true}
`

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := write(t, t.TempDir(), "modelkit.yaml", `
dialect: postgres
dsn: postgres://localhost/modelkit
isolation: repeatable_read
lock_timeout: 2s
slow_query: 150ms
log_level: debug
pool:
  max_open: 8
  max_lifetime: 1m
migrate:
  allow_destructive: true
  defaults:
    heroes.level: 1
`)
	c, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, dialect.Postgres, c.Dialect)
	assert.Equal(t, 2*time.Second, c.LockTimeout)
	assert.Equal(t, 150*time.Millisecond, c.SlowQuery)
	assert.Equal(t, 8, c.Pool.MaxOpen)
	assert.Equal(t, time.Minute, c.Pool.MaxLifetime)
	assert.True(t, c.Migrate.AllowDestructive)
	assert.Len(t, c.DiffOptions(), 1)
	assert.Len(t, c.ApplyOptions(), 1)

	level, err := c.IsolationLevel()
	require.NoError(t, err)
	assert.Equal(t, sql.LevelRepeatableRead, level)
	l, err := c.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, l)
}

func TestLoadDefault(t *testing.T) {
	c, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), c)
	assert.Empty(t, c.ApplyOptions())
}

func TestFromEnv(t *testing.T) {
	env := map[string]string{
		"MODELKIT_DIALECT":           "sqlite",
		"MODELKIT_DSN":               "file:test.db",
		"MODELKIT_MAX_OPEN_CONNS":    "4",
		"MODELKIT_SLOW_QUERY":        "1s",
		"MODELKIT_ALLOW_DESTRUCTIVE": "true",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	c := config.Default()
	require.NoError(t, c.FromEnv(lookup))
	assert.Equal(t, dialect.SQLite, c.Dialect)
	assert.Equal(t, "file:test.db", c.DSN)
	assert.Equal(t, 4, c.Pool.MaxOpen)
	assert.Equal(t, time.Second, c.SlowQuery)
	assert.True(t, c.Migrate.AllowDestructive)

	env["MODELKIT_MAX_OPEN_CONNS"] = "many"
	env["MODELKIT_SLOW_QUERY"] = "slow"
	err := c.FromEnv(lookup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MODELKIT_MAX_OPEN_CONNS")
	assert.Contains(t, err.Error(), "MODELKIT_SLOW_QUERY")
	assert.Equal(t, 4, c.Pool.MaxOpen, "invalid override ignored")
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "modelkit.yaml", "dialect: sqlite\ndsn: file:a.db\n")
	t.Setenv("MODELKIT_DSN", "file:b.db")
	c, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file:b.db", c.DSN, "environment wins over the file")

	write(t, dir, ".env", "MODELKIT_LOG_LEVEL=warn\n")
	t.Chdir(dir)
	t.Cleanup(func() { os.Unsetenv("MODELKIT_LOG_LEVEL") })
	c, err = config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", c.LogLevel)
}

func TestValidate(t *testing.T) {
	c := &config.Config{
		Dialect:   "oracle",
		Isolation: "chaos",
		LogLevel:  "loud",
		Migrate:   config.Migrate{Defaults: map[string]any{"level": 1}},
	}
	err := c.Validate()
	require.Error(t, err)
	for _, msg := range []string{`unknown dialect "oracle"`, `unknown isolation level "chaos"`, `"level" is not table.column`} {
		assert.Contains(t, err.Error(), msg)
	}
	c = &config.Config{Dialect: dialect.Postgres}
	assert.ErrorContains(t, c.Validate(), "dsn is required")
}

func TestOpenMemory(t *testing.T) {
	b, err := config.Default().Open(context.Background(), nil)
	require.NoError(t, err)
	defer b.Close()
	assert.IsType(t, &memstore.Store{}, b)
	assert.Equal(t, dialect.Memory, b.Dialect())
}

func TestOpenSQLite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	write(t, dir, "heroes.yaml", declarations)
	c := &config.Config{
		Dialect:   dialect.SQLite,
		DSN:       "file:" + filepath.Join(dir, "test.db") + "?_pragma=foreign_keys(1)",
		SlowQuery: time.Hour,
		Schema:    dir,
		Pool:      config.Pool{MaxOpen: 1},
	}
	require.NoError(t, c.Validate())
	var buf bytes.Buffer
	log := c.Logger(&buf)
	b, err := c.Open(ctx, log)
	require.NoError(t, err)
	defer b.Close()
	store, ok := b.(*sqlstore.Store)
	require.True(t, ok)
	stats, ok := store.Driver().(*sql.StatsDriver)
	require.True(t, ok, "slow query threshold enables statistics")
	assert.Contains(t, buf.String(), "store opened")

	g, err := c.Graph(ctx, log)
	require.NoError(t, err)
	live, err := b.Inspect(ctx)
	require.NoError(t, err)
	plan, err := migrate.Diff(g, live, c.DiffOptions()...)
	require.NoError(t, err)
	_, err = migrate.Apply(ctx, b, plan, c.ApplyOptions()...)
	require.NoError(t, err)

	s, err := session.Open(ctx, g, b)
	require.NoError(t, err)
	defer s.Close()
	team := session.New("Team", map[string]any{"name": "avengers"})
	require.NoError(t, s.Create(team))
	_, err = s.Commit(ctx)
	require.NoError(t, err)
	snap := stats.Stats()
	assert.EqualValues(t, 1, snap.Statements[sql.Key{Op: sql.OpInsert, Table: "teams"}].Count)
	assert.NotZero(t, snap.Table("teams").Count)
	assert.EqualValues(t, 1, snap.Commits)
}

func TestOpenDebug(t *testing.T) {
	ctx := context.Background()
	c := &config.Config{
		Dialect:  dialect.SQLite,
		DSN:      "file:" + filepath.Join(t.TempDir(), "test.db"),
		Debug:    true,
		LogLevel: "debug",
	}
	var buf bytes.Buffer
	b, err := c.Open(ctx, c.Logger(&buf))
	require.NoError(t, err)
	defer b.Close()
	_, ok := b.(*sqlstore.Store).Driver().(*sql.DebugDriver)
	require.True(t, ok)

	c2, err := b.Conn(ctx)
	require.NoError(t, err)
	defer c2.Close()
	tx, err := c2.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	assert.Contains(t, buf.String(), "transaction begin")
	assert.Contains(t, buf.String(), "transaction rollback")
}

func TestOpenUnreachable(t *testing.T) {
	c := &config.Config{Dialect: dialect.SQLite, DSN: "file:" + filepath.Join(t.TempDir(), "missing", "test.db") + "?mode=ro"}
	_, err := c.Open(context.Background(), nil)
	require.Error(t, err)
}

func TestGraphWithoutSchema(t *testing.T) {
	_, err := config.Default().Graph(context.Background(), nil)
	assert.EqualError(t, err, "config: no schema directory")
}
