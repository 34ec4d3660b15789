// Package config loads the engine configuration from a YAML file and the
// environment, and opens the configured store.
//
//	dialect: postgres
//	dsn: postgres://modelkit@localhost/modelkit?sslmode=disable
//	isolation: repeatable-read
//	pool:
//	  max_open: 16
//	slow_query: 200ms
//	migrate:
//	  defaults:
//	    users.email: unknown@example.com
//
// Every field can be overridden by a MODELKIT_* environment variable, read
// after an optional .env file.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/syssam/modelkit"
	"github.com/syssam/modelkit/dialect"
	"github.com/syssam/modelkit/dialect/sql"
	"github.com/syssam/modelkit/graph"
	"github.com/syssam/modelkit/migrate"
	"github.com/syssam/modelkit/schema/load"
	"github.com/syssam/modelkit/storage"
	"github.com/syssam/modelkit/storage/memstore"
	"github.com/syssam/modelkit/storage/sqlstore"
)

// EnvPrefix prefixes the environment variables read by Load.
const EnvPrefix = "MODELKIT_"

// Config is the engine configuration.
type Config struct {
	// Dialect is one of memory, sqlite, postgres and mysql.
	Dialect string `yaml:"dialect"`
	// Driver is the database/sql driver name. It defaults to the dialect;
	// "pgx" selects the pgx driver for postgres.
	Driver    string `yaml:"driver,omitempty"`
	DSN       string `yaml:"dsn,omitempty"`
	Pool      Pool   `yaml:"pool,omitempty"`
	Isolation string `yaml:"isolation,omitempty"`
	// LockTimeout bounds row lock waits on postgres.
	LockTimeout time.Duration `yaml:"lock_timeout,omitempty"`
	// SlowQuery enables query statistics and logs the queries slower than
	// the threshold.
	SlowQuery time.Duration `yaml:"slow_query,omitempty"`
	// Debug logs every statement at the debug level. It takes precedence
	// over SlowQuery.
	Debug    bool   `yaml:"debug,omitempty"`
	LogLevel string `yaml:"log_level,omitempty"`
	// Schema is a directory of YAML entity declarations.
	Schema  string  `yaml:"schema,omitempty"`
	Migrate Migrate `yaml:"migrate,omitempty"`
}

// Pool holds the connection pool limits.
type Pool struct {
	MaxOpen     int           `yaml:"max_open,omitempty"`
	MaxIdle     int           `yaml:"max_idle,omitempty"`
	MaxLifetime time.Duration `yaml:"max_lifetime,omitempty"`
}

// Migrate holds the migration settings.
type Migrate struct {
	AllowDestructive bool `yaml:"allow_destructive,omitempty"`
	// Defaults fill the existing rows of added NOT NULL columns, keyed by
	// "table.column".
	Defaults map[string]any `yaml:"defaults,omitempty"`
}

// Default returns the configuration of an in-memory store.
func Default() *Config {
	return &Config{Dialect: dialect.Memory, LogLevel: "info"}
}

// Load reads the configuration file, if path is not empty, and applies the
// environment overrides. A .env file in the working directory is loaded
// first when it exists.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := c.FromEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return c, c.Validate()
}

// FromEnv applies the MODELKIT_* overrides returned by lookup.
func (c *Config) FromEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	var errs []error
	num := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	str("DIALECT", &c.Dialect)
	str("DRIVER", &c.Driver)
	str("DSN", &c.DSN)
	str("ISOLATION", &c.Isolation)
	str("LOG_LEVEL", &c.LogLevel)
	str("SCHEMA", &c.Schema)
	num("MAX_OPEN_CONNS", &c.Pool.MaxOpen)
	num("MAX_IDLE_CONNS", &c.Pool.MaxIdle)
	dur("CONN_MAX_LIFETIME", &c.Pool.MaxLifetime)
	dur("LOCK_TIMEOUT", &c.LockTimeout)
	dur("SLOW_QUERY", &c.SlowQuery)
	if v, ok := lookup(EnvPrefix + "DEBUG"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: %sDEBUG: %w", EnvPrefix, err))
		} else {
			c.Debug = b
		}
	}
	if v, ok := lookup(EnvPrefix + "ALLOW_DESTRUCTIVE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: %sALLOW_DESTRUCTIVE: %w", EnvPrefix, err))
		} else {
			c.Migrate.AllowDestructive = b
		}
	}
	return errors.Join(errs...)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error
	switch c.Dialect {
	case dialect.Memory:
	case dialect.SQLite, dialect.Postgres, dialect.MySQL:
		if c.DSN == "" {
			errs = append(errs, fmt.Errorf("config: dsn is required for %s", c.Dialect))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown dialect %q", c.Dialect))
	}
	if _, err := c.IsolationLevel(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	for key := range c.Migrate.Defaults {
		if t, col, ok := strings.Cut(key, "."); !ok || t == "" || col == "" {
			errs = append(errs, fmt.Errorf("config: migrate default %q is not table.column", key))
		}
	}
	return errors.Join(errs...)
}

// IsolationLevel returns the configured transaction isolation level.
func (c *Config) IsolationLevel() (sql.IsolationLevel, error) {
	switch strings.ToLower(strings.ReplaceAll(c.Isolation, "_", "-")) {
	case "", "default":
		return sql.LevelDefault, nil
	case "read-committed":
		return sql.LevelReadCommitted, nil
	case "repeatable-read":
		return sql.LevelRepeatableRead, nil
	case "serializable":
		return sql.LevelSerializable, nil
	}
	return sql.LevelDefault, fmt.Errorf("config: unknown isolation level %q", c.Isolation)
}

// Level returns the configured log level.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("config: %w", err)
	}
	return l, nil
}

// Logger returns a text logger writing to w at the configured level.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	l, _ := c.Level()
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
}

// Backend is a store that can be migrated.
type Backend interface {
	storage.Store
	storage.Migrator
}

// Open opens the configured store and checks that it is reachable.
func (c *Config) Open(ctx context.Context, log *slog.Logger) (Backend, error) {
	if log == nil {
		log = slog.Default()
	}
	if c.Dialect == dialect.Memory {
		return memstore.New(memstore.WithLogger(log)), nil
	}
	level, err := c.IsolationLevel()
	if err != nil {
		return nil, err
	}
	name := c.Driver
	if name == "" {
		name = c.Dialect
	}
	drv, err := sql.Open(name, c.DSN)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", name, err)
	}
	db := drv.DB()
	if c.Pool.MaxOpen > 0 {
		db.SetMaxOpenConns(c.Pool.MaxOpen)
	}
	if c.Pool.MaxIdle > 0 {
		db.SetMaxIdleConns(c.Pool.MaxIdle)
	}
	if c.Pool.MaxLifetime > 0 {
		db.SetConnMaxLifetime(c.Pool.MaxLifetime)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		drv.Close()
		return nil, modelkit.StorageUnavailable("ping", err)
	}
	opts := []sqlstore.Option{
		sqlstore.WithLogger(log),
		sqlstore.WithIsolation(level),
		sqlstore.WithLockTimeout(c.LockTimeout),
	}
	var d sqlstore.Driver = drv
	switch {
	case c.Debug:
		d = sql.NewDebugDriver(drv, log)
	case c.SlowQuery > 0:
		d = sql.NewStatsDriver(drv, sql.WithSlowThreshold(c.SlowQuery), sql.WithSlowQueryLog(log))
	}
	log.InfoContext(ctx, "store opened", "dialect", drv.Dialect(), "driver", name)
	return sqlstore.New(d, opts...), nil
}

// Graph loads the entity declarations of the schema directory and returns
// the validated graph.
func (c *Config) Graph(ctx context.Context, log *slog.Logger) (*graph.Graph, error) {
	if c.Schema == "" {
		return nil, errors.New("config: no schema directory")
	}
	entities, err := load.Dir(ctx, c.Schema)
	if err != nil {
		return nil, err
	}
	var opts []graph.Option
	if log != nil {
		opts = append(opts, graph.WithLogger(log))
	}
	g := graph.New(opts...)
	if err := g.Register(entities...); err != nil {
		return nil, err
	}
	return g, g.Validate()
}

// DiffOptions returns the planner options of the configuration.
func (c *Config) DiffOptions() []migrate.Option {
	var opts []migrate.Option
	for key, v := range c.Migrate.Defaults {
		t, col, _ := strings.Cut(key, ".")
		opts = append(opts, migrate.WithDefault(t, col, v))
	}
	return opts
}

// ApplyOptions returns the options of migrate.Apply.
func (c *Config) ApplyOptions() []migrate.ApplyOption {
	if c.Migrate.AllowDestructive {
		return []migrate.ApplyOption{migrate.AllowDestructive()}
	}
	return nil
}
