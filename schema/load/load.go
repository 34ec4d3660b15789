// Package load reads entity declarations from YAML documents.
//
// A document holds an ordered list of entities:
//
//	entities:
//	  - name: Team
//	    fields:
//	      - {name: name, type: string, min_len: 1}
//	    edges:
//	      - {name: heroes, to: Hero, cascade: true}
//	  - name: Hero
//	    fields:
//	      - {name: name, type: string}
//	      - {name: created_at, type: time, generated: true, default_func: now}
//	    edges:
//	      - {name: team, from: Team, ref: heroes, unique: true, required: true}
package load

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/syssam/modelkit/schema"
	"github.com/syssam/modelkit/schema/edge"
	"github.com/syssam/modelkit/schema/field"
	"github.com/syssam/modelkit/schema/index"
)

// yamlDocument is the YAML representation of a set of entities.
type yamlDocument struct {
	Entities []*yamlEntity `yaml:"entities"`
}

// yamlEntity is the YAML representation of schema.Entity.
type yamlEntity struct {
	Name    string       `yaml:"name"`
	Table   string       `yaml:"table,omitempty"`
	Comment string       `yaml:"comment,omitempty"`
	Fields  []*yamlField `yaml:"fields,omitempty"`
	Edges   []*yamlEdge  `yaml:"edges,omitempty"`
	Indexes []*yamlIndex `yaml:"indexes,omitempty"`
}

// yamlField is the YAML representation of field.Descriptor.
type yamlField struct {
	Name        string   `yaml:"name"`
	Type        string   `yaml:"type"`
	Optional    bool     `yaml:"optional,omitempty"`
	Nillable    bool     `yaml:"nillable,omitempty"`
	Default     any      `yaml:"default,omitempty"`
	DefaultFunc string   `yaml:"default_func,omitempty"`
	Unique      bool     `yaml:"unique,omitempty"`
	Index       bool     `yaml:"index,omitempty"`
	Immutable   bool     `yaml:"immutable,omitempty"`
	Sensitive   bool     `yaml:"sensitive,omitempty"`
	Generated   bool     `yaml:"generated,omitempty"`
	PrimaryKey  bool     `yaml:"primary_key,omitempty"`
	Min         *float64 `yaml:"min,omitempty"`
	Max         *float64 `yaml:"max,omitempty"`
	MinLen      *int     `yaml:"min_len,omitempty"`
	MaxLen      *int     `yaml:"max_len,omitempty"`
	Values      []string `yaml:"values,omitempty"`
	Check       string   `yaml:"check,omitempty"`
	Comment     string   `yaml:"comment,omitempty"`
}

// yamlEdge is the YAML representation of edge.Descriptor. Exactly one of
// To and From is set.
type yamlEdge struct {
	Name     string `yaml:"name"`
	To       string `yaml:"to,omitempty"`
	From     string `yaml:"from,omitempty"`
	Ref      string `yaml:"ref,omitempty"`
	Field    string `yaml:"field,omitempty"`
	Through  string `yaml:"through,omitempty"`
	Unique   bool   `yaml:"unique,omitempty"`
	Required bool   `yaml:"required,omitempty"`
	Cascade  bool   `yaml:"cascade,omitempty"`
	Comment  string `yaml:"comment,omitempty"`
}

// yamlIndex is the YAML representation of index.Descriptor.
type yamlIndex struct {
	Fields []string `yaml:"fields"`
	Unique bool     `yaml:"unique,omitempty"`
	Name   string   `yaml:"name,omitempty"`
}

// factories are the default functions that can be named by default_func.
var factories = map[string]func() any{
	"now":  func() any { return time.Now().UTC() },
	"uuid": func() any { return uuid.New() },
}

// Parse decodes the entities of a YAML document.
func Parse(data []byte) ([]*schema.Entity, error) {
	var doc yamlDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing declarations: %w", err)
	}
	entities := make([]*schema.Entity, 0, len(doc.Entities))
	for _, ye := range doc.Entities {
		e, err := ye.entity()
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, nil
}

// File loads the entities declared in a YAML file.
func File(path string) ([]*schema.Entity, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading declarations: %w", err)
	}
	entities, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entities, nil
}

// Dir loads every .yaml and .yml file of a directory. Files are read
// concurrently; entities are returned in file name order.
func Dir(ctx context.Context, dir string) ([]*schema.Entity, error) {
	paths, err := files(dir)
	if err != nil {
		return nil, err
	}
	results := make([][]*schema.Entity, len(paths))
	eg, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			entities, err := File(path)
			if err != nil {
				return err
			}
			results[i] = entities
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return slices.Concat(results...), nil
}

func files(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading declarations directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && isDeclaration(e.Name()) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(paths)
	return paths, nil
}

func isDeclaration(path string) bool {
	name := filepath.Base(path)
	ext := filepath.Ext(name)
	return (ext == ".yaml" || ext == ".yml") && !strings.HasPrefix(name, ".")
}

func (ye *yamlEntity) entity() (*schema.Entity, error) {
	if ye.Name == "" {
		return nil, fmt.Errorf("entity without a name")
	}
	e := &schema.Entity{Name: ye.Name, Table: ye.Table, Comment: ye.Comment}
	for _, yf := range ye.Fields {
		fd, err := yf.descriptor()
		if err != nil {
			return nil, fmt.Errorf("entity %s, field %s: %w", ye.Name, yf.Name, err)
		}
		e.Fields = append(e.Fields, fd)
	}
	for _, yd := range ye.Edges {
		ed, err := yd.descriptor()
		if err != nil {
			return nil, fmt.Errorf("entity %s, edge %s: %w", ye.Name, yd.Name, err)
		}
		e.Edges = append(e.Edges, ed)
	}
	for _, yi := range ye.Indexes {
		b := index.Fields(yi.Fields...)
		if yi.Unique {
			b.Unique()
		}
		if yi.Name != "" {
			b.StorageKey(yi.Name)
		}
		e.Indexes = append(e.Indexes, b.Descriptor())
	}
	return e, nil
}

func (yf *yamlField) descriptor() (*field.Descriptor, error) {
	t, ok := field.ParseType(yf.Type)
	if !ok {
		return nil, fmt.Errorf("unknown type %q", yf.Type)
	}
	b := field.Of(yf.Name, t)
	if yf.Optional {
		b.Optional()
	}
	if yf.Nillable {
		b.Nillable()
	}
	if yf.Default != nil {
		b.Default(yf.Default)
	}
	if yf.DefaultFunc != "" {
		fn, ok := factories[yf.DefaultFunc]
		if !ok {
			return nil, fmt.Errorf("unknown default function %q", yf.DefaultFunc)
		}
		b.DefaultFunc(fn)
	}
	if yf.Unique {
		b.Unique()
	}
	if yf.Index {
		b.Index()
	}
	if yf.Immutable {
		b.Immutable()
	}
	if yf.Sensitive {
		b.Sensitive()
	}
	if yf.Generated {
		b.Generated()
	}
	if yf.PrimaryKey {
		b.PrimaryKey()
	}
	if yf.Min != nil {
		b.Min(*yf.Min)
	}
	if yf.Max != nil {
		b.Max(*yf.Max)
	}
	if yf.MinLen != nil {
		b.MinLen(*yf.MinLen)
	}
	if yf.MaxLen != nil {
		b.MaxLen(*yf.MaxLen)
	}
	return b.Values(yf.Values...).Check(yf.Check).Comment(yf.Comment).Descriptor(), nil
}

func (yd *yamlEdge) descriptor() (*edge.Descriptor, error) {
	switch {
	case yd.To != "" && yd.From != "":
		return nil, fmt.Errorf("both to and from are set")
	case yd.To != "":
		b := edge.To(yd.Name, yd.To).Through(yd.Through).Comment(yd.Comment)
		if yd.Unique {
			b.Unique()
		}
		if yd.Cascade {
			b.CascadeDelete()
		}
		return b.Descriptor(), nil
	case yd.From != "":
		b := edge.From(yd.Name, yd.From).Ref(yd.Ref).Field(yd.Field).Comment(yd.Comment)
		if yd.Unique {
			b.Unique()
		}
		if yd.Required {
			b.Required()
		}
		return b.Descriptor(), nil
	default:
		return nil, fmt.Errorf("one of to or from is required")
	}
}
