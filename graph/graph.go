package graph

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/syssam/modelkit"
	"github.com/syssam/modelkit/schema"
	"github.com/syssam/modelkit/view"
)

// Option configures a Graph.
type Option func(*Graph)

// WithLogger sets the logger of the graph.
func WithLogger(l *slog.Logger) Option {
	return func(g *Graph) { g.log = l }
}

// Graph is the schema registry. Entities are registered first and
// cross-validated by Validate, which seals the graph and builds the
// relationship index.
//
// A Graph is an explicit handle passed to every component that needs it.
// It is safe for concurrent use.
type Graph struct {
	mu       sync.RWMutex
	log      *slog.Logger
	names    []string
	entities map[string]*schema.Entity
	// Set by Validate.
	sealed bool
	types  map[string]*Type
	order  []*Type
}

// New returns an empty graph.
func New(opts ...Option) *Graph {
	g := &Graph{
		log:      slog.Default(),
		entities: make(map[string]*schema.Entity),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Build registers the given declarations and validates the graph.
//
//	g, err := graph.Build(Team{}, Hero{})
func Build(decls ...modelkit.Interface) (*Graph, error) {
	g := New()
	for _, d := range decls {
		if err := g.Register(schema.Of(d)); err != nil {
			return nil, err
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Register adds entities to the graph. The descriptors are copied, so later
// changes by the caller are not observed. Registration stops at the first
// failing entity.
func (g *Graph) Register(entities ...*schema.Entity) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, e := range entities {
		if g.sealed {
			return modelkit.NewSchemaError(modelkit.ErrSealed, e.Name, "")
		}
		if _, ok := g.entities[e.Name]; ok {
			return modelkit.NewSchemaError(modelkit.ErrDuplicateEntity, e.Name, "")
		}
		c := e.Clone()
		c.Normalize()
		if err := c.Validate(); err != nil {
			return err
		}
		g.entities[c.Name] = c
		g.names = append(g.names, c.Name)
		g.log.Debug("entity registered", "entity", c.Name, "table", c.Table)
	}
	return nil
}

// Resolve returns the registered descriptor of an entity.
func (g *Graph) Resolve(name string) (*schema.Entity, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.entities[name]
	if !ok {
		return nil, modelkit.NewSchemaError(modelkit.ErrUnknownEntity, name, "")
	}
	return e, nil
}

// Entities returns the registered descriptors in registration order.
func (g *Graph) Entities() []*schema.Entity {
	g.mu.RLock()
	defer g.mu.RUnlock()
	es := make([]*schema.Entity, len(g.names))
	for i, name := range g.names {
		es[i] = g.entities[name]
	}
	return es
}

// Validate resolves the relationships of all registered entities. On
// success the graph is sealed: no more entities can be registered and the
// relationship index is available. Calling Validate on a sealed graph is a
// no-op.
func (g *Graph) Validate() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sealed {
		return nil
	}
	r := &resolver{g: g, types: make(map[string]*Type, len(g.names))}
	if err := r.resolve(); err != nil {
		return err
	}
	g.types, g.order, g.sealed = r.types, r.order, true
	var rels int
	for _, t := range g.order {
		rels += len(t.Relations)
	}
	g.log.Info("schema graph validated", "entities", len(g.names), "types", len(g.order), "relations", rels)
	return nil
}

// Sealed reports whether the graph was validated.
func (g *Graph) Sealed() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.sealed
}

// Types returns the resolved types, registered entities first followed by
// the generated link entities. It returns nil before Validate.
func (g *Graph) Types() []*Type {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]*Type(nil), g.order...)
}

// Type returns the resolved type of an entity.
func (g *Graph) Type(name string) (*Type, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.sealed {
		return nil, modelkit.ErrNotValidated
	}
	t, ok := g.types[name]
	if !ok {
		return nil, modelkit.NewSchemaError(modelkit.ErrUnknownEntity, name, "")
	}
	return t, nil
}

// Relations returns the relations of an entity in declaration order.
func (g *Graph) Relations(name string) ([]*Relation, error) {
	t, err := g.Type(name)
	if err != nil {
		return nil, err
	}
	return t.Relations, nil
}

// Relation returns the named relation of an entity.
func (g *Graph) Relation(entity, name string) (*Relation, error) {
	t, err := g.Type(entity)
	if err != nil {
		return nil, err
	}
	r, ok := t.Relation(name)
	if !ok {
		return nil, modelkit.EdgeError(modelkit.ErrUnknownEntity, entity, name, "unknown relation")
	}
	return r, nil
}

// View derives a view of an entity. Before Validate, the view covers the
// declared fields; afterwards it also covers the foreign key fields added by
// the resolver. Views are derived on every call.
func (g *Graph) View(entity string, kind view.Kind) (view.FieldSet, error) {
	t, err := g.Type(entity)
	switch {
	case err == nil:
		return view.Derive(t.Name, t.Fields, kind), nil
	case errors.Is(err, modelkit.ErrNotValidated):
		e, err := g.Resolve(entity)
		if err != nil {
			return view.FieldSet{}, err
		}
		return view.Derive(e.Name, e.Fields, kind), nil
	default:
		return view.FieldSet{}, err
	}
}
