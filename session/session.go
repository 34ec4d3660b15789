// Package session implements the unit of work: instances are staged for
// creation, update and deletion, and applied to storage by one atomic commit.
//
//	s, err := session.Open(ctx, g, store)
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//	team := session.New("Team", map[string]any{"name": "avengers"})
//	hero := session.New("Hero", map[string]any{"name": "thor"})
//	s.Create(team)
//	s.Create(hero)
//	s.Link(hero, "team", team)
//	if _, err := s.Commit(ctx); err != nil {
//	    return err
//	}
//
// A session tracks its instances in an arena keyed by Ref and an identity
// map keyed by primary key, so loading the same row twice yields the same
// instance. Relationships are resolved through Load and only while the
// session is open.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/syssam/modelkit"
	"github.com/syssam/modelkit/graph"
	"github.com/syssam/modelkit/schema/field"
	"github.com/syssam/modelkit/storage"
	"github.com/syssam/modelkit/view"
)

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger of the session.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithClock sets the clock used to time commits.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// Session is a unit of work over one storage connection. It is used by a
// single caller at a time.
type Session struct {
	g      *graph.Graph
	conn   storage.Conn
	log    *slog.Logger
	now    func() time.Time
	closed bool

	arena    map[uuid.UUID]*Instance
	tracked  []*Instance // arena in insertion order.
	identity map[string]*Instance

	creates []*Instance
	deletes []*Instance
	updates []*Instance
	links   []*link
}

// link is a staged relationship change. For foreign key relations, holder
// is the instance whose column references ref; for many-to-many relations,
// holder and ref are the two sides of the link row.
type link struct {
	rel    *graph.Relation
	holder *Instance
	ref    *Instance
	remove bool
}

// Open acquires a storage connection and returns a session on it. The graph
// must be validated.
func Open(ctx context.Context, g *graph.Graph, store storage.Store, opts ...Option) (*Session, error) {
	if !g.Sealed() {
		return nil, modelkit.ErrNotValidated
	}
	conn, err := store.Conn(ctx)
	if err != nil {
		return nil, err
	}
	s := &Session{
		g:        g,
		conn:     conn,
		log:      slog.Default(),
		now:      time.Now,
		arena:    make(map[uuid.UUID]*Instance),
		identity: make(map[string]*Instance),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close aborts the staged changes and releases the connection. Instances of
// the session are detached. Close is idempotent.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.Abort()
	s.closed = true
	return s.conn.Close()
}

// Closed reports whether the session was closed.
func (s *Session) Closed() bool { return s.closed }

// Pending reports whether the session has staged changes.
func (s *Session) Pending() bool {
	return len(s.creates)+len(s.updates)+len(s.deletes)+len(s.links) > 0
}

// Abort discards all staged changes. Pending instances become transient
// again and updated instances get their persisted values back.
func (s *Session) Abort() {
	for _, i := range s.creates {
		s.remove(i)
		i.state, i.sess = Transient, nil
	}
	for _, i := range s.updates {
		maps.Copy(i.values, i.orig)
		i.resetDirty()
	}
	s.creates, s.updates, s.deletes, s.links = nil, nil, nil, nil
}

// Lookup returns the instance with the given ref.
func (s *Session) Lookup(ref uuid.UUID) (*Instance, bool) {
	i, ok := s.arena[ref]
	return i, ok
}

// Create stages a transient instance for creation. Values are checked
// against the create view of the entity and absent fields get their
// defaults. Required foreign keys may be left absent when a Link provides
// them.
func (s *Session) Create(i *Instance) error {
	if err := s.check(); err != nil {
		return err
	}
	switch i.state {
	case Deleted:
		return modelkit.ErrInstanceDeleted
	case Pending, Persisted:
		return modelkit.ErrAlreadyStaged
	}
	t, err := s.g.Type(i.entity)
	if err != nil {
		return err
	}
	values, err := s.bindCreate(t, i.values)
	if err != nil {
		return modelkit.NewMutationError(i.entity, "create", err)
	}
	for _, f := range t.Fields {
		if _, ok := values[f.Name]; ok || f.StorageGenerated() {
			continue
		}
		if v, ok := f.DefaultValue(); ok {
			values[f.Name] = v
		}
	}
	i.values, i.state, i.sess = values, Pending, s
	s.add(i)
	s.creates = append(s.creates, i)
	return nil
}

// bindCreate validates create values. Missing foreign keys are not
// reported: they are checked by storage once links are resolved.
func (s *Session) bindCreate(t *graph.Type, values storage.Row) (storage.Row, error) {
	fs, err := s.g.View(t.Name, view.Create)
	if err != nil {
		return nil, err
	}
	out, err := fs.Bind(values)
	if err == nil {
		return out, nil
	}
	fks := make(map[string]bool, len(t.ForeignKeys))
	for _, fk := range t.ForeignKeys {
		if _, ok := values[fk.Column]; !ok {
			fks[fk.Column] = true
		}
	}
	var kept []error
	for _, e := range flatten(err) {
		var ve *modelkit.ValidationError
		if errors.As(e, &ve) && fks[ve.Name] {
			continue
		}
		kept = append(kept, e)
	}
	if err := modelkit.NewAggregateError(kept...); err != nil {
		return nil, err
	}
	// Only foreign keys are missing: bind without the required check.
	partial := view.FieldSet{Entity: fs.Entity, Kind: view.Update}
	for _, f := range fs.Fields {
		if !fks[f.Name] {
			partial.Fields = append(partial.Fields, f)
		}
	}
	return partial.Bind(values)
}

func flatten(err error) []error {
	var agg *modelkit.AggregateError
	if errors.As(err, &agg) {
		return agg.Errors
	}
	return []error{err}
}

// Update stages changes to a persisted instance of the session. Only the
// changed fields are marked dirty.
func (s *Session) Update(i *Instance, changes map[string]any) error {
	if err := s.own(i); err != nil {
		return err
	}
	if i.state != Persisted {
		return modelkit.ErrNotPersisted
	}
	if s.staged(s.deletes, i) {
		return modelkit.ErrInstanceDeleted
	}
	fs, err := s.g.View(i.entity, view.Update)
	if err != nil {
		return err
	}
	values, err := fs.Bind(changes)
	if err != nil {
		return modelkit.NewMutationError(i.entity, "update", err)
	}
	if len(values) == 0 {
		return nil
	}
	if i.dirty == nil {
		i.orig, i.dirty = make(storage.Row), make(map[string]struct{})
	}
	for k, v := range values {
		if _, ok := i.dirty[k]; !ok {
			i.orig[k] = i.values[k]
			i.dirty[k] = struct{}{}
		}
		i.values[k] = v
	}
	if !s.staged(s.updates, i) {
		s.updates = append(s.updates, i)
	}
	return nil
}

// Delete stages a persisted instance for deletion. Its cascade relations
// are expanded at commit time.
func (s *Session) Delete(i *Instance) error {
	if err := s.own(i); err != nil {
		return err
	}
	if i.state != Persisted {
		return modelkit.ErrNotPersisted
	}
	if !s.staged(s.deletes, i) {
		s.deletes = append(s.deletes, i)
	}
	return nil
}

// Link stages the relation from src to every dst. For to-one relations only
// one dst is accepted, and linking replaces the current target.
func (s *Session) Link(src *Instance, relation string, dst ...*Instance) error {
	return s.stageLinks(src, relation, dst, false)
}

// Unlink stages the removal of the relation from src to every dst.
func (s *Session) Unlink(src *Instance, relation string, dst ...*Instance) error {
	return s.stageLinks(src, relation, dst, true)
}

func (s *Session) stageLinks(src *Instance, relation string, dst []*Instance, remove bool) error {
	if err := s.linkable(src); err != nil {
		return err
	}
	r, err := s.g.Relation(src.entity, relation)
	if err != nil {
		return err
	}
	if r.Unique() && len(dst) > 1 {
		return modelkit.EdgeError(modelkit.ErrInvalidField, src.entity, relation, "to-one relation linked to %d instances", len(dst))
	}
	for _, d := range dst {
		if err := s.linkable(d); err != nil {
			return err
		}
		if d.entity != r.Target {
			return modelkit.EdgeError(modelkit.ErrInvalidField, src.entity, relation, "expected %s, got %s", r.Target, d.entity)
		}
	}
	for _, d := range dst {
		l := &link{rel: r, holder: src, ref: d, remove: remove}
		if !r.M2M() && !r.OwnFK {
			// The target holds the foreign key: see the relation from its side.
			l.rel, l.holder, l.ref = r.Ref(), d, src
		}
		// A link and its removal staged on the same pair cancel out.
		if n := slices.IndexFunc(s.links, func(o *link) bool { return o.remove != remove && o.same(l) }); n >= 0 {
			s.links = slices.Delete(s.links, n, n+1)
			continue
		}
		if remove && !l.stored() {
			s.clearKey(l)
			continue
		}
		s.links = append(s.links, l)
	}
	return nil
}

// clearKey drops a foreign key given in the values of a pending holder when
// it references the unlinked instance.
func (s *Session) clearKey(l *link) {
	if l.rel.M2M() || l.ref.state != Persisted {
		return
	}
	t, err := s.g.Type(l.ref.entity)
	if err != nil {
		return
	}
	pk, ok := t.ID()
	if !ok {
		return
	}
	if v := l.holder.values[l.rel.Column]; v != nil && field.Equal(v, l.ref.values[pk.Name]) {
		l.holder.values[l.rel.Column] = nil
	}
}

// same reports whether two links join the same pair through the same
// relationship, staged from either side of an M2M relation.
func (l *link) same(o *link) bool {
	if l.rel == o.rel {
		return l.holder == o.holder && l.ref == o.ref
	}
	return l.rel.M2M() && l.rel.Ref() == o.rel && l.holder == o.ref && l.ref == o.holder
}

// stored reports whether the link can exist in storage already. Pending
// instances have no link rows and a pending holder has no stored key.
func (l *link) stored() bool {
	if l.rel.M2M() {
		return l.holder.state == Persisted && l.ref.state == Persisted
	}
	return l.holder.state == Persisted
}

// linkable reports whether an instance can take part in a staged link.
func (s *Session) linkable(i *Instance) error {
	if err := s.own(i); err != nil {
		return err
	}
	if i.state != Pending && i.state != Persisted {
		return modelkit.ErrNotPersisted
	}
	return nil
}

// check reports whether the session accepts operations.
func (s *Session) check() error {
	if s.closed {
		return modelkit.ErrSessionClosed
	}
	return nil
}

// own reports whether the instance can be used in the session.
func (s *Session) own(i *Instance) error {
	if err := s.check(); err != nil {
		return err
	}
	switch {
	case i.state == Deleted:
		return modelkit.ErrInstanceDeleted
	case i.state == Transient:
		return modelkit.ErrNotPersisted
	case i.sess != s:
		return fmt.Errorf("%w: %s belongs to another session", modelkit.ErrDetachedInstance, i)
	}
	return nil
}

func (s *Session) staged(list []*Instance, i *Instance) bool {
	return slices.Contains(list, i)
}

// track adds a persisted row to the identity map and returns its instance.
// A row already tracked keeps its instance; its values are refreshed unless
// the instance has staged changes.
func (s *Session) track(t *graph.Type, row storage.Row) *Instance {
	key, ok := identity(t, row)
	if !ok {
		i := newPersisted(s, t.Name, row)
		s.add(i)
		return i
	}
	if i, ok := s.identity[key]; ok {
		if i.dirty == nil {
			i.values = row
		}
		return i
	}
	i := newPersisted(s, t.Name, row)
	s.add(i)
	s.identity[key] = i
	return i
}

func (s *Session) add(i *Instance) {
	s.arena[i.ref] = i
	s.tracked = append(s.tracked, i)
}

func (s *Session) remove(i *Instance) {
	delete(s.arena, i.ref)
	s.tracked = slices.DeleteFunc(s.tracked, func(x *Instance) bool { return x == i })
}
