package session

import (
	"context"
	"fmt"

	"github.com/syssam/modelkit"
	"github.com/syssam/modelkit/graph"
	"github.com/syssam/modelkit/schema/field"
	"github.com/syssam/modelkit/storage"
)

// Get returns the instance of the entity with the given primary key value.
// Tracked instances are returned without a storage round-trip.
func (s *Session) Get(ctx context.Context, entity string, id any) (*Instance, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	t, err := s.g.Type(entity)
	if err != nil {
		return nil, err
	}
	pk, ok := t.ID()
	if !ok {
		return nil, fmt.Errorf("session: %s has a composite primary key, use Find", entity)
	}
	if id, err = pk.Normalize(id); err != nil {
		return nil, modelkit.NewValidationError(pk.Name, err)
	}
	if key, ok := identity(t, storage.Row{pk.Name: id}); ok {
		if i, ok := s.identity[key]; ok {
			if i.state == Deleted {
				return nil, modelkit.ErrInstanceDeleted
			}
			return i, nil
		}
	}
	is, err := s.find(ctx, t, storage.Where(storage.EQ(pk.Name, id)))
	if err != nil {
		return nil, err
	}
	if len(is) == 0 {
		return nil, modelkit.NewNotFoundError(entity, id)
	}
	return is[0], nil
}

// Find returns the instances of the entity matching the filter, ordered by
// primary key.
func (s *Session) Find(ctx context.Context, entity string, where storage.Filter) ([]*Instance, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	t, err := s.g.Type(entity)
	if err != nil {
		return nil, err
	}
	return s.find(ctx, t, where)
}

func (s *Session) find(ctx context.Context, t *graph.Type, where storage.Filter) ([]*Instance, error) {
	q := &storage.Query{Table: t.Table, Where: where}
	for _, pk := range t.PrimaryKey() {
		q.OrderBy = append(q.OrderBy, pk.Name)
	}
	rows, err := s.conn.Select(ctx, q)
	if err != nil {
		return nil, err
	}
	is := make([]*Instance, 0, len(rows))
	for _, row := range rows {
		i := s.track(t, row)
		if i.state != Deleted {
			is = append(is, i)
		}
	}
	return is, nil
}

// Load resolves a relation of an instance. The related instances are
// tracked by the session. For a pending instance, Load returns the
// instances staged by Link. Loading fails with modelkit.ErrDetachedInstance
// once the session is closed.
func (s *Session) Load(ctx context.Context, i *Instance, relation string) ([]*Instance, error) {
	switch {
	case s.closed:
		return nil, fmt.Errorf("%w: session is closed", modelkit.ErrDetachedInstance)
	case i.sess != nil && i.sess.closed:
		return nil, fmt.Errorf("%w: session of %s is closed", modelkit.ErrDetachedInstance, i)
	}
	if err := s.own(i); err != nil {
		return nil, err
	}
	r, err := s.g.Relation(i.entity, relation)
	if err != nil {
		return nil, err
	}
	if i.state == Pending {
		return s.linked(i, r), nil
	}
	t, err := s.g.Type(r.Target)
	if err != nil {
		return nil, err
	}
	pk, _ := t.ID()
	switch {
	case r.M2M():
		src, err := s.g.Type(i.entity)
		if err != nil {
			return nil, err
		}
		id, _ := src.ID()
		rows, err := s.conn.Select(ctx, &storage.Query{
			Table:   r.Table,
			Columns: []string{r.TargetColumn},
			Where:   storage.Where(storage.EQ(r.Column, i.values[id.Name])),
			OrderBy: []string{r.TargetColumn},
		})
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, nil
		}
		ids := make([]any, len(rows))
		for j, row := range rows {
			ids[j] = row[r.TargetColumn]
		}
		return s.find(ctx, t, storage.Where(storage.In(pk.Name, ids...)))
	case r.OwnFK:
		v := i.values[r.Column]
		if v == nil {
			return nil, nil
		}
		return s.find(ctx, t, storage.Where(storage.EQ(pk.Name, v)))
	default:
		src, err := s.g.Type(i.entity)
		if err != nil {
			return nil, err
		}
		id, _ := src.ID()
		return s.find(ctx, t, storage.Where(storage.EQ(r.Column, i.values[id.Name])))
	}
}

// linked returns the instances linked to a pending instance through the
// relation by staged links.
func (s *Session) linked(i *Instance, r *graph.Relation) []*Instance {
	var out []*Instance
	for _, l := range s.links {
		switch {
		case l.remove:
		case l.rel == r && l.holder == i:
			out = append(out, l.ref)
		case l.rel == r.Ref() && l.ref == i:
			out = append(out, l.holder)
		}
	}
	return out
}

// Refresh reloads the values of a persisted instance and discards its
// staged field changes. It fails with a *modelkit.NotFoundError if the row
// no longer exists.
func (s *Session) Refresh(ctx context.Context, i *Instance) error {
	if err := s.own(i); err != nil {
		return err
	}
	if i.state != Persisted {
		return modelkit.ErrNotPersisted
	}
	t, err := s.g.Type(i.entity)
	if err != nil {
		return err
	}
	rows, err := s.conn.Select(ctx, &storage.Query{Table: t.Table, Where: pkFilter(t, i.values)})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		id, _ := t.ID()
		var v any
		if id != nil {
			v = i.values[id.Name]
		}
		return modelkit.NewNotFoundError(i.entity, v)
	}
	i.values = rows[0]
	i.resetDirty()
	for j, u := range s.updates {
		if u == i {
			s.updates = append(s.updates[:j], s.updates[j+1:]...)
			break
		}
	}
	return nil
}

// dependents returns the tracked persisted instances whose column references
// the given primary key value.
func (s *Session) dependents(r *graph.Relation, id any) []*Instance {
	var out []*Instance
	for _, i := range s.byEntity(r.Target) {
		if i.state == Persisted && i.values[r.Column] != nil && field.Equal(i.values[r.Column], id) {
			out = append(out, i)
		}
	}
	return out
}

// byEntity returns the tracked instances of an entity in a stable order.
func (s *Session) byEntity(entity string) []*Instance {
	var out []*Instance
	for _, i := range s.tracked {
		if i.entity == entity {
			out = append(out, i)
		}
	}
	return out
}
