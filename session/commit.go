package session

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/syssam/modelkit"
	"github.com/syssam/modelkit/graph"
	"github.com/syssam/modelkit/schema/field"
	"github.com/syssam/modelkit/storage"
)

// errStale is wrapped by the conflicts detected by compare-and-swap writes.
var errStale = errors.New("row was changed or deleted by a concurrent commit")

// CommitResult reports the effect of a successful commit.
type CommitResult struct {
	Created []*Instance
	Updated []*Instance
	// Deleted holds the deleted instances, including the loaded dependents
	// removed by cascades.
	Deleted []*Instance
	// Links is the number of link rows inserted or removed.
	Links int64
	// Cascaded is the number of unloaded dependents removed by bulk deletes.
	Cascaded int64
	Duration time.Duration
}

// Commit applies the staged changes in one storage transaction, in order:
// creates (a referenced instance before its referencers), link inserts,
// updates, link removals and cascade-expanded deletes. On failure nothing is
// applied and the staged changes are kept, so the caller can correct and
// retry or Abort.
func (s *Session) Commit(ctx context.Context) (*CommitResult, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	start := s.now()
	res := &CommitResult{}
	if !s.Pending() {
		return res, nil
	}
	creates, err := s.order()
	if err != nil {
		return nil, err
	}
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	c := &committer{
		s:      s,
		tx:     tx,
		res:    res,
		rows:   make(map[*Instance]storage.Row),
		set:    make(map[*Instance]storage.Row),
		seen:   make(map[*Instance]bool),
		assign: make(map[*Instance]storage.Row),
		order:  creates,
	}
	if err := c.run(ctx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			err = errors.Join(err, rerr)
		}
		s.log.WarnContext(ctx, "commit failed", "error", err)
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		s.log.WarnContext(ctx, "commit failed", "error", err)
		return nil, err
	}
	c.finish()
	res.Duration = s.now().Sub(start)
	s.log.DebugContext(ctx, "session committed",
		"created", len(res.Created), "updated", len(res.Updated), "deleted", len(res.Deleted),
		"links", res.Links, "cascaded", res.Cascaded, "duration", res.Duration)
	return res, nil
}

// order sorts the staged creates so that an instance comes after the
// pending instances it references. Ties keep the staging order.
func (s *Session) order() ([]*Instance, error) {
	deps := make(map[*Instance][]*Instance)
	for _, l := range s.links {
		if l.remove || l.rel.M2M() || l.holder.state != Pending || l.ref.state != Pending {
			continue
		}
		if l.holder == l.ref {
			return nil, fmt.Errorf("%w: %s references itself through %s", modelkit.ErrCyclicDependency, l.holder, l.rel.Name)
		}
		deps[l.holder] = append(deps[l.holder], l.ref)
	}
	var (
		out  = make([]*Instance, 0, len(s.creates))
		done = make(map[*Instance]bool, len(s.creates))
	)
	for len(out) < len(s.creates) {
		progress := false
	next:
		for _, i := range s.creates {
			if done[i] {
				continue
			}
			for _, d := range deps[i] {
				if !done[d] {
					continue next
				}
			}
			out, done[i], progress = append(out, i), true, true
		}
		if !progress {
			return nil, fmt.Errorf("%w: %d instances cannot be ordered", modelkit.ErrCyclicDependency, len(s.creates)-len(out))
		}
	}
	return out, nil
}

// committer runs one commit. Instances are changed only by finish, once
// the transaction committed.
type committer struct {
	s     *Session
	tx    storage.Tx
	res   *CommitResult
	order []*Instance // creates, referenced instances first.
	// rows of the created instances, read back after insertion.
	rows map[*Instance]storage.Row
	// set holds the values written to persisted instances.
	set map[*Instance]storage.Row
	// assign holds the foreign keys staged by links on persisted holders.
	assign  map[*Instance]storage.Row
	holders []*Instance
	seen    map[*Instance]bool
	deleted []*Instance
	nulled  []nulled
}

// nulled is a loaded dependent whose foreign key is cleared by storage.
type nulled struct {
	i      *Instance
	column string
}

func (c *committer) run(ctx context.Context) error {
	for _, i := range c.order {
		if err := c.create(ctx, i); err != nil {
			return err
		}
	}
	for _, l := range c.s.links {
		switch {
		case l.remove:
		case l.rel.M2M():
			row := storage.Row{l.rel.Column: c.id(l.holder), l.rel.TargetColumn: c.id(l.ref)}
			if _, err := c.tx.Insert(ctx, l.rel.Table, row, ""); err != nil {
				return modelkit.NewMutationError(l.holder.entity, "link "+l.rel.Name, err)
			}
			c.res.Links++
		case l.holder.state == Persisted:
			if c.assign[l.holder] == nil {
				c.assign[l.holder] = make(storage.Row)
				c.holders = append(c.holders, l.holder)
			}
			c.assign[l.holder][l.rel.Column] = c.id(l.ref)
		}
	}
	for _, i := range c.s.updates {
		if err := c.update(ctx, i); err != nil {
			return err
		}
	}
	for _, i := range c.holders {
		if !c.s.staged(c.s.updates, i) {
			if err := c.update(ctx, i); err != nil {
				return err
			}
		}
	}
	for _, l := range c.s.links {
		if l.remove {
			if err := c.unlink(ctx, l); err != nil {
				return err
			}
		}
	}
	for _, i := range c.s.deletes {
		if err := c.delete(ctx, i); err != nil {
			return err
		}
	}
	return nil
}

func (c *committer) create(ctx context.Context, i *Instance) error {
	t, err := c.s.g.Type(i.entity)
	if err != nil {
		return err
	}
	row := i.values.Clone()
	for _, l := range c.s.links {
		if !l.remove && !l.rel.M2M() && l.holder == i {
			row[l.rel.Column] = c.id(l.ref)
		}
	}
	var generated string
	if pk, ok := t.ID(); ok && pk.StorageGenerated() && row[pk.Name] == nil {
		generated = pk.Name
	}
	id, err := c.tx.Insert(ctx, t.Table, row, generated)
	if err != nil {
		return modelkit.NewMutationError(i.entity, "create", err)
	}
	if generated != "" {
		pk, _ := t.ID()
		if row[generated], err = pk.Normalize(id); err != nil {
			return modelkit.NewMutationError(i.entity, "create", err)
		}
	}
	rows, err := c.tx.Select(ctx, &storage.Query{Table: t.Table, Where: pkFilter(t, row)})
	if err != nil {
		return modelkit.NewMutationError(i.entity, "create", err)
	}
	if len(rows) == 1 {
		row = rows[0]
	}
	c.rows[i] = row
	return nil
}

// id returns the primary key value of an instance, generated in this commit
// for pending instances.
func (c *committer) id(i *Instance) any {
	t, err := c.s.g.Type(i.entity)
	if err != nil {
		return nil
	}
	pk, ok := t.ID()
	if !ok {
		return nil
	}
	if row, ok := c.rows[i]; ok {
		return row[pk.Name]
	}
	return i.values[pk.Name]
}

// update writes the dirty fields and staged foreign keys of a persisted
// instance. The statement is conditioned on the values the session read,
// so a concurrent change of any of them is a conflicting write.
func (c *committer) update(ctx context.Context, i *Instance) error {
	t, err := c.s.g.Type(i.entity)
	if err != nil {
		return err
	}
	set, where := make(storage.Row), pkFilter(t, i.values)
	for k := range i.dirty {
		set[k] = i.values[k]
		// JSON documents have no portable equality in storage.
		if f, ok := t.Field(k); ok && f.Type != field.TypeJSON {
			where = append(where, expect(k, i.orig[k]))
		}
	}
	for k, v := range c.assign[i] {
		set[k] = v
		if _, ok := i.dirty[k]; !ok {
			where = append(where, expect(k, i.values[k]))
		}
	}
	for _, f := range t.Fields {
		if _, ok := set[f.Name]; ok || f.UpdateDefault == nil || f.PrimaryKey {
			continue
		}
		if set[f.Name], err = f.Normalize(f.UpdateDefault()); err != nil {
			return modelkit.NewMutationError(i.entity, "update", modelkit.NewValidationError(f.Name, err))
		}
	}
	n, err := c.tx.Update(ctx, t.Table, set, where)
	if err != nil {
		return modelkit.NewMutationError(i.entity, "update", err)
	}
	if n == 0 {
		return modelkit.NewMutationError(i.entity, "update", modelkit.ConflictingWrite(i.String(), errStale))
	}
	c.set[i] = set
	return nil
}

func expect(column string, v any) storage.Predicate {
	if v == nil {
		return storage.IsNull(column)
	}
	return storage.EQ(column, v)
}

func (c *committer) unlink(ctx context.Context, l *link) error {
	if l.rel.M2M() {
		n, err := c.tx.Delete(ctx, l.rel.Table, storage.Where(
			storage.EQ(l.rel.Column, c.id(l.holder)),
			storage.EQ(l.rel.TargetColumn, c.id(l.ref)),
		))
		if err != nil {
			return modelkit.NewMutationError(l.holder.entity, "unlink "+l.rel.Name, err)
		}
		c.res.Links += n
		return nil
	}
	if l.holder.state != Persisted {
		return nil
	}
	t, err := c.s.g.Type(l.holder.entity)
	if err != nil {
		return err
	}
	ref := c.id(l.ref)
	where := append(pkFilter(t, l.holder.values), storage.EQ(l.rel.Column, ref))
	n, err := c.tx.Update(ctx, t.Table, storage.Row{l.rel.Column: nil}, where)
	if err != nil {
		return modelkit.NewMutationError(l.holder.entity, "unlink "+l.rel.Name, err)
	}
	if v := l.holder.values[l.rel.Column]; n == 0 && v != nil && field.Equal(v, ref) {
		return modelkit.NewMutationError(l.holder.entity, "unlink "+l.rel.Name, modelkit.ConflictingWrite(l.holder.String(), errStale))
	}
	if n > 0 {
		if c.set[l.holder] == nil {
			c.set[l.holder] = make(storage.Row)
		}
		c.set[l.holder][l.rel.Column] = nil
	}
	return nil
}

// delete removes an instance after its dependents: loaded dependents of
// cascade relations are deleted one by one, the unloaded ones by a single
// delete on the foreign key, and the link rows of many-to-many relations
// are removed.
func (c *committer) delete(ctx context.Context, i *Instance) error {
	if c.seen[i] {
		return nil
	}
	c.seen[i] = true
	t, err := c.s.g.Type(i.entity)
	if err != nil {
		return err
	}
	if pk, ok := t.ID(); ok {
		id := i.values[pk.Name]
		for _, r := range t.Dependents() {
			if err := c.cascade(ctx, i, r, id); err != nil {
				return err
			}
		}
	}
	n, err := c.tx.Delete(ctx, t.Table, pkFilter(t, i.values))
	if err != nil {
		return modelkit.NewMutationError(i.entity, "delete", err)
	}
	if n == 0 {
		return modelkit.NewMutationError(i.entity, "delete", modelkit.ConflictingWrite(i.String(), errStale))
	}
	c.deleted = append(c.deleted, i)
	return nil
}

func (c *committer) cascade(ctx context.Context, i *Instance, r *graph.Relation, id any) error {
	switch {
	case r.M2M():
		n, err := c.tx.Delete(ctx, r.Table, storage.Where(storage.EQ(r.Column, id)))
		if err != nil {
			return modelkit.NewMutationError(i.entity, "delete", err)
		}
		c.res.Links += n
	case r.Cascade:
		for _, dep := range c.s.dependents(r, id) {
			if err := c.delete(ctx, dep); err != nil {
				return err
			}
		}
		n, err := c.tx.Delete(ctx, r.Table, storage.Where(storage.EQ(r.Column, id)))
		if err != nil {
			return modelkit.NewMutationError(i.entity, "delete", err)
		}
		c.res.Cascaded += n
	default:
		for _, dep := range c.s.dependents(r, id) {
			c.nulled = append(c.nulled, nulled{i: dep, column: r.Column})
		}
	}
	return nil
}

// finish moves the instances to their committed state.
func (c *committer) finish() {
	s := c.s
	for _, i := range c.order {
		t, err := s.g.Type(i.entity)
		if err != nil {
			continue
		}
		i.values, i.state = c.rows[i], Persisted
		if key, ok := identity(t, i.values); ok {
			s.identity[key] = i
		}
		c.res.Created = append(c.res.Created, i)
	}
	for i, set := range c.set {
		maps.Copy(i.values, set)
	}
	for _, i := range append(append([]*Instance(nil), s.updates...), c.holders...) {
		if _, ok := c.set[i]; ok && !contains(c.res.Updated, i) {
			i.resetDirty()
			c.res.Updated = append(c.res.Updated, i)
		}
	}
	for _, n := range c.nulled {
		if n.i.state == Persisted && !c.seen[n.i] {
			n.i.values[n.column] = nil
		}
	}
	for _, i := range c.deleted {
		t, err := s.g.Type(i.entity)
		if err == nil {
			if key, ok := identity(t, i.values); ok {
				delete(s.identity, key)
			}
		}
		i.state = Deleted
		i.resetDirty()
		c.res.Deleted = append(c.res.Deleted, i)
	}
	s.creates, s.updates, s.deletes, s.links = nil, nil, nil, nil
}

func contains(is []*Instance, i *Instance) bool {
	for _, x := range is {
		if x == i {
			return true
		}
	}
	return false
}
