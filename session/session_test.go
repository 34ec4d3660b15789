package session_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/syssam/modelkit"
	"github.com/syssam/modelkit/graph"
	"github.com/syssam/modelkit/internal/fixture"
	"github.com/syssam/modelkit/migrate"
	"github.com/syssam/modelkit/schema/edge"
	"github.com/syssam/modelkit/schema/field"
	"github.com/syssam/modelkit/session"
	"github.com/syssam/modelkit/storage"
	"github.com/syssam/modelkit/storage/memstore"
)

// migrated returns a memory store with the schema of the graph.
func migrated(t *testing.T, g *graph.Graph, opts ...memstore.Option) *memstore.Store {
	t.Helper()
	ctx := context.Background()
	store := memstore.New(opts...)
	plan, err := migrate.Diff(g, &storage.Snapshot{})
	require.NoError(t, err)
	_, err = migrate.Apply(ctx, store, plan)
	require.NoError(t, err)
	return store
}

// rows returns the rows of a table, failing if the store has no such table.
func rows(t *testing.T, store *memstore.Store, table string) []storage.Row {
	t.Helper()
	rs := store.Rows(table)
	require.NotNil(t, rs, "no table %s", table)
	return rs
}

func open(t *testing.T, g *graph.Graph, store storage.Store) *session.Session {
	t.Helper()
	s, err := session.Open(context.Background(), g, store)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func get(t *testing.T, i *session.Instance, name string) any {
	t.Helper()
	v, ok := i.Get(name)
	require.True(t, ok, "%s has no %s", i, name)
	return v
}

func TestOpen(t *testing.T) {
	_, err := session.Open(context.Background(), graph.New(), memstore.New())
	assert.ErrorIs(t, err, modelkit.ErrNotValidated)
}

func TestTeamAndHero(t *testing.T) {
	ctx := context.Background()
	g := fixture.MustGraph()
	store := migrated(t, g)
	s := open(t, g, store)

	hero := session.New("Hero", map[string]any{"name": "thor"})
	team := session.New("Team", map[string]any{"name": "avengers"})
	require.NoError(t, s.Create(hero))
	require.NoError(t, s.Create(team))
	require.NoError(t, s.Link(hero, "team", team))
	assert.Equal(t, session.Pending, hero.State())
	assert.True(t, s.Pending())

	linked, err := s.Load(ctx, hero, "team")
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Same(t, team, linked[0])

	res, err := s.Commit(ctx)
	require.NoError(t, err)
	assert.Len(t, res.Created, 2)
	assert.Equal(t, []*session.Instance{team, hero}, res.Created, "referenced instance first")
	assert.False(t, s.Pending())
	assert.Equal(t, session.Persisted, hero.State())
	assert.Equal(t, int64(1), get(t, hero, "level"), "default applied")
	assert.Equal(t, get(t, team, "id"), get(t, hero, "team_id"))

	loaded, err := s.Load(ctx, hero, "team")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Same(t, team, loaded[0], "identity map")

	heroes, err := s.Load(ctx, team, "heroes")
	require.NoError(t, err)
	require.Len(t, heroes, 1)
	assert.Same(t, hero, heroes[0])

	got, err := s.Get(ctx, "Hero", get(t, hero, "id"))
	require.NoError(t, err)
	assert.Same(t, hero, got)
	i, ok := s.Lookup(hero.Ref())
	require.True(t, ok)
	assert.Same(t, hero, i)

	// Another session sees other instances of the same rows.
	other := open(t, g, store)
	got, err = other.Get(ctx, "Hero", get(t, hero, "id"))
	require.NoError(t, err)
	assert.NotSame(t, hero, got)
	assert.Equal(t, "thor", get(t, got, "name"))

	_, err = other.Get(ctx, "Hero", 42)
	assert.True(t, modelkit.IsNotFound(err))
}

func TestManyCreates(t *testing.T) {
	ctx := context.Background()
	g := fixture.MustGraph()
	store := migrated(t, g)
	s := open(t, g, store)

	var heroes []*session.Instance
	for i := range 20 {
		h := session.New("Hero", map[string]any{"name": fmt.Sprintf("hero-%d", i), "level": i + 1})
		require.NoError(t, s.Create(h))
		heroes = append(heroes, h)
	}
	teams := make([]*session.Instance, 3)
	for i := range teams {
		teams[i] = session.New("Team", map[string]any{"name": fmt.Sprintf("team-%d", i)})
		require.NoError(t, s.Create(teams[i]))
	}
	for i, h := range heroes {
		require.NoError(t, s.Link(h, "team", teams[i%3]))
	}
	powers := []*session.Instance{
		session.New("Power", map[string]any{"name": "flight"}),
		session.New("Power", map[string]any{"name": "strength"}),
	}
	for _, p := range powers {
		require.NoError(t, s.Create(p))
	}
	require.NoError(t, s.Link(heroes[0], "powers", powers...))

	res, err := s.Commit(ctx)
	require.NoError(t, err)
	assert.Len(t, res.Created, 25)
	assert.Equal(t, int64(2), res.Links)
	assert.Len(t, rows(t, store, "heroes"), 20)
	assert.Len(t, rows(t, store, "hero_powers"), 2)

	for i, h := range heroes {
		assert.Equal(t, get(t, teams[i%3], "id"), get(t, h, "team_id"))
	}
	got, err := s.Load(ctx, heroes[0], "powers")
	require.NoError(t, err)
	assert.Equal(t, powers, got)
	got, err = s.Load(ctx, powers[1], "heroes")
	require.NoError(t, err)
	assert.Equal(t, []*session.Instance{heroes[0]}, got)

	got, err = s.Find(ctx, "Hero", storage.Where(storage.EQ("team_id", get(t, teams[0], "id"))))
	require.NoError(t, err)
	assert.Len(t, got, 7)
	assert.Same(t, heroes[0], got[0])
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	g := fixture.MustGraph()
	store := migrated(t, g)
	s := open(t, g, store)

	team := session.New("Team", map[string]any{"name": "avengers"})
	require.NoError(t, s.Create(team))
	_, err := s.Commit(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Update(team, map[string]any{"name": "defenders"}))
	assert.True(t, team.Dirty("name"))
	res, err := s.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, []*session.Instance{team}, res.Updated)
	assert.False(t, team.Dirty("name"))
	assert.Equal(t, "defenders", rows(t, store, "teams")[0]["name"])

	err = s.Update(team, map[string]any{"name": ""})
	assert.True(t, modelkit.IsValidationError(err))
	err = s.Update(team, map[string]any{"id": 7})
	assert.Error(t, err, "primary key is immutable")
}

func TestUpdateDefault(t *testing.T) {
	ctx := context.Background()
	g := fixture.MustGraph()
	store := migrated(t, g)
	s := open(t, g, store)

	u := session.New("User", map[string]any{"email": "a@example.com", "password": "secret"})
	require.NoError(t, s.Create(u))
	_, err := s.Commit(ctx)
	require.NoError(t, err)
	before := get(t, u, "updated_at")

	require.NoError(t, s.Update(u, map[string]any{"name": "Ann"}))
	_, err = s.Commit(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, before, get(t, u, "updated_at"))
	assert.Equal(t, "Ann", get(t, u, "name"))
}

func TestConflictingWrite(t *testing.T) {
	ctx := context.Background()
	g := fixture.MustGraph()
	store := migrated(t, g)
	s := open(t, g, store)
	hero := session.New("Hero", map[string]any{"name": "thor"})
	require.NoError(t, s.Create(hero))
	_, err := s.Commit(ctx)
	require.NoError(t, err)
	id := get(t, hero, "id")

	a, b := open(t, g, store), open(t, g, store)
	ha, err := a.Get(ctx, "Hero", id)
	require.NoError(t, err)
	hb, err := b.Get(ctx, "Hero", id)
	require.NoError(t, err)
	require.NoError(t, a.Update(ha, map[string]any{"level": 10}))
	require.NoError(t, b.Update(hb, map[string]any{"level": 20}))

	_, err = a.Commit(ctx)
	require.NoError(t, err)
	_, err = b.Commit(ctx)
	require.True(t, modelkit.IsConflictingWrite(err), "got %v", err)
	assert.True(t, b.Pending(), "staged changes are kept")
	assert.Equal(t, int64(20), get(t, hb, "level"))

	require.NoError(t, b.Refresh(ctx, hb))
	assert.Equal(t, int64(10), get(t, hb, "level"))
	require.NoError(t, b.Update(hb, map[string]any{"level": 30}))
	_, err = b.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(30), rows(t, store, "heroes")[0]["level"])
}

func TestConcurrentCommits(t *testing.T) {
	ctx := context.Background()
	g := fixture.MustGraph()
	store := migrated(t, g)
	s := open(t, g, store)
	hero := session.New("Hero", map[string]any{"name": "thor"})
	require.NoError(t, s.Create(hero))
	_, err := s.Commit(ctx)
	require.NoError(t, err)
	id := get(t, hero, "id")

	const n = 8
	sessions := make([]*session.Session, n)
	for i := range sessions {
		sessions[i] = open(t, g, store)
		h, err := sessions[i].Get(ctx, "Hero", id)
		require.NoError(t, err)
		require.NoError(t, sessions[i].Update(h, map[string]any{"level": i + 1}))
	}
	var won, lost atomic.Int32
	var eg errgroup.Group
	for _, s := range sessions {
		eg.Go(func() error {
			_, err := s.Commit(ctx)
			switch {
			case err == nil:
				won.Add(1)
			case modelkit.IsConflictingWrite(err):
				lost.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	assert.Equal(t, int32(1), won.Load())
	assert.Equal(t, int32(n-1), lost.Load())
}

func TestCascadeDelete(t *testing.T) {
	ctx := context.Background()
	g := fixture.MustGraph()
	store := migrated(t, g)
	s := open(t, g, store)

	team := session.New("Team", map[string]any{"name": "avengers"})
	require.NoError(t, s.Create(team))
	flight := session.New("Power", map[string]any{"name": "flight"})
	require.NoError(t, s.Create(flight))
	for i := range 5 {
		h := session.New("Hero", map[string]any{"name": fmt.Sprintf("hero-%d", i)})
		require.NoError(t, s.Create(h))
		require.NoError(t, s.Link(h, "team", team))
		require.NoError(t, s.Link(h, "powers", flight))
	}
	_, err := s.Commit(ctx)
	require.NoError(t, err)
	heroes, err := s.Find(ctx, "Hero", nil)
	require.NoError(t, err)
	require.Len(t, heroes, 5)
	require.NoError(t, s.Close())

	// The new session loads three heroes and never sees the other two.
	s2 := open(t, g, store)
	teams, err := s2.Find(ctx, "Team", nil)
	require.NoError(t, err)
	for _, h := range heroes[:3] {
		_, err := s2.Get(ctx, "Hero", get(t, h, "id"))
		require.NoError(t, err)
	}
	require.NoError(t, s2.Delete(teams[0]))
	res, err := s2.Commit(ctx)
	require.NoError(t, err)
	assert.Len(t, res.Deleted, 4, "the team and its loaded heroes")
	assert.Equal(t, int64(2), res.Cascaded)
	assert.Equal(t, int64(3), res.Links)
	assert.Equal(t, session.Deleted, teams[0].State())
	assert.Empty(t, rows(t, store, "teams"))
	assert.Empty(t, rows(t, store, "heroes"))
	assert.Empty(t, rows(t, store, "hero_powers"))
	assert.Len(t, rows(t, store, "powers"), 1)

	for _, i := range res.Deleted {
		assert.Equal(t, session.Deleted, i.State())
		assert.ErrorIs(t, s2.Update(i, map[string]any{"name": "x"}), modelkit.ErrInstanceDeleted)
	}
	_, err = s2.Get(ctx, "Team", get(t, teams[0], "id"))
	assert.True(t, modelkit.IsNotFound(err))
}

func TestDeleteOneToOne(t *testing.T) {
	ctx := context.Background()
	g := fixture.MustGraph()
	store := migrated(t, g)
	s := open(t, g, store)

	u := session.New("User", map[string]any{"email": "a@example.com", "password": "secret"})
	p := session.New("Profile", map[string]any{"bio": "hi"})
	require.NoError(t, s.Create(u))
	require.NoError(t, s.Create(p))
	require.NoError(t, s.Link(u, "profile", p))
	_, err := s.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, get(t, u, "id"), get(t, p, "user_id"))

	require.NoError(t, s.Delete(u))
	res, err := s.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, []*session.Instance{p, u}, res.Deleted, "dependent first")
	assert.Empty(t, rows(t, store, "profiles"))
}

func TestUnlink(t *testing.T) {
	ctx := context.Background()
	g := fixture.MustGraph()
	store := migrated(t, g)
	s := open(t, g, store)

	team := session.New("Team", map[string]any{"name": "avengers"})
	hero := session.New("Hero", map[string]any{"name": "thor"})
	flight := session.New("Power", map[string]any{"name": "flight"})
	for _, i := range []*session.Instance{team, hero, flight} {
		require.NoError(t, s.Create(i))
	}
	require.NoError(t, s.Link(team, "heroes", hero))
	require.NoError(t, s.Link(flight, "heroes", hero))
	_, err := s.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, get(t, team, "id"), get(t, hero, "team_id"))
	assert.Len(t, rows(t, store, "hero_powers"), 1)

	require.NoError(t, s.Unlink(team, "heroes", hero))
	require.NoError(t, s.Unlink(hero, "powers", flight))
	res, err := s.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Links)
	assert.Nil(t, get(t, hero, "team_id"))
	assert.Empty(t, rows(t, store, "hero_powers"))
	assert.Nil(t, rows(t, store, "heroes")[0]["team_id"])

	got, err := s.Load(ctx, hero, "powers")
	require.NoError(t, err)
	assert.Empty(t, got)
	got, err = s.Load(ctx, hero, "team")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUnlinkStaged(t *testing.T) {
	ctx := context.Background()
	g := fixture.MustGraph()
	store := migrated(t, g)
	s := open(t, g, store)

	team := session.New("Team", map[string]any{"name": "avengers"})
	hero := session.New("Hero", map[string]any{"name": "thor"})
	flight := session.New("Power", map[string]any{"name": "flight"})
	for _, i := range []*session.Instance{team, hero, flight} {
		require.NoError(t, s.Create(i))
	}
	require.NoError(t, s.Link(hero, "team", team))
	require.NoError(t, s.Unlink(hero, "team", team))
	require.NoError(t, s.Link(hero, "powers", flight))
	require.NoError(t, s.Unlink(flight, "heroes", hero))
	got, err := s.Load(ctx, hero, "team")
	require.NoError(t, err)
	assert.Empty(t, got)
	got, err = s.Load(ctx, flight, "heroes")
	require.NoError(t, err)
	assert.Empty(t, got)

	res, err := s.Commit(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Links)
	assert.Empty(t, rows(t, store, "hero_powers"))
	fresh := open(t, g, store)
	h, err := fresh.Get(ctx, "Hero", get(t, hero, "id"))
	require.NoError(t, err)
	assert.Nil(t, h.Values()["team_id"])

	// Removing a stored link and adding it back leaves it in place.
	require.NoError(t, s.Link(hero, "powers", flight))
	_, err = s.Commit(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Unlink(hero, "powers", flight))
	require.NoError(t, s.Link(flight, "heroes", hero))
	assert.False(t, s.Pending())
	_, err = s.Commit(ctx)
	require.NoError(t, err)
	assert.Len(t, rows(t, store, "hero_powers"), 1)

	// A key given as a value of a pending holder is cleared too.
	loki := session.New("Hero", map[string]any{"name": "loki", "team_id": get(t, team, "id")})
	require.NoError(t, s.Create(loki))
	require.NoError(t, s.Unlink(loki, "team", team))
	_, err = s.Commit(ctx)
	require.NoError(t, err)
	assert.Nil(t, loki.Values()["team_id"])
}

func TestLinkPersisted(t *testing.T) {
	ctx := context.Background()
	g := fixture.MustGraph()
	store := migrated(t, g)
	s := open(t, g, store)

	a := session.New("Team", map[string]any{"name": "a"})
	b := session.New("Team", map[string]any{"name": "b"})
	hero := session.New("Hero", map[string]any{"name": "thor"})
	for _, i := range []*session.Instance{a, b, hero} {
		require.NoError(t, s.Create(i))
	}
	require.NoError(t, s.Link(hero, "team", a))
	_, err := s.Commit(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Link(hero, "team", b))
	res, err := s.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, []*session.Instance{hero}, res.Updated)
	assert.Equal(t, get(t, b, "id"), get(t, hero, "team_id"))

	err = s.Link(hero, "team", a, b)
	assert.ErrorIs(t, err, modelkit.ErrInvalidField)
	err = s.Link(hero, "team", hero)
	assert.ErrorIs(t, err, modelkit.ErrInvalidField)
	_, err = s.Load(ctx, hero, "villains")
	assert.ErrorIs(t, err, modelkit.ErrUnknownEntity)
}

func TestStagingErrors(t *testing.T) {
	ctx := context.Background()
	g := fixture.MustGraph()
	store := migrated(t, g)
	s := open(t, g, store)

	team := session.New("Team", map[string]any{"name": "avengers"})
	assert.ErrorIs(t, s.Update(team, map[string]any{"name": "x"}), modelkit.ErrNotPersisted)
	assert.ErrorIs(t, s.Delete(team), modelkit.ErrNotPersisted)
	require.NoError(t, s.Create(team))
	assert.ErrorIs(t, s.Create(team), modelkit.ErrAlreadyStaged)
	_, err := s.Commit(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Create(team), modelkit.ErrAlreadyStaged)

	err = s.Create(session.New("Team", map[string]any{}))
	assert.True(t, modelkit.IsValidationError(err))
	err = s.Create(session.New("Hero", map[string]any{"name": "thor", "level": 100}))
	assert.True(t, modelkit.IsValidationError(err), "level is out of range")

	require.NoError(t, s.Delete(team))
	assert.ErrorIs(t, s.Update(team, map[string]any{"name": "x"}), modelkit.ErrInstanceDeleted)
	_, err = s.Commit(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Delete(team), modelkit.ErrInstanceDeleted)
	assert.ErrorIs(t, s.Create(team), modelkit.ErrInstanceDeleted)
}

func TestDetached(t *testing.T) {
	ctx := context.Background()
	g := fixture.MustGraph()
	store := migrated(t, g)
	s := open(t, g, store)

	hero := session.New("Hero", map[string]any{"name": "thor"})
	require.NoError(t, s.Create(hero))
	_, err := s.Commit(ctx)
	require.NoError(t, err)

	other := open(t, g, store)
	assert.ErrorIs(t, other.Update(hero, map[string]any{"name": "loki"}), modelkit.ErrDetachedInstance)
	assert.ErrorIs(t, other.Delete(hero), modelkit.ErrDetachedInstance)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "idempotent")
	assert.True(t, s.Closed())
	_, err = s.Load(ctx, hero, "team")
	assert.ErrorIs(t, err, modelkit.ErrDetachedInstance)
	_, err = other.Load(ctx, hero, "team")
	assert.ErrorIs(t, err, modelkit.ErrDetachedInstance)
	assert.ErrorIs(t, s.Create(session.New("Hero", nil)), modelkit.ErrSessionClosed)
	_, err = s.Commit(ctx)
	assert.ErrorIs(t, err, modelkit.ErrSessionClosed)
	_, err = s.Get(ctx, "Hero", 1)
	assert.ErrorIs(t, err, modelkit.ErrSessionClosed)
	v, ok := hero.Get("name")
	assert.True(t, ok, "values stay readable")
	assert.Equal(t, "thor", v)

	// Instances still pending when the session closes are detached as well.
	s3, err := session.Open(ctx, g, store)
	require.NoError(t, err)
	pending := session.New("Hero", map[string]any{"name": "loki"})
	require.NoError(t, s3.Create(pending))
	require.NoError(t, s3.Close())
	_, err = s3.Load(ctx, pending, "team")
	assert.ErrorIs(t, err, modelkit.ErrDetachedInstance)
	v, ok = hero.Get("name")
	assert.True(t, ok)
	assert.Equal(t, "thor", v)
}

func TestAbort(t *testing.T) {
	ctx := context.Background()
	g := fixture.MustGraph()
	store := migrated(t, g)
	s := open(t, g, store)

	team := session.New("Team", map[string]any{"name": "avengers"})
	require.NoError(t, s.Create(team))
	_, err := s.Commit(ctx)
	require.NoError(t, err)

	hero := session.New("Hero", map[string]any{"name": "thor"})
	require.NoError(t, s.Create(hero))
	require.NoError(t, s.Link(hero, "team", team))
	require.NoError(t, s.Update(team, map[string]any{"name": "defenders"}))
	require.NoError(t, s.Delete(team))
	s.Abort()

	assert.False(t, s.Pending())
	assert.Equal(t, session.Transient, hero.State())
	_, ok := s.Lookup(hero.Ref())
	assert.False(t, ok)
	assert.Equal(t, "avengers", get(t, team, "name"))
	assert.False(t, team.Dirty("name"))
	assert.Equal(t, session.Persisted, team.State())

	res, err := s.Commit(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Created)
	assert.Empty(t, rows(t, store, "heroes"))
	assert.Len(t, rows(t, store, "teams"), 1)

	// A transient instance can be staged again.
	require.NoError(t, s.Create(hero))
}

func TestCommitFailure(t *testing.T) {
	ctx := context.Background()
	g := fixture.MustGraph()
	var fail atomic.Bool
	store := migrated(t, g, memstore.WithFault(func(op, table string) error {
		if fail.Load() && op == "commit" {
			return errors.New("connection reset")
		}
		return nil
	}))
	s := open(t, g, store)

	require.NoError(t, s.Create(session.New("Team", map[string]any{"name": "avengers"})))
	_, err := s.Commit(ctx)
	require.NoError(t, err)

	dup := session.New("Team", map[string]any{"name": "avengers"})
	hero := session.New("Hero", map[string]any{"name": "thor"})
	require.NoError(t, s.Create(hero))
	require.NoError(t, s.Create(dup))
	require.NoError(t, s.Link(hero, "team", dup))
	_, err = s.Commit(ctx)
	require.True(t, modelkit.IsConstraintError(err), "got %v", err)
	var merr *modelkit.MutationError
	assert.ErrorAs(t, err, &merr)
	assert.Equal(t, session.Pending, dup.State())
	assert.Equal(t, session.Pending, hero.State())
	assert.Len(t, rows(t, store, "heroes"), 0, "nothing is applied")

	s.Abort()
	dup = session.New("Team", map[string]any{"name": "x-men"})
	require.NoError(t, s.Create(dup))
	fail.Store(true)
	_, err = s.Commit(ctx)
	assert.True(t, modelkit.IsStorageUnavailable(err), "got %v", err)
	assert.True(t, s.Pending())
	assert.Len(t, rows(t, store, "teams"), 1)

	fail.Store(false)
	_, err = s.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.Persisted, dup.State())
	assert.Len(t, rows(t, store, "teams"), 2)
}

// A and B hold a foreign key to each other.
type A struct{ modelkit.Schema }

func (A) Fields() []modelkit.Field { return []modelkit.Field{field.String("name")} }

func (A) Edges() []modelkit.Edge {
	return []modelkit.Edge{
		edge.From("b", "B").Ref("as").Unique(),
		edge.To("bs", "B"),
	}
}

type B struct{ modelkit.Schema }

func (B) Fields() []modelkit.Field { return []modelkit.Field{field.String("name")} }

func (B) Edges() []modelkit.Edge {
	return []modelkit.Edge{
		edge.From("a", "A").Ref("bs").Unique(),
		edge.To("as", "A"),
	}
}

func TestCyclicDependency(t *testing.T) {
	ctx := context.Background()
	g, err := graph.Build(A{}, B{})
	require.NoError(t, err)
	store := migrated(t, g)
	s := open(t, g, store)

	a := session.New("A", map[string]any{"name": "a"})
	b := session.New("B", map[string]any{"name": "b"})
	require.NoError(t, s.Create(a))
	require.NoError(t, s.Create(b))
	require.NoError(t, s.Link(a, "b", b))
	require.NoError(t, s.Link(b, "a", a))
	_, err = s.Commit(ctx)
	require.ErrorIs(t, err, modelkit.ErrCyclicDependency)
	assert.True(t, s.Pending())

	// Breaking the cycle in two commits works.
	s.Abort()
	require.NoError(t, s.Create(a))
	require.NoError(t, s.Create(b))
	require.NoError(t, s.Link(a, "b", b))
	_, err = s.Commit(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Link(b, "a", a))
	_, err = s.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, get(t, a, "id"), get(t, b, "a_id"))
	assert.Equal(t, get(t, b, "id"), get(t, a, "b_id"))
}

func TestGetMany(t *testing.T) {
	ctx := context.Background()
	g := fixture.Heroes()
	store := migrated(t, g)
	s := open(t, g, store)
	var heroes []*session.Instance
	for n := range 3 {
		h := session.New("Hero", map[string]any{"name": fmt.Sprintf("hero-%d", n)})
		require.NoError(t, s.Create(h))
		heroes = append(heroes, h)
	}
	_, err := s.Commit(ctx)
	require.NoError(t, err)

	s2 := open(t, g, store)
	first, err := s2.Get(ctx, "Hero", get(t, heroes[0], "id"))
	require.NoError(t, err)
	ids := []any{get(t, heroes[2], "id"), 1000, get(t, heroes[0], "id"), int32(get(t, heroes[1], "id").(int64))}
	is, err := s2.GetMany(ctx, "Hero", ids)
	require.Error(t, err)
	assert.True(t, modelkit.IsNotFound(err))
	require.Len(t, is, 4)
	assert.Equal(t, "hero-2", get(t, is[0], "name"))
	assert.Nil(t, is[1])
	assert.Same(t, first, is[2], "tracked instance reused")
	assert.Equal(t, "hero-1", get(t, is[3], "name"))

	is, err = s2.GetMany(ctx, "Hero", ids[2:])
	require.NoError(t, err)
	assert.Len(t, is, 2)
}
