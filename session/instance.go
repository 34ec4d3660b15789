package session

import (
	"fmt"
	"maps"
	"strings"

	"github.com/google/uuid"

	"github.com/syssam/modelkit/graph"
	"github.com/syssam/modelkit/storage"
)

// State is the lifecycle state of an instance.
type State uint8

// Lifecycle states.
const (
	// Transient instances were never staged.
	Transient State = iota
	// Pending instances are staged for creation.
	Pending
	// Persisted instances exist in storage.
	Persisted
	// Deleted instances were removed by a commit. Every operation on them
	// fails with modelkit.ErrInstanceDeleted.
	Deleted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Transient:
		return "transient"
	case Pending:
		return "pending"
	case Persisted:
		return "persisted"
	case Deleted:
		return "deleted"
	default:
		return "invalid"
	}
}

// Instance is one entity instance. Instances reference each other only by
// their Ref, through the session that tracks them, never by pointer fields.
type Instance struct {
	ref    uuid.UUID
	entity string
	state  State
	sess   *Session
	values storage.Row
	// orig holds the persisted values of the dirty fields.
	orig  storage.Row
	dirty map[string]struct{}
}

// New returns a transient instance of the entity with the given values.
// Values are checked when the instance is staged.
func New(entity string, values map[string]any) *Instance {
	return &Instance{
		ref:    uuid.New(),
		entity: entity,
		values: storage.Row(maps.Clone(values)),
	}
}

func newPersisted(s *Session, entity string, row storage.Row) *Instance {
	return &Instance{ref: uuid.New(), entity: entity, state: Persisted, sess: s, values: row}
}

// Ref returns the identifier of the instance inside its session.
func (i *Instance) Ref() uuid.UUID { return i.ref }

// Entity returns the entity name.
func (i *Instance) Entity() string { return i.entity }

// State returns the lifecycle state.
func (i *Instance) State() State { return i.state }

// Get returns the value of a field.
func (i *Instance) Get(name string) (any, bool) {
	v, ok := i.values[name]
	return v, ok
}

// Values returns a copy of the field values.
func (i *Instance) Values() map[string]any {
	return maps.Clone(i.values)
}

// Dirty reports whether the field is staged for update.
func (i *Instance) Dirty(name string) bool {
	_, ok := i.dirty[name]
	return ok
}

// String implements fmt.Stringer.
func (i *Instance) String() string {
	return fmt.Sprintf("%s(%s, %s)", i.entity, i.ref, i.state)
}

func (i *Instance) resetDirty() {
	i.orig, i.dirty = nil, nil
}

// identity is the key of a persisted instance in the identity map.
func identity(t *graph.Type, row storage.Row) (string, bool) {
	var b strings.Builder
	b.WriteString(t.Name)
	for _, f := range t.PrimaryKey() {
		v, ok := row[f.Name]
		if !ok || v == nil {
			return "", false
		}
		fmt.Fprintf(&b, "\x00%v", v)
	}
	return b.String(), true
}

// pkFilter matches the row of an instance with the given values.
func pkFilter(t *graph.Type, row storage.Row) storage.Filter {
	var f storage.Filter
	for _, pk := range t.PrimaryKey() {
		f = append(f, storage.EQ(pk.Name, row[pk.Name]))
	}
	return f
}
