package session

import (
	"context"
	"fmt"

	"github.com/syssam/modelkit"
	"github.com/syssam/modelkit/storage"
)

// GetMany returns the instances of the entity with the given primary key
// values, in the order of ids, with one storage round-trip for the ids that
// are not tracked. The slot of a missing id is nil and its
// *modelkit.NotFoundError is part of the returned error.
func (s *Session) GetMany(ctx context.Context, entity string, ids []any) ([]*Instance, error) {
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
	keys := make([]any, len(ids))
	var missing []any
	for n, id := range ids {
		if keys[n], err = pk.Normalize(id); err != nil {
			return nil, modelkit.NewValidationError(pk.Name, err)
		}
		if key, ok := identity(t, storage.Row{pk.Name: keys[n]}); ok {
			if _, ok := s.identity[key]; ok {
				continue
			}
		}
		missing = append(missing, keys[n])
	}
	if len(missing) > 0 {
		if _, err := s.find(ctx, t, storage.Where(storage.In(pk.Name, missing...))); err != nil {
			return nil, err
		}
	}
	is, errs := orderByKeys(keys, func(id any) (*Instance, bool) {
		key, _ := identity(t, storage.Row{pk.Name: id})
		i, ok := s.identity[key]
		return i, ok && i.state != Deleted
	})
	for n, err := range errs {
		if err != nil {
			errs[n] = modelkit.NewNotFoundError(entity, keys[n])
		}
	}
	return is, modelkit.NewAggregateError(errs...)
}

// orderByKeys returns the values of keys in order. The error of a key that
// has no value is modelkit.ErrNotFound.
func orderByKeys[K comparable, V any](keys []K, lookup func(K) (V, bool)) ([]V, []error) {
	result := make([]V, len(keys))
	errs := make([]error, len(keys))
	for n, key := range keys {
		if v, ok := lookup(key); ok {
			result[n] = v
		} else {
			errs[n] = modelkit.ErrNotFound
		}
	}
	return result, errs
}
