// Package definition owns component definitions and their content-addressed
// version history.
package definition

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/agentic-research/canvas/api"
)

var ErrNotFound = errors.New("component not found")

// Store persists component definitions. Load and Save exchange copies; a
// caller never aliases the store's state.
type Store interface {
	Load(ctx context.Context, id api.ComponentID) (*api.ComponentDefinition, error)
	Save(ctx context.Context, def *api.ComponentDefinition) error
	List(ctx context.Context) ([]*api.ComponentDefinition, error)
	Delete(ctx context.Context, id api.ComponentID) error
	// Update runs fn on the definition of id, nil when there is none, and
	// saves what fn returns; a nil result saves nothing. No other Update or
	// Save on id interleaves with the cycle, including one made by another
	// process sharing the store.
	Update(ctx context.Context, id api.ComponentID, fn UpdateFunc) error
}

// UpdateFunc computes the next state of a definition from its current one.
type UpdateFunc func(cur *api.ComponentDefinition) (*api.ComponentDefinition, error)

// UsageChecker answers whether any stored object still pins a version.
type UsageChecker interface {
	InUse(ref api.ComponentRef) (bool, error)
}

// MemoryStore is a Store held in a map.
type MemoryStore struct {
	mu   sync.RWMutex
	defs map[api.ComponentID]*api.ComponentDefinition
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{defs: make(map[api.ComponentID]*api.ComponentDefinition)}
}

func (s *MemoryStore) Load(_ context.Context, id api.ComponentID) (*api.ComponentDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.defs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return def.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, def *api.ComponentDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs[def.ID] = def.Clone()
	return nil
}

func (s *MemoryStore) Update(_ context.Context, id api.ComponentID, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cur *api.ComponentDefinition
	if def, ok := s.defs[id]; ok {
		cur = def.Clone()
	}
	next, err := fn(cur)
	if err != nil || next == nil {
		return err
	}
	s.defs[id] = next.Clone()
	return nil
}

// List returns every definition ordered by id.
func (s *MemoryStore) List(_ context.Context) ([]*api.ComponentDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*api.ComponentDefinition, 0, len(s.defs))
	for _, def := range s.defs {
		out = append(out, def.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id api.ComponentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.defs[id]; !ok {
		return ErrNotFound
	}
	delete(s.defs, id)
	return nil
}
