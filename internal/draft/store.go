// Package draft keeps the single unpublished (auto-save) state of each
// object and locale, guarded by optimistic concurrency control.
package draft

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/agentic-research/canvas/api"
)

var (
	ErrNotFound = errors.New("draft not found")
	ErrConflict = errors.New("draft hash mismatch")
)

// Store is the keyed draft storage. WriteIfMatches is the only mutation
// that creates or replaces an entry: it stores entry under key only if the
// hash currently stored equals expectedHash (api.HashNone meaning no entry
// exists), and returns ErrConflict otherwise. The comparison and the write
// are atomic.
type Store interface {
	Get(ctx context.Context, key api.DraftKey) (*api.DraftEntry, error)
	WriteIfMatches(ctx context.Context, key api.DraftKey, expectedHash string, entry *api.DraftEntry) error
	Delete(ctx context.Context, key api.DraftKey) error
	// DeleteObject removes the drafts of every locale of one object and
	// returns the keys removed.
	DeleteObject(ctx context.Context, kind, id string) ([]api.DraftKey, error)
	ListByOwner(ctx context.Context, owner string) ([]*api.DraftEntry, error)
	List(ctx context.Context) ([]*api.DraftEntry, error)
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[api.DraftKey]*api.DraftEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[api.DraftKey]*api.DraftEntry)}
}

func (s *MemoryStore) Get(_ context.Context, key api.DraftKey) (*api.DraftEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneEntry(e), nil
}

func (s *MemoryStore) WriteIfMatches(_ context.Context, key api.DraftKey, expectedHash string, entry *api.DraftEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := api.HashNone
	if e, ok := s.entries[key]; ok {
		current = e.DataHash
	}
	if current != expectedHash {
		return ErrConflict
	}
	stored := cloneEntry(entry)
	stored.Key = key
	s.entries[key] = stored
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key api.DraftKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return ErrNotFound
	}
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) DeleteObject(_ context.Context, kind, id string) ([]api.DraftKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []api.DraftKey
	for k := range s.entries {
		if k.Kind == kind && k.ID == id {
			removed = append(removed, k)
			delete(s.entries, k)
		}
	}
	sortKeys(removed)
	return removed, nil
}

func (s *MemoryStore) ListByOwner(_ context.Context, owner string) ([]*api.DraftEntry, error) {
	return s.collect(func(e *api.DraftEntry) bool { return e.Owner == owner }), nil
}

func (s *MemoryStore) List(_ context.Context) ([]*api.DraftEntry, error) {
	return s.collect(func(*api.DraftEntry) bool { return true }), nil
}

func (s *MemoryStore) collect(keep func(*api.DraftEntry) bool) []*api.DraftEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*api.DraftEntry
	for _, e := range s.entries {
		if keep(e) {
			out = append(out, cloneEntry(e))
		}
	}
	sortEntries(out)
	return out
}

func cloneEntry(e *api.DraftEntry) *api.DraftEntry {
	c := *e
	c.Data = append([]byte(nil), e.Data...)
	return &c
}

func keyLess(a, b api.DraftKey) bool {
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	return a.Locale < b.Locale
}

func sortKeys(keys []api.DraftKey) {
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })
}

func sortEntries(entries []*api.DraftEntry) {
	sort.Slice(entries, func(i, j int) bool { return keyLess(entries[i].Key, entries[j].Key) })
}
