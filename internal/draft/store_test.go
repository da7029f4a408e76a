package draft

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentic-research/canvas/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	sq, err := OpenSQLiteStore(filepath.Join(dir, "drafts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })

	bg, err := OpenBadgerStore(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bg.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sq,
		"badger": bg,
	}
}

func entry(owner, client, hash, data string) *api.DraftEntry {
	return &api.DraftEntry{
		Data:             []byte(data),
		DataHash:         hash,
		Owner:            owner,
		ClientInstanceID: client,
		UpdatedAt:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestStore_Contract(t *testing.T) {
	page1en := api.DraftKey{Kind: "page", ID: "1", Locale: "en"}
	page1fr := api.DraftKey{Kind: "page", ID: "1", Locale: "fr"}
	page11 := api.DraftKey{Kind: "page", ID: "11", Locale: "en"}

	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.Get(ctx, page1en)
			assert.True(t, errors.Is(err, ErrNotFound))

			// create requires "no draft"
			assert.True(t, errors.Is(s.WriteIfMatches(ctx, page1en, "h0", entry("alice", "tab-1", "h1", `{"a":1}`)), ErrConflict))
			require.NoError(t, s.WriteIfMatches(ctx, page1en, api.HashNone, entry("alice", "tab-1", "h1", `{"a":1}`)))
			assert.True(t, errors.Is(s.WriteIfMatches(ctx, page1en, api.HashNone, entry("bob", "tab-2", "h9", `{}`)), ErrConflict))

			got, err := s.Get(ctx, page1en)
			require.NoError(t, err)
			assert.Equal(t, page1en, got.Key)
			assert.Equal(t, "h1", got.DataHash)
			assert.Equal(t, "alice", got.Owner)
			assert.Equal(t, "tab-1", got.ClientInstanceID)
			assert.JSONEq(t, `{"a":1}`, string(got.Data))
			assert.True(t, got.UpdatedAt.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))

			// replace requires the current hash
			assert.True(t, errors.Is(s.WriteIfMatches(ctx, page1en, "h0", entry("bob", "tab-2", "h2", `{"a":2}`)), ErrConflict))
			require.NoError(t, s.WriteIfMatches(ctx, page1en, "h1", entry("bob", "tab-2", "h2", `{"a":2}`)))
			got, err = s.Get(ctx, page1en)
			require.NoError(t, err)
			assert.Equal(t, "h2", got.DataHash)
			assert.Equal(t, "bob", got.Owner)

			require.NoError(t, s.WriteIfMatches(ctx, page1fr, api.HashNone, entry("alice", "tab-3", "h3", `{}`)))
			require.NoError(t, s.WriteIfMatches(ctx, page11, api.HashNone, entry("alice", "tab-4", "h4", `{}`)))

			mine, err := s.ListByOwner(ctx, "alice")
			require.NoError(t, err)
			require.Len(t, mine, 2)
			assert.Equal(t, page1fr, mine[0].Key)
			assert.Equal(t, page11, mine[1].Key)

			all, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, []api.DraftKey{page1en, page1fr, page11}, []api.DraftKey{all[0].Key, all[1].Key, all[2].Key})

			removed, err := s.DeleteObject(ctx, "page", "1")
			require.NoError(t, err)
			assert.Equal(t, []api.DraftKey{page1en, page1fr}, removed)
			_, err = s.Get(ctx, page11)
			require.NoError(t, err, "an object id that shares a prefix is untouched")

			require.NoError(t, s.Delete(ctx, page11))
			assert.True(t, errors.Is(s.Delete(ctx, page11), ErrNotFound))

			all, err = s.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestStore_ConcurrentCreateHasOneWinner(t *testing.T) {
	key := api.DraftKey{Kind: "page", ID: "7", Locale: "en"}
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var wins, conflicts int32
			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					e := entry("alice", fmt.Sprintf("tab-%d", i), fmt.Sprintf("h%d", i), `{}`)
					err := s.WriteIfMatches(ctx, key, api.HashNone, e)
					switch {
					case err == nil:
						atomic.AddInt32(&wins, 1)
					case errors.Is(err, ErrConflict):
						atomic.AddInt32(&conflicts, 1)
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}(i)
			}
			wg.Wait()
			assert.Equal(t, int32(1), wins)
			assert.Equal(t, int32(15), conflicts)
		})
	}
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drafts.db")
	key := api.DraftKey{Kind: "page", ID: "1", Locale: "en"}

	s, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.WriteIfMatches(context.Background(), key, api.HashNone, entry("alice", "tab-1", "h1", `{"a":1}`)))
	require.NoError(t, s.Close())

	s, err = OpenSQLiteStore(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	got, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "h1", got.DataHash)
}

func TestBadgerStore_Persistent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "badger")
	key := api.DraftKey{Kind: "page", ID: "1", Locale: "en"}

	s, err := OpenBadgerStore(DefaultBadgerConfig(dir))
	require.NoError(t, err)
	require.NoError(t, s.WriteIfMatches(context.Background(), key, api.HashNone, entry("alice", "tab-1", "h1", `{"a":1}`)))
	require.NoError(t, s.Close())

	s, err = OpenBadgerStore(DefaultBadgerConfig(dir))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	got, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Owner)

	_, err = OpenBadgerStore(BadgerConfig{})
	assert.Error(t, err)
}
