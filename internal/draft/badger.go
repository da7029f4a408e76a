package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/agentic-research/canvas/api"
	"github.com/dgraph-io/badger/v4"
)

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Required unless InMemory.
	Path       string
	InMemory   bool
	SyncWrites bool
	// Logger receives badger's internal logging; nil silences it.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns a durable configuration for path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore keeps drafts in an embedded badger database. Each write runs
// in a read-write transaction, so two writers racing on one key are told
// apart by badger's own conflict detection.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens the database described by cfg.
func OpenBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

// Keys are "d", kind, id, locale joined by NUL so that an object prefix
// never matches another id.
func draftKey(key api.DraftKey) []byte {
	return []byte("d\x00" + key.Kind + "\x00" + key.ID + "\x00" + key.Locale)
}

func objectPrefix(kind, id string) []byte {
	return []byte("d\x00" + kind + "\x00" + id + "\x00")
}

var allPrefix = []byte("d\x00")

func (s *BadgerStore) Get(ctx context.Context, key api.DraftKey) (*api.DraftEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var e *api.DraftEntry
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		e, err = getEntry(txn, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func getEntry(txn *badger.Txn, key api.DraftKey) (*api.DraftEntry, error) {
	item, err := txn.Get(draftKey(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get draft %s: %w", key, err)
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("read draft %s: %w", key, err)
	}
	return decodeEntry(raw)
}

func (s *BadgerStore) WriteIfMatches(ctx context.Context, key api.DraftKey, expectedHash string, entry *api.DraftEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := cloneEntry(entry)
	stored.Key = key
	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode draft %s: %w", key, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		current := api.HashNone
		cur, err := getEntry(txn, key)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return err
		default:
			current = cur.DataHash
		}
		if current != expectedHash {
			return ErrConflict
		}
		return txn.Set(draftKey(key), raw)
	})
	if errors.Is(err, badger.ErrConflict) {
		return ErrConflict
	}
	return err
}

func (s *BadgerStore) Delete(ctx context.Context, key api.DraftKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		k := draftKey(key)
		if _, err := txn.Get(k); errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		return txn.Delete(k)
	})
}

func (s *BadgerStore) DeleteObject(ctx context.Context, kind, id string) ([]api.DraftKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var removed []api.DraftKey
	err := s.db.Update(func(txn *badger.Txn) error {
		prefix := objectPrefix(kind, id)
		var keys [][]byte
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
			removed = append(removed, api.DraftKey{Kind: kind, ID: id, Locale: string(k[len(prefix):])})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("delete object drafts %s:%s: %w", kind, id, err)
	}
	sortKeys(removed)
	return removed, nil
}

func (s *BadgerStore) ListByOwner(ctx context.Context, owner string) ([]*api.DraftEntry, error) {
	return s.scan(ctx, func(e *api.DraftEntry) bool { return e.Owner == owner })
}

func (s *BadgerStore) List(ctx context.Context) ([]*api.DraftEntry, error) {
	return s.scan(ctx, func(*api.DraftEntry) bool { return true })
}

func (s *BadgerStore) scan(ctx context.Context, keep func(*api.DraftEntry) bool) ([]*api.DraftEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*api.DraftEntry
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(allPrefix); it.ValidForPrefix(allPrefix); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			e, err := decodeEntry(raw)
			if err != nil {
				return err
			}
			if keep(e) {
				out = append(out, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortEntries(out)
	return out, nil
}

func decodeEntry(raw []byte) (*api.DraftEntry, error) {
	var e api.DraftEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode draft entry: %w", err)
	}
	return &e, nil
}
