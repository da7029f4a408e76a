package draft

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/agentic-research/canvas/api"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps drafts in a single table keyed by (kind, id, locale).
// The compare-and-swap is a conditional INSERT or UPDATE whose affected row
// count decides the outcome, so it holds across processes sharing the file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the drafts table at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS drafts (
		kind TEXT NOT NULL,
		id TEXT NOT NULL,
		locale TEXT NOT NULL,
		data BLOB NOT NULL,
		data_hash TEXT NOT NULL,
		owner TEXT NOT NULL,
		client_instance_id TEXT NOT NULL,
		updated INTEGER NOT NULL,
		PRIMARY KEY (kind, id, locale)
	) WITHOUT ROWID;
	CREATE INDEX IF NOT EXISTS idx_drafts_owner ON drafts(owner);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

const selectEntry = `SELECT kind, id, locale, data, data_hash, owner, client_instance_id, updated FROM drafts`

func (s *SQLiteStore) Get(ctx context.Context, key api.DraftKey) (*api.DraftEntry, error) {
	row := s.db.QueryRowContext(ctx, selectEntry+" WHERE kind = ? AND id = ? AND locale = ?", key.Kind, key.ID, key.Locale)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get draft %s: %w", key, err)
	}
	return e, nil
}

func (s *SQLiteStore) WriteIfMatches(ctx context.Context, key api.DraftKey, expectedHash string, entry *api.DraftEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin draft write: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // no-op once committed

	updated := entry.UpdatedAt.UnixNano()
	var res sql.Result
	if expectedHash == api.HashNone {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO drafts (kind, id, locale, data, data_hash, owner, client_instance_id, updated)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (kind, id, locale) DO NOTHING`,
			key.Kind, key.ID, key.Locale, []byte(entry.Data), entry.DataHash, entry.Owner, entry.ClientInstanceID, updated)
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE drafts SET data = ?, data_hash = ?, owner = ?, client_instance_id = ?, updated = ?
			WHERE kind = ? AND id = ? AND locale = ? AND data_hash = ?`,
			[]byte(entry.Data), entry.DataHash, entry.Owner, entry.ClientInstanceID, updated,
			key.Kind, key.ID, key.Locale, expectedHash)
	}
	if err != nil {
		return fmt.Errorf("write draft %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("write draft %s: %w", key, err)
	}
	if n == 0 {
		return ErrConflict
	}
	return tx.Commit()
}

func (s *SQLiteStore) Delete(ctx context.Context, key api.DraftKey) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM drafts WHERE kind = ? AND id = ? AND locale = ?", key.Kind, key.ID, key.Locale)
	if err != nil {
		return fmt.Errorf("delete draft %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteObject(ctx context.Context, kind, id string) ([]api.DraftKey, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin object delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // no-op once committed

	rows, err := tx.QueryContext(ctx, "SELECT locale FROM drafts WHERE kind = ? AND id = ? ORDER BY locale", kind, id)
	if err != nil {
		return nil, fmt.Errorf("list object drafts: %w", err)
	}
	var removed []api.DraftKey
	for rows.Next() {
		var locale string
		if err := rows.Scan(&locale); err != nil {
			_ = rows.Close()
			return nil, err
		}
		removed = append(removed, api.DraftKey{Kind: kind, ID: id, Locale: locale})
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM drafts WHERE kind = ? AND id = ?", kind, id); err != nil {
		return nil, fmt.Errorf("delete object drafts: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return removed, nil
}

func (s *SQLiteStore) ListByOwner(ctx context.Context, owner string) ([]*api.DraftEntry, error) {
	return s.query(ctx, selectEntry+" WHERE owner = ? ORDER BY kind, id, locale", owner)
}

func (s *SQLiteStore) List(ctx context.Context) ([]*api.DraftEntry, error) {
	return s.query(ctx, selectEntry+" ORDER BY kind, id, locale")
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]*api.DraftEntry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*api.DraftEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*api.DraftEntry, error) {
	var (
		e       api.DraftEntry
		data    []byte
		updated int64
	)
	if err := row.Scan(&e.Key.Kind, &e.Key.ID, &e.Key.Locale, &data, &e.DataHash, &e.Owner, &e.ClientInstanceID, &updated); err != nil {
		return nil, err
	}
	e.Data = data
	e.UpdatedAt = time.Unix(0, updated).UTC()
	return &e, nil
}
