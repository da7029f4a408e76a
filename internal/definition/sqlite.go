package definition

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agentic-research/canvas/api"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps one JSON record per component definition. Update runs
// in an immediate transaction, so read-modify-write cycles from several
// processes on one file serialize on the sqlite write lock.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the definitions table in the
// database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path + "?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS component_definitions (
		id TEXT PRIMARY KEY,
		record JSON NOT NULL,
		updated INTEGER NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Load(ctx context.Context, id api.ComponentID) (*api.ComponentDefinition, error) {
	var record []byte
	err := s.db.QueryRowContext(ctx, "SELECT record FROM component_definitions WHERE id = ?", string(id)).Scan(&record)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	return decodeRecord(record)
}

func (s *SQLiteStore) Save(ctx context.Context, def *api.ComponentDefinition) error {
	return upsert(ctx, s.db, def)
}

func (s *SQLiteStore) Update(ctx context.Context, id api.ComponentID, fn UpdateFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update of %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }() // no-op once committed

	var (
		cur    *api.ComponentDefinition
		record []byte
	)
	err = tx.QueryRowContext(ctx, "SELECT record FROM component_definitions WHERE id = ?", string(id)).Scan(&record)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("load %s: %w", id, err)
	default:
		if cur, err = decodeRecord(record); err != nil {
			return err
		}
	}

	next, err := fn(cur)
	if err != nil || next == nil {
		return err
	}
	if err := upsert(ctx, tx, next); err != nil {
		return err
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsert(ctx context.Context, db execer, def *api.ComponentDefinition) error {
	record, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("encode %s: %w", def.ID, err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO component_definitions (id, record, updated) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET record = excluded.record, updated = excluded.updated`,
		string(def.ID), record, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("save %s: %w", def.ID, err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]*api.ComponentDefinition, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT record FROM component_definitions ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*api.ComponentDefinition
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, err
		}
		def, err := decodeRecord(record)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, id api.ComponentID) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM component_definitions WHERE id = ?", string(id))
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func decodeRecord(record []byte) (*api.ComponentDefinition, error) {
	var def api.ComponentDefinition
	if err := json.Unmarshal(record, &def); err != nil {
		return nil, fmt.Errorf("decode definition record: %w", err)
	}
	if def.Snapshots == nil {
		def.Snapshots = make(map[string]api.ComponentSettings)
	}
	return &def, nil
}
