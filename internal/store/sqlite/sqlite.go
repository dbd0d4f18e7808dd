package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"crosspost/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS sync_records (
	kind          TEXT NOT NULL,
	key           TEXT NOT NULL,
	payload       TEXT NOT NULL,
	local_version INTEGER NOT NULL DEFAULT 1,
	remote_synced INTEGER NOT NULL DEFAULT 0,
	updated_at    TIMESTAMP NOT NULL,
	PRIMARY KEY (kind, key)
);
CREATE INDEX IF NOT EXISTS idx_sync_records_unsynced ON sync_records (remote_synced, updated_at);
`

// Store is the always-available local backend, backed by an embedded SQLite
// database.
type Store struct {
	db *sqlx.DB
}

// Open creates or opens the local database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent component writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert writes the record whole (last-write-wins) and bumps its local
// version. Every upsert resets remote_synced until the mirror catches up.
func (s *Store) Upsert(ctx context.Context, rec store.Record) (int64, error) {
	query := `
		INSERT INTO sync_records (kind, key, payload, local_version, remote_synced, updated_at)
		VALUES (?, ?, ?, 1, 0, ?)
		ON CONFLICT (kind, key) DO UPDATE SET
			payload = excluded.payload,
			local_version = sync_records.local_version + 1,
			remote_synced = 0,
			updated_at = excluded.updated_at
		RETURNING local_version`

	var version int64
	err := s.db.QueryRowContext(ctx, query,
		rec.Kind, rec.Key, string(rec.Payload), rec.UpdatedAt,
	).Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

func (s *Store) Get(ctx context.Context, kind, key string) (*store.Record, error) {
	var rec store.Record
	query := `
		SELECT kind, key, payload, local_version, remote_synced, updated_at
		FROM sync_records
		WHERE kind = ? AND key = ?`

	err := s.db.GetContext(ctx, &rec, query, kind, key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) List(ctx context.Context, kind string) ([]store.Record, error) {
	var recs []store.Record
	query := `
		SELECT kind, key, payload, local_version, remote_synced, updated_at
		FROM sync_records
		WHERE kind = ?
		ORDER BY key`

	if err := s.db.SelectContext(ctx, &recs, query, kind); err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *Store) Delete(ctx context.Context, kind, key string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM sync_records WHERE kind = ? AND key = ?",
		kind, key,
	)
	return err
}

func (s *Store) ListUnsynced(ctx context.Context, limit int) ([]store.Record, error) {
	var recs []store.Record
	query := `
		SELECT kind, key, payload, local_version, remote_synced, updated_at
		FROM sync_records
		WHERE remote_synced = 0
		ORDER BY updated_at
		LIMIT ?`

	if err := s.db.SelectContext(ctx, &recs, query, limit); err != nil {
		return nil, err
	}
	return recs, nil
}

// MarkSynced flags one version as mirrored. The version guard keeps a newer
// local write from being marked by a stale mirror acknowledgement.
func (s *Store) MarkSynced(ctx context.Context, kind, key string, version int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE sync_records SET remote_synced = 1 WHERE kind = ? AND key = ? AND local_version = ?",
		kind, key, version,
	)
	return err
}
