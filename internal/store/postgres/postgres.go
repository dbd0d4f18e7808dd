package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"crosspost/internal/store"
)

// Store is the eventually-consistent remote backend.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Upsert mirrors one record. Older versions never overwrite newer ones, so
// late reconcile pushes are harmless.
func (s *Store) Upsert(ctx context.Context, rec store.Record) error {
	query := `
		INSERT INTO sync_records (kind, key, payload, local_version, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (kind, key) DO UPDATE SET
			payload = EXCLUDED.payload,
			local_version = EXCLUDED.local_version,
			updated_at = EXCLUDED.updated_at
		WHERE sync_records.local_version <= EXCLUDED.local_version`

	_, err := s.db.ExecContext(ctx, query,
		rec.Kind, rec.Key, []byte(rec.Payload), rec.LocalVersion, rec.UpdatedAt,
	)
	return classify(err)
}

func (s *Store) Get(ctx context.Context, kind, key string) (*store.Record, error) {
	var rec store.Record
	query := `
		SELECT kind, key, payload, local_version, updated_at
		FROM sync_records
		WHERE kind = $1 AND key = $2`

	err := s.db.GetContext(ctx, &rec, query, kind, key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	rec.RemoteSynced = true
	return &rec, nil
}

func (s *Store) Delete(ctx context.Context, kind, key string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM sync_records WHERE kind = $1 AND key = $2",
		kind, key,
	)
	return classify(err)
}

// classify maps the recognized transient-conflict class to a typed error at
// the store boundary, so no caller ever matches raw error strings.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case strings.HasPrefix(string(pqErr.Code), "08"): // connection exceptions
			return &store.ConflictError{Err: err}
		case pqErr.Code == "40001" || pqErr.Code == "40P01": // serialization, deadlock
			return &store.ConflictError{Err: err}
		case pqErr.Code == "55P03": // lock not available
			return &store.ConflictError{Err: err}
		case pqErr.Code == "26000": // invalid prepared statement name
			return &store.ConflictError{Err: err}
		}
	}

	// Pooled connections surface prepared-statement contention as plain
	// errors with no SQLSTATE attached.
	msg := err.Error()
	if strings.Contains(msg, "prepared statement") || strings.Contains(msg, "connection reset") {
		return &store.ConflictError{Err: err}
	}

	return err
}
