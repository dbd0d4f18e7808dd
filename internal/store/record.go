package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Known record kinds. Records are upserted whole by (kind, key) with
// last-write-wins semantics; there is no field-level merging.
const (
	KindBrief         = "brief"
	KindVariant       = "variant"
	KindOccurrence    = "occurrence"
	KindCalendarEntry = "calendar_entry"
	KindCreditAccount = "credit_account"
	KindCreditTx      = "credit_tx"
)

// Record wraps any persisted entity for the dual-write store. Local is
// authoritative for reads; RemoteSynced marks whether the remote mirror has
// caught up with LocalVersion.
type Record struct {
	Kind         string          `db:"kind" json:"kind"`
	Key          string          `db:"key" json:"key"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	LocalVersion int64           `db:"local_version" json:"local_version"`
	RemoteSynced bool            `db:"remote_synced" json:"remote_synced"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// LocalBackend is the always-available store every Write commits to
// synchronously. Upsert bumps and returns the record's local version.
type LocalBackend interface {
	Upsert(ctx context.Context, rec Record) (int64, error)
	Get(ctx context.Context, kind, key string) (*Record, error)
	List(ctx context.Context, kind string) ([]Record, error)
	Delete(ctx context.Context, kind, key string) error
	ListUnsynced(ctx context.Context, limit int) ([]Record, error)
	MarkSynced(ctx context.Context, kind, key string, version int64) error
}

// RemoteBackend is the eventually-consistent mirror. Transient contention is
// reported as a *ConflictError so callers never match error strings.
type RemoteBackend interface {
	Upsert(ctx context.Context, rec Record) error
	Get(ctx context.Context, kind, key string) (*Record, error)
	Delete(ctx context.Context, kind, key string) error
}

// ConflictError is the recognized transient-conflict class of the remote
// backend (connection loss, prepared-statement contention). It is retried
// exactly once inside the sync store, then downgraded to unsynced state.
type ConflictError struct {
	Err error
}

func (e *ConflictError) Error() string {
	return "transient store conflict: " + e.Err.Error()
}

func (e *ConflictError) Unwrap() error { return e.Err }

// IsTransientConflict reports whether err belongs to the retryable class.
func IsTransientConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
