package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// SyncStore is the local-first dual-write store. Every Write commits to the
// local backend synchronously and succeeds on the local commit alone; the
// remote mirror is opportunistic with a single bounded retry on the
// transient-conflict class. Records the mirror could not absorb stay marked
// unsynced until Reconcile flushes them.
type SyncStore struct {
	local      LocalBackend
	remote     RemoteBackend
	retryDelay time.Duration
	logger     *slog.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration)
}

func NewSyncStore(local LocalBackend, remote RemoteBackend, retryDelay time.Duration, logger *slog.Logger) *SyncStore {
	return &SyncStore{
		local:      local,
		remote:     remote,
		retryDelay: retryDelay,
		logger:     logger.With("component", "syncstore"),
		sleep:      sleepContext,
	}
}

// sleepContext pauses for d but returns early on cancellation, so a
// cancelled caller never blocks on the retry delay.
func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Write upserts one entity. The returned error reflects the local commit
// only; remote failure downgrades the record to remoteSynced=false.
func (s *SyncStore) Write(ctx context.Context, kind, key string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", kind, key, err)
	}

	rec := Record{
		Kind:         kind,
		Key:          key,
		Payload:      raw,
		RemoteSynced: false,
		UpdatedAt:    time.Now().UTC(),
	}

	version, err := s.local.Upsert(ctx, rec)
	if err != nil {
		return fmt.Errorf("local upsert %s/%s: %w", kind, key, err)
	}
	rec.LocalVersion = version

	s.mirror(ctx, rec)
	return nil
}

// mirror pushes one record to the remote backend, retrying once on the
// transient-conflict class. Failure leaves the record unsynced.
func (s *SyncStore) mirror(ctx context.Context, rec Record) {
	err := s.remote.Upsert(ctx, rec)
	if err != nil && IsTransientConflict(err) {
		s.logger.Warn("remote write conflict, retrying once",
			"kind", rec.Kind,
			"key", rec.Key,
			"error", err,
		)
		s.sleep(ctx, s.retryDelay)
		err = s.remote.Upsert(ctx, rec)
	}
	if err != nil {
		s.logger.Warn("remote write failed, left unsynced",
			"kind", rec.Kind,
			"key", rec.Key,
			"version", rec.LocalVersion,
			"error", err,
		)
		return
	}

	if err := s.local.MarkSynced(ctx, rec.Kind, rec.Key, rec.LocalVersion); err != nil {
		s.logger.Warn("mark synced failed",
			"kind", rec.Kind,
			"key", rec.Key,
			"error", err,
		)
	}
}

// Read serves from local storage when present. A local miss falls through to
// the remote backend and, on success, populates local storage; remote
// failure degrades to an absent result rather than an error.
func (s *SyncStore) Read(ctx context.Context, kind, key string, out any) (bool, error) {
	rec, err := s.local.Get(ctx, kind, key)
	if err != nil {
		return false, fmt.Errorf("local read %s/%s: %w", kind, key, err)
	}

	if rec == nil {
		remote, err := s.remote.Get(ctx, kind, key)
		if err != nil || remote == nil {
			if err != nil {
				s.logger.Debug("remote read failed",
					"kind", kind,
					"key", key,
					"error", err,
				)
			}
			return false, nil
		}
		remote.RemoteSynced = true
		if version, err := s.local.Upsert(ctx, *remote); err != nil {
			s.logger.Warn("populate local from remote failed",
				"kind", kind,
				"key", key,
				"error", err,
			)
		} else {
			_ = s.local.MarkSynced(ctx, kind, key, version)
		}
		rec = remote
	}

	if err := json.Unmarshal(rec.Payload, out); err != nil {
		return false, fmt.Errorf("unmarshal %s/%s: %w", kind, key, err)
	}
	return true, nil
}

// List returns all local records of one kind.
func (s *SyncStore) List(ctx context.Context, kind string) ([]Record, error) {
	return s.local.List(ctx, kind)
}

// Delete removes the record locally and best-effort remotely.
func (s *SyncStore) Delete(ctx context.Context, kind, key string) error {
	if err := s.local.Delete(ctx, kind, key); err != nil {
		return fmt.Errorf("local delete %s/%s: %w", kind, key, err)
	}
	if err := s.remote.Delete(ctx, kind, key); err != nil {
		s.logger.Warn("remote delete failed",
			"kind", kind,
			"key", key,
			"error", err,
		)
	}
	return nil
}

// Reconcile flushes unsynced local writes to the remote backend. Records
// that still fail stay unsynced for the next pass.
func (s *SyncStore) Reconcile(ctx context.Context) (int, error) {
	pending, err := s.local.ListUnsynced(ctx, 500)
	if err != nil {
		return 0, fmt.Errorf("list unsynced: %w", err)
	}

	flushed := 0
	for _, rec := range pending {
		if err := s.remote.Upsert(ctx, rec); err != nil {
			s.logger.Debug("reconcile push failed",
				"kind", rec.Kind,
				"key", rec.Key,
				"error", err,
			)
			continue
		}
		if err := s.local.MarkSynced(ctx, rec.Kind, rec.Key, rec.LocalVersion); err != nil {
			s.logger.Warn("reconcile mark synced failed",
				"kind", rec.Kind,
				"key", rec.Key,
				"error", err,
			)
			continue
		}
		flushed++
	}

	if flushed > 0 {
		s.logger.Info("reconciled unsynced records", "flushed", flushed, "pending", len(pending)-flushed)
	}
	return flushed, nil
}
