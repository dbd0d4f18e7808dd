package store

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// fakeLocal is an in-memory LocalBackend.
type fakeLocal struct {
	records map[string]*Record
	getErr  error
}

func newFakeLocal() *fakeLocal {
	return &fakeLocal{records: make(map[string]*Record)}
}

func recordKey(kind, key string) string { return kind + "/" + key }

func (f *fakeLocal) Upsert(_ context.Context, rec Record) (int64, error) {
	k := recordKey(rec.Kind, rec.Key)
	if existing, ok := f.records[k]; ok {
		rec.LocalVersion = existing.LocalVersion + 1
	} else {
		rec.LocalVersion = 1
	}
	rec.RemoteSynced = false
	f.records[k] = &rec
	return rec.LocalVersion, nil
}

func (f *fakeLocal) Get(_ context.Context, kind, key string) (*Record, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	rec, ok := f.records[recordKey(kind, key)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeLocal) List(_ context.Context, kind string) ([]Record, error) {
	var out []Record
	for _, rec := range f.records {
		if rec.Kind == kind {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (f *fakeLocal) Delete(_ context.Context, kind, key string) error {
	delete(f.records, recordKey(kind, key))
	return nil
}

func (f *fakeLocal) ListUnsynced(_ context.Context, limit int) ([]Record, error) {
	var out []Record
	for _, rec := range f.records {
		if !rec.RemoteSynced {
			out = append(out, *rec)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeLocal) MarkSynced(_ context.Context, kind, key string, version int64) error {
	rec, ok := f.records[recordKey(kind, key)]
	if ok && rec.LocalVersion == version {
		rec.RemoteSynced = true
	}
	return nil
}

// fakeRemote is a scriptable RemoteBackend that counts upserts.
type fakeRemote struct {
	records    map[string]*Record
	upserts    int
	upsertErrs []error
	getErr     error
	deleteErr  error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{records: make(map[string]*Record)}
}

func (f *fakeRemote) Upsert(_ context.Context, rec Record) error {
	f.upserts++
	if len(f.upsertErrs) > 0 {
		err := f.upsertErrs[0]
		f.upsertErrs = f.upsertErrs[1:]
		if err != nil {
			return err
		}
	}
	f.records[recordKey(rec.Kind, rec.Key)] = &rec
	return nil
}

func (f *fakeRemote) Get(_ context.Context, kind, key string) (*Record, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	rec, ok := f.records[recordKey(kind, key)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeRemote) Delete(_ context.Context, kind, key string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.records, recordKey(kind, key))
	return nil
}

type payload struct {
	Name string `json:"name"`
}

type SyncStoreTestSuite struct {
	suite.Suite
	local  *fakeLocal
	remote *fakeRemote
	store  *SyncStore
	slept  []time.Duration
}

func (s *SyncStoreTestSuite) SetupTest() {
	s.local = newFakeLocal()
	s.remote = newFakeRemote()
	s.slept = nil

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	s.store = NewSyncStore(s.local, s.remote, 250*time.Millisecond, logger)
	s.store.sleep = func(_ context.Context, d time.Duration) { s.slept = append(s.slept, d) }
}

func TestSyncStoreTestSuite(t *testing.T) {
	suite.Run(t, new(SyncStoreTestSuite))
}

func (s *SyncStoreTestSuite) TestWrite_MirrorsToRemote() {
	err := s.store.Write(context.Background(), KindBrief, "b1", payload{Name: "launch"})
	s.NoError(err)

	s.Equal(1, s.remote.upserts)
	s.True(s.local.records["brief/b1"].RemoteSynced)
	s.Empty(s.slept)
}

func (s *SyncStoreTestSuite) TestWrite_RetriesOnceOnTransientConflict() {
	s.remote.upsertErrs = []error{
		&ConflictError{Err: errors.New("connection reset")},
		nil,
	}

	err := s.store.Write(context.Background(), KindBrief, "b1", payload{Name: "launch"})
	s.NoError(err)

	s.Equal(2, s.remote.upserts)
	s.Equal([]time.Duration{250 * time.Millisecond}, s.slept)
	s.True(s.local.records["brief/b1"].RemoteSynced)
}

func (s *SyncStoreTestSuite) TestWrite_SecondConflictLeavesUnsynced() {
	s.remote.upsertErrs = []error{
		&ConflictError{Err: errors.New("deadlock detected")},
		&ConflictError{Err: errors.New("deadlock detected")},
	}

	err := s.store.Write(context.Background(), KindBrief, "b1", payload{Name: "launch"})
	s.NoError(err)

	// Exactly one retry, never more.
	s.Equal(2, s.remote.upserts)
	s.False(s.local.records["brief/b1"].RemoteSynced)

	var out payload
	found, err := s.store.Read(context.Background(), KindBrief, "b1", &out)
	s.NoError(err)
	s.True(found)
	s.Equal("launch", out.Name)
}

func (s *SyncStoreTestSuite) TestWrite_RetryDelaySkippedOnCancelledContext() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	store := NewSyncStore(s.local, s.remote, 2*time.Second, logger)

	s.remote.upsertErrs = []error{
		&ConflictError{Err: errors.New("connection reset")},
		&ConflictError{Err: errors.New("connection reset")},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	begin := time.Now()
	err := store.Write(ctx, KindBrief, "b1", payload{Name: "launch"})
	s.NoError(err)

	// The local commit stands and the retry delay was not waited out.
	s.Less(time.Since(begin), time.Second)
	s.False(s.local.records["brief/b1"].RemoteSynced)
}

func (s *SyncStoreTestSuite) TestWrite_NonTransientFailureIsNotRetried() {
	s.remote.upsertErrs = []error{errors.New("constraint violation")}

	err := s.store.Write(context.Background(), KindBrief, "b1", payload{Name: "launch"})
	s.NoError(err)

	s.Equal(1, s.remote.upserts)
	s.Empty(s.slept)
	s.False(s.local.records["brief/b1"].RemoteSynced)
}

func (s *SyncStoreTestSuite) TestRead_LocalMissPopulatesFromRemote() {
	s.remote.records["brief/b1"] = &Record{
		Kind: KindBrief, Key: "b1",
		Payload:      []byte(`{"name":"remote copy"}`),
		LocalVersion: 3,
	}

	var out payload
	found, err := s.store.Read(context.Background(), KindBrief, "b1", &out)
	s.NoError(err)
	s.True(found)
	s.Equal("remote copy", out.Name)

	// Local now holds the record and it counts as synced.
	local := s.local.records["brief/b1"]
	s.NotNil(local)
	s.True(local.RemoteSynced)
}

func (s *SyncStoreTestSuite) TestRead_RemoteFailureDegradesToAbsent() {
	s.remote.getErr = errors.New("remote unavailable")

	var out payload
	found, err := s.store.Read(context.Background(), KindBrief, "missing", &out)
	s.NoError(err)
	s.False(found)
}

func (s *SyncStoreTestSuite) TestDelete_RemoteFailureIsBestEffort() {
	s.NoError(s.store.Write(context.Background(), KindBrief, "b1", payload{Name: "launch"}))
	s.remote.deleteErr = errors.New("remote unavailable")

	s.NoError(s.store.Delete(context.Background(), KindBrief, "b1"))

	var out payload
	found, err := s.store.Read(context.Background(), KindBrief, "b1", &out)
	s.NoError(err)
	s.True(found) // still mirrored remotely, read-through finds it
}

func (s *SyncStoreTestSuite) TestReconcile_FlushesUnsynced() {
	s.remote.upsertErrs = []error{
		errors.New("remote down"),
		errors.New("remote down"),
	}
	s.NoError(s.store.Write(context.Background(), KindBrief, "b1", payload{Name: "one"}))
	s.NoError(s.store.Write(context.Background(), KindVariant, "b1/ig", payload{Name: "two"}))
	s.False(s.local.records["brief/b1"].RemoteSynced)
	s.False(s.local.records["variant/b1/ig"].RemoteSynced)

	flushed, err := s.store.Reconcile(context.Background())
	s.NoError(err)
	s.Equal(2, flushed)

	s.True(s.local.records["brief/b1"].RemoteSynced)
	s.True(s.local.records["variant/b1/ig"].RemoteSynced)

	flushed, err = s.store.Reconcile(context.Background())
	s.NoError(err)
	s.Zero(flushed)
}

func (s *SyncStoreTestSuite) TestWrite_VersionBumpsPerKey() {
	ctx := context.Background()
	s.NoError(s.store.Write(ctx, KindBrief, "b1", payload{Name: "v1"}))
	s.NoError(s.store.Write(ctx, KindBrief, "b1", payload{Name: "v2"}))

	s.Equal(int64(2), s.local.records["brief/b1"].LocalVersion)

	var out payload
	found, err := s.store.Read(ctx, KindBrief, "b1", &out)
	s.NoError(err)
	s.True(found)
	s.Equal("v2", out.Name)
}
