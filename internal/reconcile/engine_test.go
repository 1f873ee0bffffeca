package reconcile

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/driftsync/driftsync/internal/model"
	"github.com/driftsync/driftsync/internal/store"
)

// ---------- fakes ----------

type fakeLocal struct {
	mu      sync.Mutex
	records map[string]model.Record
}

func newFakeLocal(recs ...model.Record) *fakeLocal {
	l := &fakeLocal{records: make(map[string]model.Record)}
	for _, r := range recs {
		l.records[r.ID] = r
	}
	return l
}

func (l *fakeLocal) GetAll(ctx context.Context) ([]model.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.Record, 0, len(l.records))
	for _, r := range l.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (l *fakeLocal) Get(ctx context.Context, id string) (*model.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (l *fakeLocal) Put(ctx context.Context, r model.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[r.ID] = r
	return nil
}

func (l *fakeLocal) PutAll(ctx context.Context, rs []model.Record) error {
	for _, r := range rs {
		if err := l.Put(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (l *fakeLocal) Delete(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, id)
	return nil
}

func (l *fakeLocal) DeleteAll(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = make(map[string]model.Record)
	return nil
}

func (l *fakeLocal) GetDirty(ctx context.Context) ([]model.Record, error) {
	all, _ := l.GetAll(ctx)
	var out []model.Record
	for _, r := range all {
		if r.Dirty {
			out = append(out, r)
		}
	}
	return out, nil
}

func (l *fakeLocal) MarkSynced(ctx context.Context, id string, syncedAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[id]
	if !ok {
		return store.ErrNotFound
	}
	r.Dirty = false
	r.SyncedAt = &syncedAt
	l.records[id] = r
	return nil
}

type fakeRemote struct {
	mu            sync.Mutex
	records       map[string]model.Record
	authenticated bool
	calls         []string
	getAllErr     error
	getAllGate    chan struct{} // when set, GetAll blocks until closed
	putErr        map[string]error
	deleteErr     error
}

func newFakeRemote(recs ...model.Record) *fakeRemote {
	r := &fakeRemote{records: make(map[string]model.Record), authenticated: true}
	for _, rec := range recs {
		rec.Dirty = false
		r.records[rec.ID] = rec
	}
	return r
}

func (f *fakeRemote) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeRemote) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRemote) Get(ctx context.Context, id string) (*model.Record, error) {
	f.record("get " + id)
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (f *fakeRemote) GetAll(ctx context.Context) ([]model.Record, error) {
	f.record("getAll")
	if f.getAllGate != nil {
		<-f.getAllGate
	}
	if f.getAllErr != nil {
		return nil, f.getAllErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Record, 0, len(f.records))
	for _, r := range f.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRemote) Put(ctx context.Context, r model.Record) error {
	f.record("put " + r.ID)
	if err := f.putErr[r.ID]; err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r.Dirty = false
	f.records[r.ID] = r
	return nil
}

func (f *fakeRemote) Delete(ctx context.Context, id string) error {
	f.record("delete " + id)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, id)
	return nil
}

func (f *fakeRemote) Changes(ctx context.Context) <-chan []model.Record {
	ch := make(chan []model.Record)
	close(ch)
	return ch
}

func (f *fakeRemote) IsAuthenticated() bool { return f.authenticated }
func (f *fakeRemote) OwnerID() string       { return "owner-1" }

type fakeMonitor struct{ online bool }

func (m *fakeMonitor) Online() bool        { return m.online }
func (m *fakeMonitor) Stream() <-chan bool { return make(chan bool) }

// ---------- helpers ----------

func testRecord(id string, updatedAt time.Time, dirty bool) model.Record {
	return model.Record{
		ID:        id,
		Title:     "record " + id,
		CreatedAt: updatedAt.Add(-time.Hour),
		UpdatedAt: updatedAt,
		Dirty:     dirty,
	}
}

func newTestEngine(local store.Store, rem *fakeRemote, online bool) *Engine {
	return New(local, rem, &fakeMonitor{online: online}, zerolog.Nop())
}

// ---------- push ----------

func TestPush_RemoteStrictlyNewerWins(t *testing.T) {
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	local := newFakeLocal(testRecord("a", base, true))
	remoteCopy := testRecord("a", base.Add(time.Hour), false)
	remoteCopy.Title = "remote title"
	rem := newFakeRemote(remoteCopy)

	e := newTestEngine(local, rem, true)
	n, err := e.Push(context.Background())
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if n != 0 {
		t.Fatalf("synced count = %d, want 0", n)
	}

	got, err := local.Get(context.Background(), "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "remote title" || got.Dirty {
		t.Fatalf("local copy not overwritten by remote: %+v", got)
	}
	for _, call := range rem.calls {
		if call == "put a" {
			t.Fatal("push wrote a record the remote already had newer")
		}
	}
}

func TestPush_LocalNewerIsPushed(t *testing.T) {
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	local := newFakeLocal(testRecord("b", base, true))
	rem := newFakeRemote(testRecord("b", base.Add(-time.Hour), false))

	e := newTestEngine(local, rem, true)
	n, err := e.Push(context.Background())
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if n != 1 {
		t.Fatalf("synced count = %d, want 1", n)
	}

	got, _ := local.Get(context.Background(), "b")
	if got.Dirty {
		t.Fatal("record still dirty after successful push")
	}
	if got.SyncedAt == nil {
		t.Fatal("syncedAt not stamped after successful push")
	}
	if rc := rem.records["b"]; rc.UpdatedAt != base {
		t.Fatalf("remote copy not the local version: %+v", rc)
	}
}

func TestPush_TieFavorsLocal(t *testing.T) {
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	local := newFakeLocal(testRecord("t", base, true))
	rem := newFakeRemote(testRecord("t", base, false))

	e := newTestEngine(local, rem, true)
	n, err := e.Push(context.Background())
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if n != 1 {
		t.Fatalf("synced count = %d, want 1 on timestamp tie", n)
	}
}

func TestPush_NoRemoteCounterpart(t *testing.T) {
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	local := newFakeLocal(testRecord("fresh", base, true))
	rem := newFakeRemote()

	e := newTestEngine(local, rem, true)
	n, err := e.Push(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("push = (%d, %v), want (1, nil)", n, err)
	}
	if _, ok := rem.records["fresh"]; !ok {
		t.Fatal("record not created remotely")
	}
}

func TestPush_Idempotent(t *testing.T) {
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	local := newFakeLocal(testRecord("x", base, true))
	rem := newFakeRemote()
	e := newTestEngine(local, rem, true)

	if n, _ := e.Push(context.Background()); n != 1 {
		t.Fatalf("first push = %d, want 1", n)
	}
	if n, _ := e.Push(context.Background()); n != 0 {
		t.Fatalf("second push = %d, want 0", n)
	}

	puts := 0
	for _, call := range rem.calls {
		if call == "put x" {
			puts++
		}
	}
	if puts != 1 {
		t.Fatalf("remote put called %d times, want 1", puts)
	}
}

func TestPush_MixedBatchSyncsOnlyDirty(t *testing.T) {
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	local := newFakeLocal(
		testRecord("d1", base, true),
		testRecord("d2", base, true),
		testRecord("clean", base, false),
	)
	rem := newFakeRemote()

	e := newTestEngine(local, rem, true)
	n, err := e.Push(context.Background())
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if n != 2 {
		t.Fatalf("synced count = %d, want 2", n)
	}
	if _, ok := rem.records["clean"]; ok {
		t.Fatal("clean record was pushed")
	}
}

func TestPush_PerRecordFailureDoesNotAbortBatch(t *testing.T) {
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	local := newFakeLocal(
		testRecord("bad", base, true),
		testRecord("good", base, true),
	)
	rem := newFakeRemote()
	rem.putErr = map[string]error{"bad": errors.New("remote exploded")}

	e := newTestEngine(local, rem, true)
	n, err := e.Push(context.Background())
	if err != nil {
		t.Fatalf("per-record failure must not surface: %v", err)
	}
	if n != 1 {
		t.Fatalf("synced count = %d, want 1", n)
	}
	got, _ := local.Get(context.Background(), "bad")
	if !got.Dirty {
		t.Fatal("failed record lost its dirty flag")
	}
}

// ---------- pull ----------

func TestPull_PreservesPendingLocalEdit(t *testing.T) {
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	localRec := testRecord("c", base, true)
	localRec.Title = "local edit"
	local := newFakeLocal(localRec)
	rem := newFakeRemote(testRecord("c", base.Add(-time.Hour), false))

	e := newTestEngine(local, rem, true)
	if _, err := e.Pull(context.Background()); err != nil {
		t.Fatalf("pull: %v", err)
	}

	got, _ := local.Get(context.Background(), "c")
	if got.Title != "local edit" || !got.Dirty {
		t.Fatalf("pending local edit lost: %+v", got)
	}
}

func TestPull_RemoteNewerOverwritesDirtyLocal(t *testing.T) {
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	local := newFakeLocal(testRecord("c", base, true))
	remoteCopy := testRecord("c", base.Add(time.Hour), false)
	remoteCopy.Title = "remote wins"
	rem := newFakeRemote(remoteCopy)

	e := newTestEngine(local, rem, true)
	if _, err := e.Pull(context.Background()); err != nil {
		t.Fatalf("pull: %v", err)
	}

	got, _ := local.Get(context.Background(), "c")
	if got.Title != "remote wins" || got.Dirty {
		t.Fatalf("remote copy should have replaced dirty local: %+v", got)
	}
}

func TestPull_CleanLocalAlwaysOverwritten(t *testing.T) {
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	local := newFakeLocal(testRecord("c", base, false))
	older := testRecord("c", base.Add(-time.Hour), false)
	older.Title = "older remote"
	rem := newFakeRemote(older)

	e := newTestEngine(local, rem, true)
	if _, err := e.Pull(context.Background()); err != nil {
		t.Fatalf("pull: %v", err)
	}

	got, _ := local.Get(context.Background(), "c")
	if got.Title != "older remote" {
		t.Fatalf("clean local has no precedence claim, want overwrite: %+v", got)
	}
}

func TestPull_InsertsUnknownRecordsClean(t *testing.T) {
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	local := newFakeLocal()
	rem := newFakeRemote(testRecord("new", base, false))

	e := newTestEngine(local, rem, true)
	n, err := e.Pull(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("pull = (%d, %v), want (1, nil)", n, err)
	}
	got, _ := local.Get(context.Background(), "new")
	if got.Dirty {
		t.Fatal("freshly pulled record must be clean")
	}
}

func TestPull_SnapshotFailureAbortsPass(t *testing.T) {
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	local := newFakeLocal(testRecord("keep", base, false))
	rem := newFakeRemote()
	rem.getAllErr = errors.New("snapshot unavailable")

	e := newTestEngine(local, rem, true)
	n, err := e.Pull(context.Background())
	if err == nil {
		t.Fatal("expected pass-level error")
	}
	if n != 0 {
		t.Fatalf("applied = %d, want 0", n)
	}
	if _, err := local.Get(context.Background(), "keep"); err != nil {
		t.Fatal("local state must be untouched after aborted pull")
	}
}

func TestPull_DoesNotDeleteAbsentRecords(t *testing.T) {
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	local := newFakeLocal(testRecord("only-local", base, false))
	rem := newFakeRemote()

	e := newTestEngine(local, rem, true)
	if _, err := e.Pull(context.Background()); err != nil {
		t.Fatalf("pull: %v", err)
	}
	if _, err := local.Get(context.Background(), "only-local"); err != nil {
		t.Fatal("pull must not reconcile deletions")
	}
}

// ---------- preconditions and guard ----------

func TestOfflinePassesAreNoOps(t *testing.T) {
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	local := newFakeLocal(testRecord("a", base, true))
	rem := newFakeRemote()

	e := newTestEngine(local, rem, false)
	ctx := context.Background()

	if n, err := e.Push(ctx); n != 0 || err != nil {
		t.Fatalf("offline push = (%d, %v), want (0, nil)", n, err)
	}
	if n, err := e.Pull(ctx); n != 0 || err != nil {
		t.Fatalf("offline pull = (%d, %v), want (0, nil)", n, err)
	}
	if res, err := e.FullSync(ctx); res != (Result{}) || err != nil {
		t.Fatalf("offline full sync = (%+v, %v), want zero result", res, err)
	}
	if rem.callCount() != 0 {
		t.Fatalf("offline passes made %d remote calls", rem.callCount())
	}
}

func TestUnauthenticatedPassesAreNoOps(t *testing.T) {
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	local := newFakeLocal(testRecord("a", base, true))
	rem := newFakeRemote()
	rem.authenticated = false

	e := newTestEngine(local, rem, true)
	if n, err := e.Push(context.Background()); n != 0 || err != nil {
		t.Fatalf("unauthenticated push = (%d, %v), want (0, nil)", n, err)
	}
	if rem.callCount() != 0 {
		t.Fatal("unauthenticated pass reached the remote store")
	}
}

func TestInFlightGuardRejectsOverlappingPasses(t *testing.T) {
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	local := newFakeLocal(testRecord("a", base, true))
	rem := newFakeRemote()
	rem.getAllGate = make(chan struct{})

	e := newTestEngine(local, rem, true)

	pullDone := make(chan struct{})
	go func() {
		defer close(pullDone)
		_, _ = e.Pull(context.Background())
	}()

	// Wait for the pull to reach the blocked snapshot fetch.
	for rem.callCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	if n, err := e.Push(context.Background()); n != 0 || err != nil {
		t.Fatalf("overlapping push = (%d, %v), want immediate (0, nil)", n, err)
	}
	if res, err := e.FullSync(context.Background()); res != (Result{}) || err != nil {
		t.Fatalf("overlapping full sync = (%+v, %v), want zero result", res, err)
	}

	close(rem.getAllGate)
	<-pullDone

	// Guard released: the next pass runs.
	if n, _ := e.Push(context.Background()); n != 1 {
		t.Fatalf("push after guard release = %d, want 1", n)
	}
}

func TestFullSyncRunsPushBeforePull(t *testing.T) {
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	local := newFakeLocal(testRecord("a", base, true))
	rem := newFakeRemote()

	e := newTestEngine(local, rem, true)
	res, err := e.FullSync(context.Background())
	if err != nil {
		t.Fatalf("full sync: %v", err)
	}
	if res.Pushed != 1 {
		t.Fatalf("pushed = %d, want 1", res.Pushed)
	}

	var putIdx, getAllIdx int
	for i, call := range rem.calls {
		switch call {
		case "put a":
			putIdx = i
		case "getAll":
			getAllIdx = i
		}
	}
	if putIdx > getAllIdx {
		t.Fatalf("pull ran before push: %v", rem.calls)
	}
}

// ---------- delete ----------

func TestDelete_LocalFirstRemoteBestEffort(t *testing.T) {
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	local := newFakeLocal(testRecord("gone", base, false))
	rem := newFakeRemote(testRecord("gone", base, false))
	rem.deleteErr = errors.New("remote unavailable")

	e := newTestEngine(local, rem, true)
	if err := e.Delete(context.Background(), "gone"); err != nil {
		t.Fatalf("remote delete failure must be swallowed: %v", err)
	}
	if _, err := local.Get(context.Background(), "gone"); !errors.Is(err, store.ErrNotFound) {
		t.Fatal("record not deleted locally")
	}
}

func TestDelete_OfflineSkipsRemote(t *testing.T) {
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	local := newFakeLocal(testRecord("gone", base, false))
	rem := newFakeRemote(testRecord("gone", base, false))

	e := newTestEngine(local, rem, false)
	if err := e.Delete(context.Background(), "gone"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := local.Get(context.Background(), "gone"); !errors.Is(err, store.ErrNotFound) {
		t.Fatal("record not deleted locally while offline")
	}
	if rem.callCount() != 0 {
		t.Fatal("offline delete reached the remote store")
	}
}
