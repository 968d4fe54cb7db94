package sender

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/paychat-app/paychat/internal/bus"
	"github.com/paychat-app/paychat/internal/remote"
	"github.com/paychat-app/paychat/internal/timeline"
)

func testStore(t *testing.T) *timeline.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := timeline.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return timeline.NewStore(db, bus.New(), nil)
}

type fakeSubmitter struct {
	mu        sync.Mutex
	submitted []string
	err       error
	nextID    int
}

func (f *fakeSubmitter) SubmitItem(_ context.Context, _ string, record *remote.TimelineRecord) (*remote.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.submitted = append(f.submitted, record.ID)
	f.nextID++
	return &remote.SubmitResult{ServerID: "srv-" + record.ID, Status: "accepted"}, nil
}

func pendingMessage(t *testing.T, s *timeline.Store, id string, at int64) {
	t.Helper()
	if err := s.Add(&timeline.Item{
		ID: id, ProfileID: "p1", InteractionID: "c1",
		Type: timeline.TypeMessage, Content: "hi", MessageType: "text",
		SyncStatus: timeline.SyncPending, LocalStatus: timeline.StatusSending,
		CreatedAt: at,
	}); err != nil {
		t.Fatal(err)
	}
}

func TestDrainSubmitsPendingAndConfirms(t *testing.T) {
	s := testStore(t)
	f := &fakeSubmitter{}
	snd := New(s, f, 3, nil)
	snd.SetScope("p1")

	pendingMessage(t, s, "tmp-1", 1000)
	pendingMessage(t, s, "tmp-2", 2000)

	snd.DrainOnce(context.Background())

	if len(f.submitted) != 2 {
		t.Fatalf("submitted = %v, want 2 items", f.submitted)
	}
	it, err := s.GetByID("p1", "tmp-1")
	if err != nil {
		t.Fatal(err)
	}
	if it.SyncStatus != timeline.SyncSynced || it.LocalStatus != timeline.StatusSent {
		t.Errorf("item = %s/%s, want synced/sent", it.SyncStatus, it.LocalStatus)
	}
	if it.ServerID != "srv-tmp-1" {
		t.Errorf("server id = %s, want srv-tmp-1", it.ServerID)
	}
	if it.ID != "tmp-1" {
		t.Errorf("local id = %s, want tmp-1 (stable across confirmation)", it.ID)
	}
}

func TestDrainSkipsWithoutScope(t *testing.T) {
	s := testStore(t)
	f := &fakeSubmitter{}
	snd := New(s, f, 3, nil)

	pendingMessage(t, s, "tmp-1", 1000)
	snd.DrainOnce(context.Background())

	if len(f.submitted) != 0 {
		t.Error("sender submitted without scope")
	}
}

func TestDrainSkipsWhenPaused(t *testing.T) {
	s := testStore(t)
	f := &fakeSubmitter{}
	snd := New(s, f, 3, nil)
	snd.SetScope("p1")
	snd.Pause()

	pendingMessage(t, s, "tmp-1", 1000)
	snd.DrainOnce(context.Background())
	if len(f.submitted) != 0 {
		t.Error("sender submitted while paused")
	}

	snd.Resume()
	snd.DrainOnce(context.Background())
	if len(f.submitted) != 1 {
		t.Error("sender did not resume")
	}
}

func TestTransientFailureRetriesUntilBound(t *testing.T) {
	s := testStore(t)
	f := &fakeSubmitter{err: errors.New("connection refused")}
	snd := New(s, f, 3, nil)
	snd.SetScope("p1")

	pendingMessage(t, s, "tmp-1", 1000)

	for i := 0; i < 5; i++ {
		snd.DrainOnce(context.Background())
	}

	it, err := s.GetByID("p1", "tmp-1")
	if err != nil {
		t.Fatal(err)
	}
	if it.SyncStatus != timeline.SyncFailed {
		t.Errorf("sync status = %s, want failed", it.SyncStatus)
	}
	if it.RetryCount != 3 {
		t.Errorf("retry count = %d, want 3 (bound respected)", it.RetryCount)
	}
	if it.LastError == "" {
		t.Error("last error not recorded")
	}

	// Item stays visible in the timeline for explicit user retry.
	items, _ := s.GetTimeline("c1", "p1", 10, 0)
	if len(items) != 1 {
		t.Errorf("timeline items = %d, want 1 (failed item still visible)", len(items))
	}
}

func TestRecoveryAfterTransientFailure(t *testing.T) {
	s := testStore(t)
	f := &fakeSubmitter{err: errors.New("timeout")}
	snd := New(s, f, 3, nil)
	snd.SetScope("p1")

	pendingMessage(t, s, "tmp-1", 1000)
	snd.DrainOnce(context.Background())

	f.mu.Lock()
	f.err = nil
	f.mu.Unlock()
	snd.DrainOnce(context.Background())

	it, err := s.GetByID("p1", "tmp-1")
	if err != nil {
		t.Fatal(err)
	}
	if it.SyncStatus != timeline.SyncSynced || it.LocalStatus != timeline.StatusSent {
		t.Errorf("item = %s/%s, want synced/sent after recovery", it.SyncStatus, it.LocalStatus)
	}
}

func TestPermanentRejectionMarksFailed(t *testing.T) {
	s := testStore(t)
	f := &fakeSubmitter{err: &remote.Error{Op: "submit item", Status: 422, Permanent: true}}
	snd := New(s, f, 3, nil)
	snd.SetScope("p1")

	pendingMessage(t, s, "tmp-1", 1000)
	snd.DrainOnce(context.Background())

	it, err := s.GetByID("p1", "tmp-1")
	if err != nil {
		t.Fatal(err)
	}
	if it.SyncStatus != timeline.SyncFailed || it.LocalStatus != timeline.StatusFailed {
		t.Errorf("item = %s/%s, want failed/failed", it.SyncStatus, it.LocalStatus)
	}
}

func TestScopeChangeMidDrainStops(t *testing.T) {
	s := testStore(t)
	snd := New(s, nil, 3, nil)
	snd.SetScope("p1")

	f := &switchingSubmitter{onSubmit: func() { snd.SetScope("p2") }}
	snd.client = f

	pendingMessage(t, s, "tmp-1", 1000)
	pendingMessage(t, s, "tmp-2", 2000)

	snd.DrainOnce(context.Background())
	if f.calls != 1 {
		t.Errorf("submit calls = %d, want 1 (drain aborted on scope change)", f.calls)
	}
}

type switchingSubmitter struct {
	calls    int
	onSubmit func()
}

func (f *switchingSubmitter) SubmitItem(_ context.Context, _ string, record *remote.TimelineRecord) (*remote.SubmitResult, error) {
	f.calls++
	if f.onSubmit != nil {
		f.onSubmit()
	}
	return &remote.SubmitResult{ServerID: "srv-" + record.ID}, nil
}
