package delivery

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

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

type fakeConfirmer struct {
	mu      sync.Mutex
	batches [][]remote.Confirmation
	err     error
}

func (f *fakeConfirmer) ConfirmDeliveries(_ context.Context, batch []remote.Confirmation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeConfirmer) sent() [][]remote.Confirmation {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]remote.Confirmation, len(f.batches))
	copy(out, f.batches)
	return out
}

func TestDebouncedBatchFlush(t *testing.T) {
	f := &fakeConfirmer{}
	tr := NewTracker(testStore(t), f, 20*time.Millisecond, nil)
	tr.SetScope("p1")

	// A burst of deliveries inside the window produces one batch.
	tr.ConfirmDelivered("srv-1", "c1")
	tr.ConfirmDelivered("srv-2", "c1")
	tr.ConfirmDelivered("srv-3", "c1")

	deadline := time.After(time.Second)
	for len(f.sent()) == 0 {
		select {
		case <-deadline:
			t.Fatal("timeout waiting for flush")
		case <-time.After(5 * time.Millisecond):
		}
	}
	batches := f.sent()
	if len(batches) != 1 {
		t.Fatalf("batches = %d, want 1", len(batches))
	}
	if len(batches[0]) != 3 {
		t.Errorf("batch size = %d, want 3", len(batches[0]))
	}
}

func TestDuplicateConfirmationsCoalesce(t *testing.T) {
	f := &fakeConfirmer{}
	tr := NewTracker(testStore(t), f, time.Hour, nil)
	tr.SetScope("p1")

	tr.ConfirmDelivered("srv-1", "c1")
	tr.ConfirmDelivered("srv-1", "c1")
	tr.Flush(context.Background())

	batches := f.sent()
	if len(batches) != 1 || len(batches[0]) != 1 {
		t.Fatalf("batches = %+v, want one batch with one confirmation", batches)
	}
}

func TestNoScopeDropsConfirmations(t *testing.T) {
	f := &fakeConfirmer{}
	tr := NewTracker(testStore(t), f, time.Hour, nil)

	tr.ConfirmDelivered("srv-1", "c1")
	tr.Flush(context.Background())

	if len(f.sent()) != 0 {
		t.Error("confirmation accepted without scope")
	}
}

func TestMarkReadQueuesReadConfirmations(t *testing.T) {
	s := testStore(t)
	f := &fakeConfirmer{}
	tr := NewTracker(s, f, time.Hour, nil)
	tr.SetScope("p1")

	for i, id := range []string{"srv-1", "srv-2"} {
		if err := s.UpsertFromServer(&timeline.Item{
			ID: id, ServerID: id, ProfileID: "p1", InteractionID: "c1",
			Type: timeline.TypeMessage, Content: "hi", MessageType: "text",
			SyncStatus: timeline.SyncSynced, LocalStatus: timeline.StatusDelivered,
			CreatedAt: int64(i+1) * 1000,
		}); err != nil {
			t.Fatal(err)
		}
	}

	if err := tr.MarkRead("c1"); err != nil {
		t.Fatal(err)
	}
	tr.Flush(context.Background())

	batches := f.sent()
	if len(batches) != 1 || len(batches[0]) != 2 {
		t.Fatalf("batches = %+v, want one batch with two confirmations", batches)
	}
	for _, c := range batches[0] {
		if c.State != "read" {
			t.Errorf("state = %s, want read", c.State)
		}
	}

	items, _ := s.GetTimeline("c1", "p1", 10, 0)
	for _, it := range items {
		if it.LocalStatus != timeline.StatusRead {
			t.Errorf("item %s status = %s, want read", it.ID, it.LocalStatus)
		}
	}
}

func TestReadSupersedesQueuedDelivered(t *testing.T) {
	s := testStore(t)
	f := &fakeConfirmer{}
	tr := NewTracker(s, f, time.Hour, nil)
	tr.SetScope("p1")

	if err := s.UpsertFromServer(&timeline.Item{
		ID: "srv-1", ServerID: "srv-1", ProfileID: "p1", InteractionID: "c1",
		Type: timeline.TypeMessage, Content: "hi", MessageType: "text",
		SyncStatus: timeline.SyncSynced, LocalStatus: timeline.StatusDelivered,
		CreatedAt: 1000,
	}); err != nil {
		t.Fatal(err)
	}

	tr.ConfirmDelivered("srv-1", "c1")
	if err := tr.MarkRead("c1"); err != nil {
		t.Fatal(err)
	}
	// Delivered queued again after read must not downgrade it.
	tr.ConfirmDelivered("srv-1", "c1")
	tr.Flush(context.Background())

	batches := f.sent()
	if len(batches) != 1 || len(batches[0]) != 1 {
		t.Fatalf("batches = %+v, want single coalesced confirmation", batches)
	}
	if batches[0][0].State != "read" {
		t.Errorf("state = %s, want read (read wins)", batches[0][0].State)
	}
}

func TestFlushRetriesThenDrops(t *testing.T) {
	f := &fakeConfirmer{err: errors.New("server unavailable")}
	tr := NewTracker(testStore(t), f, time.Hour, nil)
	tr.SetScope("p1")
	tr.Pause() // keep the retry timer from racing the explicit flushes

	tr.ConfirmDelivered("srv-1", "c1")
	for i := 0; i < maxFlushAttempts; i++ {
		tr.Flush(context.Background())
	}

	// Batch dropped: recovery flush has nothing to send.
	f.mu.Lock()
	f.err = nil
	f.mu.Unlock()
	tr.Flush(context.Background())
	if len(f.sent()) != 0 {
		t.Errorf("batches = %d, want 0 (batch dropped after retries)", len(f.sent()))
	}
}

func TestRetryBudgetIsPerConfirmation(t *testing.T) {
	f := &fakeConfirmer{err: errors.New("server unavailable")}
	tr := NewTracker(testStore(t), f, time.Hour, nil)
	tr.SetScope("p1")
	tr.Pause() // keep the retry timer from racing the explicit flushes

	// srv-1 fails twice alone, then srv-2 joins for the third failure:
	// srv-1 exhausts its budget, srv-2 has only one strike against it.
	tr.ConfirmDelivered("srv-1", "c1")
	tr.Flush(context.Background())
	tr.Flush(context.Background())
	tr.ConfirmDelivered("srv-2", "c1")
	tr.Flush(context.Background())

	f.mu.Lock()
	f.err = nil
	f.mu.Unlock()
	tr.Flush(context.Background())

	batches := f.sent()
	if len(batches) != 1 || len(batches[0]) != 1 {
		t.Fatalf("batches = %+v, want srv-2 alone in one batch", batches)
	}
	if batches[0][0].ServerID != "srv-2" {
		t.Errorf("sent %s, want srv-2 (its budget is untouched by srv-1's failures)", batches[0][0].ServerID)
	}
}

func TestScopeChangeDiscardsPending(t *testing.T) {
	f := &fakeConfirmer{}
	tr := NewTracker(testStore(t), f, time.Hour, nil)
	tr.SetScope("p1")

	tr.ConfirmDelivered("srv-1", "c1")
	tr.SetScope("p2")
	tr.Flush(context.Background())

	if len(f.sent()) != 0 {
		t.Error("pending confirmations leaked across profile switch")
	}
}
