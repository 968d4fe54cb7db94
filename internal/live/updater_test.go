package live

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/paychat-app/paychat/internal/bus"
	"github.com/paychat-app/paychat/internal/push"
	"github.com/paychat-app/paychat/internal/timeline"
)

func testStore(t *testing.T) (*timeline.Store, *bus.Bus) {
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
	b := bus.New()
	return timeline.NewStore(db, b, nil), b
}

type recordingConfirmer struct {
	confirmed []string
}

func (c *recordingConfirmer) ConfirmDelivered(serverID, _ string) {
	c.confirmed = append(c.confirmed, serverID)
}

func pushedMessage(id string, at int64, from string) bus.Event {
	return bus.Event{
		Kind:      bus.KindPushMessage,
		Timestamp: time.Now(),
		Payload: push.MessageNew{
			ID: id, InteractionID: "c1", Content: "hello",
			MessageType: "text", FromEntityID: from, ToEntityID: "p1",
			CreatedAtUnixMs: at,
		},
	}
}

func TestUpdaterRejectsWithoutScope(t *testing.T) {
	s, b := testStore(t)
	u := NewUpdater(s, NewProjections(10), b, nil, nil)

	u.handle(pushedMessage("srv-1", 1000, "peer"))

	items, _ := s.GetTimeline("c1", "p1", 10, 0)
	if len(items) != 0 {
		t.Errorf("items = %d, want 0 (no scope, write rejected)", len(items))
	}
}

func TestUpdaterAppliesIncomingMessage(t *testing.T) {
	s, b := testStore(t)
	proj := NewProjections(10)
	conf := &recordingConfirmer{}
	u := NewUpdater(s, proj, b, conf, nil)
	u.SetScope("p1")

	u.handle(pushedMessage("srv-1", 1000, "peer"))

	items, _ := s.GetTimeline("c1", "p1", 10, 0)
	if len(items) != 1 {
		t.Fatalf("store items = %d, want 1", len(items))
	}
	if items[0].SyncStatus != timeline.SyncSynced {
		t.Errorf("sync status = %s, want synced", items[0].SyncStatus)
	}
	if got := len(proj.Window("c1")); got != 1 {
		t.Errorf("window = %d items, want 1", got)
	}
	conv, _ := s.GetConversation("p1", "c1")
	if conv == nil || conv.UnreadCount != 1 {
		t.Errorf("conversation = %+v, want unread 1", conv)
	}
	if len(conf.confirmed) != 1 || conf.confirmed[0] != "srv-1" {
		t.Errorf("confirmed = %v, want [srv-1]", conf.confirmed)
	}
}

func TestUpdaterOwnMessageNotConfirmed(t *testing.T) {
	s, b := testStore(t)
	conf := &recordingConfirmer{}
	u := NewUpdater(s, NewProjections(10), b, conf, nil)
	u.SetScope("p1")

	// Echo of our own message from another device: no unread, no confirm.
	u.handle(pushedMessage("srv-1", 1000, "p1"))

	conv, _ := s.GetConversation("p1", "c1")
	if conv == nil || conv.UnreadCount != 0 {
		t.Errorf("conversation = %+v, want unread 0", conv)
	}
	if len(conf.confirmed) != 0 {
		t.Errorf("confirmed = %v, want none for own message", conf.confirmed)
	}
}

func TestUpdaterTransactionStatusInPlace(t *testing.T) {
	s, b := testStore(t)
	proj := NewProjections(10)
	u := NewUpdater(s, proj, b, nil, nil)
	u.SetScope("p1")

	tx := push.TransactionUpdate{
		ID: "srv-t1", InteractionID: "c1", Amount: 5000, CurrencyCode: "USD",
		FromWalletID: "w-a", ToWalletID: "w-b", TransactionType: "transfer",
		Status: timeline.TxPending, CreatedAtUnixMs: 1000,
	}
	u.handle(bus.Event{Kind: bus.KindPushTransactionUpdate, Payload: tx})

	tx.Status = timeline.TxCompleted
	u.handle(bus.Event{Kind: bus.KindPushTransactionUpdate, Payload: tx})

	items, _ := s.GetTimeline("c1", "p1", 10, 0)
	if len(items) != 1 {
		t.Fatalf("store items = %d, want 1 (updated in place)", len(items))
	}
	if items[0].LocalStatus != timeline.TxCompleted {
		t.Errorf("status = %s, want completed", items[0].LocalStatus)
	}
	w := proj.Window("c1")
	if len(w) != 1 || w[0].LocalStatus != timeline.TxCompleted {
		t.Errorf("window = %+v, want single completed transaction", w)
	}
}

func TestUpdaterDeletion(t *testing.T) {
	s, b := testStore(t)
	proj := NewProjections(10)
	u := NewUpdater(s, proj, b, nil, nil)
	u.SetScope("p1")

	u.handle(pushedMessage("srv-1", 1000, "peer"))
	u.handle(bus.Event{
		Kind:    bus.KindPushItemDeleted,
		Payload: push.ItemDeleted{ServerID: "srv-1", InteractionID: "c1"},
	})

	items, _ := s.GetTimeline("c1", "p1", 10, 0)
	if len(items) != 0 {
		t.Errorf("store items = %d, want 0 after deletion", len(items))
	}
	if got := len(proj.Window("c1")); got != 0 {
		t.Errorf("window = %d items, want 0 after deletion", got)
	}

	// Replay of the same deletion is a no-op.
	u.handle(bus.Event{
		Kind:    bus.KindPushItemDeleted,
		Payload: push.ItemDeleted{ServerID: "srv-1", InteractionID: "c1"},
	})
}

func TestUpdaterInteractionTitle(t *testing.T) {
	s, b := testStore(t)
	proj := NewProjections(10)
	u := NewUpdater(s, proj, b, nil, nil)
	u.SetScope("p1")

	u.handle(bus.Event{
		Kind:    bus.KindPushInteraction,
		Payload: push.InteractionUpdated{InteractionID: "c1", Title: "Bob"},
	})

	conv, _ := s.GetConversation("p1", "c1")
	if conv == nil || conv.Title != "Bob" {
		t.Errorf("conversation = %+v, want title Bob", conv)
	}
	sum, ok := proj.Summary("c1")
	if !ok || sum.Title != "Bob" {
		t.Errorf("summary = %+v, want title Bob", sum)
	}
}

func TestUpdaterRebuildsWindowOnBatch(t *testing.T) {
	s, b := testStore(t)
	proj := NewProjections(10)
	u := NewUpdater(s, proj, b, nil, nil)
	u.SetScope("p1")

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

	u.handle(bus.Event{
		Kind:    bus.KindTimelineBatchApplied,
		Payload: bus.BatchApplied{ProfileID: "p1", InteractionID: "c1", Inserted: 2},
	})
	if got := len(proj.Window("c1")); got != 2 {
		t.Errorf("window = %d items, want 2 after rebuild", got)
	}

	// Batches for other profiles are ignored.
	u.handle(bus.Event{
		Kind:    bus.KindTimelineBatchApplied,
		Payload: bus.BatchApplied{ProfileID: "p2", InteractionID: "c9", Inserted: 1},
	})
	if got := len(proj.Window("c9")); got != 0 {
		t.Errorf("window for foreign profile = %d items, want 0", got)
	}
}

func TestClearScopeDropsProjections(t *testing.T) {
	s, b := testStore(t)
	proj := NewProjections(10)
	u := NewUpdater(s, proj, b, nil, nil)
	u.SetScope("p1")

	u.handle(pushedMessage("srv-1", 1000, "peer"))
	u.ClearScope()

	if got := len(proj.Window("c1")); got != 0 {
		t.Errorf("window = %d items after ClearScope, want 0", got)
	}
}
