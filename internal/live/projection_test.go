package live

import (
	"testing"

	"github.com/paychat-app/paychat/internal/timeline"
)

func msg(id, interaction string, at int64) *timeline.Item {
	return &timeline.Item{
		ID: id, ProfileID: "p1", InteractionID: interaction,
		Type: timeline.TypeMessage, Content: "hi", MessageType: "text",
		SyncStatus: timeline.SyncSynced, LocalStatus: timeline.StatusDelivered,
		CreatedAt: at,
	}
}

func TestApplyItemKeepsWindowSorted(t *testing.T) {
	p := NewProjections(10)
	p.ApplyItem(msg("m2", "c1", 2000))
	p.ApplyItem(msg("m1", "c1", 1000))
	p.ApplyItem(msg("m3", "c1", 3000))

	w := p.Window("c1")
	if len(w) != 3 {
		t.Fatalf("window = %d items, want 3", len(w))
	}
	if w[0].ID != "m1" || w[1].ID != "m2" || w[2].ID != "m3" {
		t.Errorf("order = %s %s %s, want m1 m2 m3", w[0].ID, w[1].ID, w[2].ID)
	}
}

func TestApplyItemUpdatesInPlace(t *testing.T) {
	p := NewProjections(10)
	p.ApplyItem(msg("m1", "c1", 1000))

	updated := msg("m1", "c1", 1000)
	updated.LocalStatus = timeline.StatusRead
	p.ApplyItem(updated)

	w := p.Window("c1")
	if len(w) != 1 {
		t.Fatalf("window = %d items, want 1 (in-place update)", len(w))
	}
	if w[0].LocalStatus != timeline.StatusRead {
		t.Errorf("status = %s, want read", w[0].LocalStatus)
	}
}

func TestApplyItemMatchesByServerID(t *testing.T) {
	p := NewProjections(10)
	local := msg("tmp-1", "c1", 1000)
	local.ServerID = "srv-9"
	p.ApplyItem(local)

	confirmed := msg("srv-9", "c1", 1000)
	confirmed.ServerID = "srv-9"
	p.ApplyItem(confirmed)

	if got := len(p.Window("c1")); got != 1 {
		t.Errorf("window = %d items, want 1 (server id match)", got)
	}
}

func TestApplyItemMergesDoubleEntryTransactions(t *testing.T) {
	p := NewProjections(10)
	debit := &timeline.Item{
		ID: "led-d", ProfileID: "p1", InteractionID: "c1",
		Type: timeline.TypeTransaction, Amount: 2500, CurrencyCode: "USD",
		FromWalletID: "w-a", ToWalletID: "w-b", TransactionType: "transfer",
		SyncStatus: timeline.SyncSynced, LocalStatus: timeline.TxCompleted,
		CreatedAt: 10_200,
	}
	credit := &timeline.Item{
		ID: "led-c", ProfileID: "p1", InteractionID: "c1",
		Type: timeline.TypeTransaction, Amount: 2500, CurrencyCode: "USD",
		FromWalletID: "w-b", ToWalletID: "w-a", TransactionType: "transfer",
		SyncStatus: timeline.SyncSynced, LocalStatus: timeline.TxCompleted,
		CreatedAt: 10_900,
	}
	p.ApplyItem(debit)
	p.ApplyItem(credit)

	w := p.Window("c1")
	if len(w) != 1 {
		t.Fatalf("window = %d items, want 1 (double-entry merge)", len(w))
	}
	if w[0].ID != "led-c" {
		t.Errorf("id = %s, want led-c (incoming row wins)", w[0].ID)
	}
}

func TestWindowCapped(t *testing.T) {
	p := NewProjections(3)
	for i := int64(1); i <= 5; i++ {
		p.ApplyItem(msg(string(rune('a'+i)), "c1", i*1000))
	}
	w := p.Window("c1")
	if len(w) != 3 {
		t.Fatalf("window = %d items, want 3 (capped)", len(w))
	}
	if w[0].CreatedAt != 3000 {
		t.Errorf("oldest kept = %d, want 3000 (newest retained)", w[0].CreatedAt)
	}
}

func TestRemoveItemByServerID(t *testing.T) {
	p := NewProjections(10)
	it := msg("tmp-1", "c1", 1000)
	it.ServerID = "srv-1"
	p.ApplyItem(it)

	p.RemoveItem("c1", "srv-1")
	if got := len(p.Window("c1")); got != 0 {
		t.Errorf("window = %d items, want 0 after removal", got)
	}
}

func TestSummariesAndClear(t *testing.T) {
	p := NewProjections(10)
	p.ApplyItem(msg("m1", "c1", 1000))
	p.UpdateSummary("c1", func(s *Summary) {
		s.Title = "Alice"
		s.UnreadCount = 2
	})

	s, ok := p.Summary("c1")
	if !ok || s.Title != "Alice" || s.UnreadCount != 2 {
		t.Errorf("summary = %+v, ok=%v", s, ok)
	}

	p.Clear()
	if _, ok := p.Summary("c1"); ok {
		t.Error("summary survived Clear")
	}
	if got := len(p.Window("c1")); got != 0 {
		t.Errorf("window = %d items after Clear, want 0", got)
	}
}
