package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("timeline.", 10)
	defer unsub()

	b.Publish(Event{
		Kind:      KindTimelineItemAdded,
		Timestamp: time.Now(),
		Payload:   ItemRef{ProfileID: "p1", InteractionID: "c1", ItemID: "i1"},
	})

	select {
	case evt := <-ch:
		if evt.Kind != KindTimelineItemAdded {
			t.Errorf("got kind %q, want %q", evt.Kind, KindTimelineItemAdded)
		}
		ref, ok := evt.Payload.(ItemRef)
		if !ok {
			t.Fatalf("payload type = %T, want ItemRef", evt.Payload)
		}
		if ref.ItemID != "i1" {
			t.Errorf("item id = %q, want i1", ref.ItemID)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindTimelineItemAdded})
	b.Publish(Event{Kind: KindSyncCycleDone})

	select {
	case evt := <-ch:
		if evt.Kind != KindSyncCycleDone {
			t.Errorf("got kind %q, want %q", evt.Kind, KindSyncCycleDone)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure timeline event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("timeline.", 10)
	unsub()

	b.Publish(Event{Kind: KindTimelineItemAdded})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("push.", 1)
	defer unsub()

	// Fill buffer.
	b.Publish(Event{Kind: KindPushMessage})
	// This should be dropped (non-blocking).
	b.Publish(Event{Kind: KindPushItemDeleted})

	evt := <-ch
	if evt.Kind != KindPushMessage {
		t.Errorf("got %q, want %q", evt.Kind, KindPushMessage)
	}
	if got := b.Dropped(); got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}
}

func TestKindMatches(t *testing.T) {
	cases := []struct {
		kind    Kind
		pattern string
		want    bool
	}{
		{KindPushMessage, "push.message", true},
		{KindPushMessage, "push.", true},
		{KindPushMessage, "push", false},
		{KindPushMessage, "timeline.", false},
		{KindTimelineBatchApplied, "timeline.batch_applied", true},
		{KindTimelineBatchApplied, "timeline.batch", false},
		{KindSyncCycleDone, "", false},
	}
	for _, c := range cases {
		if got := c.kind.Matches(c.pattern); got != c.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", c.kind, c.pattern, got, c.want)
		}
	}
}

func TestExactKindSubscription(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("push.connectivity", 10)
	defer unsub()

	b.Publish(Event{Kind: KindPushMessage})
	b.Publish(Event{Kind: KindPushConnectivity, Payload: Connectivity{Online: true}})

	select {
	case evt := <-ch:
		if evt.Kind != KindPushConnectivity {
			t.Errorf("got kind %q, want %q", evt.Kind, KindPushConnectivity)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}
