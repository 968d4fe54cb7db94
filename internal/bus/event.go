package bus

import (
	"strings"
	"time"
)

// Kind identifies a domain event on the bus. Kinds are dot-namespaced so
// subscribers can filter by prefix (e.g. "push." for everything the live
// channel produces).
type Kind string

const (
	// Push transport events (decoded server pushes).
	KindPushMessage           Kind = "push.message"
	KindPushTransactionUpdate Kind = "push.transaction_update"
	KindPushItemDeleted       Kind = "push.item_deleted"
	KindPushInteraction       Kind = "push.interaction_updated"
	KindPushConnectivity      Kind = "push.connectivity"

	// Timeline store events (authoritative writes).
	KindTimelineItemAdded    Kind = "timeline.item_added"
	KindTimelineItemUpdated  Kind = "timeline.item_updated"
	KindTimelineItemMerged   Kind = "timeline.item_merged"
	KindTimelineItemDeleted  Kind = "timeline.item_deleted"
	KindTimelineBatchApplied Kind = "timeline.batch_applied"
	KindTimelineCleared      Kind = "timeline.cleared"

	// Conversation summary events.
	KindConversationUpdated Kind = "conversation.updated"

	// Sync cycle events.
	KindSyncCycleDone Kind = "sync.cycle_done"

	// Offline operation queue events.
	KindOperationCompleted Kind = "opqueue.completed"
	KindOperationFailed    Kind = "opqueue.failed"

	// Profile lifecycle events.
	KindProfileSwitched Kind = "profile.switched"
)

// Matches reports whether the kind satisfies a subscription pattern: an
// exact kind, or a namespace prefix ending in "." that covers a whole
// family ("timeline." matches every timeline kind).
func (k Kind) Matches(pattern string) bool {
	if string(k) == pattern {
		return true
	}
	return len(pattern) > 0 && pattern[len(pattern)-1] == '.' &&
		strings.HasPrefix(string(k), pattern)
}

// Event is a tagged union: Kind selects the concrete payload type below,
// and subscribers type-switch on Payload rather than parsing Kind strings.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	Payload   any
}

// ItemRef identifies one timeline item within a profile scope.
type ItemRef struct {
	ProfileID     string
	InteractionID string
	ItemID        string
}

// ItemMerged reports a double-entry merge where the canonical id changed.
type ItemMerged struct {
	ProfileID     string
	InteractionID string
	OldID         string
	NewID         string
}

// BatchApplied summarizes one batch upsert: exactly one of these is
// published per batch regardless of how many rows it touched.
type BatchApplied struct {
	ProfileID     string
	InteractionID string
	Inserted      int
	Updated       int
	Merged        int
}

// ConversationUpdated reports a summary change for the conversation list.
type ConversationUpdated struct {
	ProfileID     string
	InteractionID string
}

// Connectivity reports live-channel connection state changes.
type Connectivity struct {
	Online bool
}

// CycleDone carries the aggregated report of one full sync cycle.
type CycleDone struct {
	ProfileID     string
	Conversations int
	ItemsMerged   int
	Failures      int
	Duration      time.Duration
}

// OperationResult reports a queued operation reaching a terminal state.
type OperationResult struct {
	ProfileID   string
	OperationID string
	Kind        string
	Error       string
}

// ProfileSwitched reports a completed profile switch.
type ProfileSwitched struct {
	From string
	To   string
}
