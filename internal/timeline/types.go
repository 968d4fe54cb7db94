package timeline

// ItemType discriminates the two timeline entry kinds.
type ItemType string

const (
	TypeMessage     ItemType = "message"
	TypeTransaction ItemType = "transaction"
)

// SyncStatus tracks reconciliation of an item with the server-of-record.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
)

// Message lifecycle statuses. Transitions are monotonic; see statusRank.
const (
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// Transaction lifecycle statuses (server-driven).
const (
	TxPending   = "pending"
	TxCompleted = "completed"
	TxFailed    = "failed"
)

// statusRank orders message lifecycle states so that updates never
// regress (a read message may not fall back to delivered).
var statusRank = map[string]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// Item is one entry in a conversation's history: a chat message or a
// financial transaction. CreatedAt (unix milliseconds) is the
// authoritative ordering key; insertion order breaks ties.
type Item struct {
	ID            string
	ServerID      string // empty until the server assigns its own id
	ProfileID     string
	InteractionID string
	Type          ItemType

	// Message fields.
	Content     string
	MessageType string

	// Transaction fields. Amount is in minor currency units.
	Amount          int64
	CurrencyCode    string
	FromWalletID    string
	ToWalletID      string
	TransactionType string

	FromEntityID string
	ToEntityID   string

	SyncStatus  SyncStatus
	LocalStatus string
	RetryCount  int
	LastError   string

	CreatedAt int64
	// Metadata is the opaque server payload, retained for debugging/replay.
	Metadata string
}

// Validate enforces that an item fully populates the required fields for
// its type. Partial items are rejected rather than stored.
func (it *Item) Validate() error {
	if it.ID == "" || it.ProfileID == "" || it.InteractionID == "" {
		return &ValidationError{Field: "id/profile_id/interaction_id", Reason: "required"}
	}
	if it.CreatedAt <= 0 {
		return &ValidationError{Field: "created_at", Reason: "must be positive"}
	}
	switch it.Type {
	case TypeMessage:
		if it.MessageType == "" {
			return &ValidationError{Field: "message_type", Reason: "required for messages"}
		}
	case TypeTransaction:
		if it.Amount <= 0 {
			return &ValidationError{Field: "amount", Reason: "must be positive for transactions"}
		}
		if it.CurrencyCode == "" || it.FromWalletID == "" || it.ToWalletID == "" {
			return &ValidationError{Field: "currency/wallets", Reason: "required for transactions"}
		}
	default:
		return &ValidationError{Field: "item_type", Reason: "unknown type " + string(it.Type)}
	}
	return nil
}

// QueuedOperation is a durable mutation awaiting network (e.g. a KYC
// step submission), independent of the timeline itself.
type QueuedOperation struct {
	ID             string
	ProfileID      string
	OperationKind  string
	Payload        string
	TargetEntityID string
	Endpoint       string
	Status         string
	RetryCount     int
	LastRetryAt    int64
	LastError      string
	CreatedAt      int64
}

// Queued operation statuses.
const (
	OpPending    = "pending"
	OpRetrying   = "retrying"
	OpFailed     = "failed"
	OpCompleted  = "completed"
	OpSuperseded = "superseded"
)

// MaxOperationRetries bounds queued-operation retry attempts; past it the
// operation turns failed and is surfaced, never silently dropped.
const MaxOperationRetries = 3

// Conversation is the durable per-conversation summary row backing the
// conversation list view and the sync puller's enumeration.
type Conversation struct {
	InteractionID string
	ProfileID     string
	Title         string
	UnreadCount   int
	LastItemAt    int64
	LastPreview   string
}
