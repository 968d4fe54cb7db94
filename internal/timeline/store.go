package timeline

import (
	"database/sql"
	"time"

	"github.com/paychat-app/paychat/internal/bus"
	"go.uber.org/zap"
)

// Store is the durable source of truth for timeline items, scoped by
// profile. It is the only component permitted to mutate items; everything
// else reads it or requests mutations through it.
//
// Writes emit bus notifications. Notification delivery is fire-and-forget:
// a failure to notify never fails the underlying write.
type Store struct {
	db     *DB
	bus    *bus.Bus
	logger *zap.Logger
}

// NewStore creates a store over an opened, migrated database.
func NewStore(db *DB, b *bus.Bus, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, bus: b, logger: logger}
}

// DB exposes the underlying handle for migration and shutdown.
func (s *Store) DB() *DB { return s.db }

func (s *Store) publish(kind bus.Kind, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

const itemColumns = `id, profile_id, server_id, interaction_id, item_type,
	content, message_type, amount, currency_code, from_wallet_id, to_wallet_id,
	transaction_type, from_entity_id, to_entity_id, sync_status, local_status,
	retry_count, last_error, created_at, metadata`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(r rowScanner) (*Item, error) {
	var it Item
	var serverID sql.NullString
	err := r.Scan(&it.ID, &it.ProfileID, &serverID, &it.InteractionID, &it.Type,
		&it.Content, &it.MessageType, &it.Amount, &it.CurrencyCode, &it.FromWalletID,
		&it.ToWalletID, &it.TransactionType, &it.FromEntityID, &it.ToEntityID,
		&it.SyncStatus, &it.LocalStatus, &it.RetryCount, &it.LastError,
		&it.CreatedAt, &it.Metadata)
	if err != nil {
		return nil, err
	}
	it.ServerID = serverID.String
	return &it, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
