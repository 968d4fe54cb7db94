package sync

import (
	"encoding/json"

	"github.com/paychat-app/paychat/internal/remote"
	"github.com/paychat-app/paychat/internal/timeline"
)

// MapRecord converts one server timeline record into the store's item
// shape. The raw record is retained as metadata for debugging/replay.
func MapRecord(rec *remote.TimelineRecord, profileID string) *timeline.Item {
	raw, _ := json.Marshal(rec)

	it := &timeline.Item{
		ID:            rec.ID,
		ServerID:      rec.ID,
		ProfileID:     profileID,
		InteractionID: rec.InteractionID,
		SyncStatus:    timeline.SyncSynced,
		LocalStatus:   rec.Status,
		CreatedAt:     rec.CreatedAtUnixMs,
		FromEntityID:  rec.FromEntityID,
		ToEntityID:    rec.ToEntityID,
		Metadata:      string(raw),
	}
	switch rec.Type {
	case string(timeline.TypeTransaction):
		it.Type = timeline.TypeTransaction
		it.Amount = rec.Amount
		it.CurrencyCode = rec.CurrencyCode
		it.FromWalletID = rec.FromWalletID
		it.ToWalletID = rec.ToWalletID
		it.TransactionType = rec.TransactionType
		if it.LocalStatus == "" {
			it.LocalStatus = timeline.TxPending
		}
	default:
		it.Type = timeline.TypeMessage
		it.Content = rec.Content
		it.MessageType = rec.MessageType
		if it.MessageType == "" {
			it.MessageType = "text"
		}
		if it.LocalStatus == "" {
			it.LocalStatus = timeline.StatusDelivered
		}
	}
	return it
}
