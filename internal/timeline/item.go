package timeline

import (
	"database/sql"
	"fmt"

	"github.com/paychat-app/paychat/internal/bus"
	"go.uber.org/zap"
)

// Add inserts a new locally-created item with a client-generated id.
// Fails with ErrDuplicateID if the id already exists for the profile;
// server-originated data must use UpsertFromServer instead.
func (s *Store) Add(item *Item) error {
	if err := item.Validate(); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRow(`SELECT COUNT(1) FROM timeline_items WHERE profile_id = ? AND id = ?`,
		item.ProfileID, item.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check id: %w", err)
	}
	if exists > 0 {
		return ErrDuplicateID
	}

	if err := insertItem(tx, item); err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.publish(bus.KindTimelineItemAdded, bus.ItemRef{
		ProfileID:     item.ProfileID,
		InteractionID: item.InteractionID,
		ItemID:        item.ID,
	})
	return nil
}

type mergeOutcome int

const (
	outcomeInserted mergeOutcome = iota
	outcomeUpdated
	outcomeMerged
)

type upsertResult struct {
	outcome mergeOutcome
	id      string // canonical id after the operation
	oldID   string // prior id when outcome == outcomeMerged
}

// UpsertFromServer applies one server-originated item with the dedup/merge
// rule. Safe to call repeatedly with the same payload. Exactly one
// notification is published per call.
func (s *Store) UpsertFromServer(item *Item) error {
	if err := item.Validate(); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := s.upsertTx(tx, item)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	ref := bus.ItemRef{ProfileID: item.ProfileID, InteractionID: item.InteractionID, ItemID: res.id}
	switch res.outcome {
	case outcomeInserted:
		s.publish(bus.KindTimelineItemAdded, ref)
	case outcomeUpdated:
		s.publish(bus.KindTimelineItemUpdated, ref)
	case outcomeMerged:
		s.publish(bus.KindTimelineItemMerged, bus.ItemMerged{
			ProfileID:     item.ProfileID,
			InteractionID: item.InteractionID,
			OldID:         res.oldID,
			NewID:         res.id,
		})
	}
	return nil
}

// BatchResult reports what one batch upsert did.
type BatchResult struct {
	Inserted int
	Updated  int
	Merged   int
}

// BatchUpsertFromServer applies N upserts as one storage transaction and
// publishes exactly one notification for the whole batch. The batch is
// all-or-nothing: any invalid item or storage failure rejects every item.
func (s *Store) BatchUpsertFromServer(items []*Item, interactionID, profileID string) (*BatchResult, error) {
	for _, it := range items {
		if err := it.Validate(); err != nil {
			return nil, err
		}
	}
	if len(items) == 0 {
		return &BatchResult{}, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result := &BatchResult{}
	var lastAt int64
	var preview string
	for _, it := range items {
		res, err := s.upsertTx(tx, it)
		if err != nil {
			return nil, err
		}
		switch res.outcome {
		case outcomeInserted:
			result.Inserted++
		case outcomeUpdated:
			result.Updated++
		case outcomeMerged:
			result.Merged++
		}
		if it.CreatedAt >= lastAt {
			lastAt = it.CreatedAt
			preview = previewOf(it)
		}
	}

	if err := touchConversationTx(tx, profileID, interactionID, lastAt, preview); err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}

	s.publish(bus.KindTimelineBatchApplied, bus.BatchApplied{
		ProfileID:     profileID,
		InteractionID: interactionID,
		Inserted:      result.Inserted,
		Updated:       result.Updated,
		Merged:        result.Merged,
	})
	return result, nil
}

// upsertTx is the core merge. Lookup order:
//  1. exact match on server_id;
//  2. for messages, the own-echo path: an unconfirmed locally-authored
//     row with the same interaction, author and content is the same
//     real-world message coming back from the server (via push or pull)
//     before the sender recorded its confirmation. The local id stays
//     canonical; the incoming server id is absorbed.
//  3. for transactions, the double-entry path: same interaction, same
//     amount, same wallet pair (either direction), created_at equal once
//     truncated to whole seconds. Debit and credit rows of one transfer
//     collapse onto one item; the incoming server id becomes canonical.
//
// Zero or multiple transaction dedup candidates resolve to "insert new" —
// conflating two distinct financial events is worse than a transient
// duplicate.
func (s *Store) upsertTx(tx *sql.Tx, item *Item) (upsertResult, error) {
	if item.ServerID != "" {
		var existingID string
		err := tx.QueryRow(`SELECT id FROM timeline_items WHERE profile_id = ? AND server_id = ?`,
			item.ProfileID, item.ServerID).Scan(&existingID)
		if err != nil && err != sql.ErrNoRows {
			return upsertResult{}, fmt.Errorf("lookup by server_id: %w", err)
		}
		if err == nil {
			if uerr := updateMutableTx(tx, item, existingID); uerr != nil {
				return upsertResult{}, uerr
			}
			return upsertResult{outcome: outcomeUpdated, id: existingID}, nil
		}
	}

	if item.Type == TypeMessage && item.FromEntityID != "" {
		// Oldest unconfirmed first: a repeated identical send produces
		// one echo per copy, and each echo confirms the next oldest row.
		var existingID string
		err := tx.QueryRow(`SELECT id FROM timeline_items
			WHERE profile_id = ? AND interaction_id = ? AND item_type = ?
				AND server_id IS NULL AND sync_status IN (?, ?)
				AND from_entity_id = ? AND content = ?
			ORDER BY created_at ASC, rowid ASC LIMIT 1`,
			item.ProfileID, item.InteractionID, TypeMessage,
			SyncPending, SyncFailed,
			item.FromEntityID, item.Content).Scan(&existingID)
		if err != nil && err != sql.ErrNoRows {
			return upsertResult{}, fmt.Errorf("lookup pending echo: %w", err)
		}
		if err == nil {
			if uerr := updateMutableTx(tx, item, existingID); uerr != nil {
				return upsertResult{}, uerr
			}
			return upsertResult{outcome: outcomeUpdated, id: existingID}, nil
		}
	}

	if item.Type == TypeTransaction {
		ids, err := dedupCandidatesTx(tx, item)
		if err != nil {
			return upsertResult{}, err
		}
		switch len(ids) {
		case 0:
			// Fall through to insert.
		case 1:
			oldID := ids[0]
			// The incoming id becomes canonical so local state converges
			// with the server's view of the transfer.
			_, err := tx.Exec(`
				UPDATE timeline_items SET
					id = ?, server_id = ?,
					sync_status = ?, local_status = ?,
					amount = ?, currency_code = ?, from_wallet_id = ?, to_wallet_id = ?,
					transaction_type = ?, metadata = ?, last_error = ''
				WHERE profile_id = ? AND id = ?`,
				item.ID, nullable(item.ServerID),
				SyncSynced, item.LocalStatus,
				item.Amount, item.CurrencyCode, item.FromWalletID, item.ToWalletID,
				item.TransactionType, item.Metadata,
				item.ProfileID, oldID)
			if err != nil {
				return upsertResult{}, fmt.Errorf("merge double entry: %w", err)
			}
			return upsertResult{outcome: outcomeMerged, id: item.ID, oldID: oldID}, nil
		default:
			s.logger.Warn("ambiguous double-entry dedup, inserting as new",
				zap.String("interaction_id", item.InteractionID),
				zap.String("incoming_id", item.ID),
				zap.Int("candidates", len(ids)))
		}
	}

	inserted := *item
	inserted.SyncStatus = SyncSynced
	if inserted.LocalStatus == "" {
		if inserted.Type == TypeMessage {
			inserted.LocalStatus = StatusDelivered
		} else {
			inserted.LocalStatus = TxPending
		}
	}
	if err := insertItem(tx, &inserted); err != nil {
		return upsertResult{}, fmt.Errorf("insert item: %w", err)
	}
	return upsertResult{outcome: outcomeInserted, id: inserted.ID}, nil
}

func dedupCandidatesTx(tx *sql.Tx, item *Item) ([]string, error) {
	rows, err := tx.Query(`
		SELECT id FROM timeline_items
		WHERE profile_id = ? AND interaction_id = ? AND item_type = ?
			AND amount = ?
			AND created_at / 1000 = ?
			AND ((from_wallet_id = ? AND to_wallet_id = ?) OR (from_wallet_id = ? AND to_wallet_id = ?))
		ORDER BY rowid ASC`,
		item.ProfileID, item.InteractionID, TypeTransaction,
		item.Amount,
		item.CreatedAt/1000,
		item.FromWalletID, item.ToWalletID, item.ToWalletID, item.FromWalletID)
	if err != nil {
		return nil, fmt.Errorf("dedup lookup: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// updateMutableTx updates the mutable fields of a matched row in place.
// The stored id is kept: it is already canonical for the UI. Message
// lifecycle state never regresses.
func updateMutableTx(tx *sql.Tx, item *Item, existingID string) error {
	var existingStatus string
	var itemType ItemType
	err := tx.QueryRow(`SELECT local_status, item_type FROM timeline_items WHERE profile_id = ? AND id = ?`,
		item.ProfileID, existingID).Scan(&existingStatus, &itemType)
	if err != nil {
		return fmt.Errorf("read existing status: %w", err)
	}

	localStatus := item.LocalStatus
	if itemType == TypeMessage && localStatus != "" {
		if statusRank[localStatus] < statusRank[existingStatus] {
			localStatus = existingStatus
		}
	}
	if localStatus == "" {
		localStatus = existingStatus
	}

	_, err = tx.Exec(`
		UPDATE timeline_items SET
			server_id = ?, sync_status = ?, local_status = ?,
			amount = ?, currency_code = ?, from_wallet_id = ?, to_wallet_id = ?,
			transaction_type = ?, metadata = ?, last_error = ''
		WHERE profile_id = ? AND id = ?`,
		nullable(item.ServerID), SyncSynced, localStatus,
		item.Amount, item.CurrencyCode, item.FromWalletID, item.ToWalletID,
		item.TransactionType, item.Metadata,
		item.ProfileID, existingID)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

func insertItem(tx *sql.Tx, it *Item) error {
	_, err := tx.Exec(`
		INSERT INTO timeline_items (id, profile_id, server_id, interaction_id, item_type,
			content, message_type, amount, currency_code, from_wallet_id, to_wallet_id,
			transaction_type, from_entity_id, to_entity_id, sync_status, local_status,
			retry_count, last_error, created_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.ProfileID, nullable(it.ServerID), it.InteractionID, it.Type,
		it.Content, it.MessageType, it.Amount, it.CurrencyCode, it.FromWalletID, it.ToWalletID,
		it.TransactionType, it.FromEntityID, it.ToEntityID, it.SyncStatus, it.LocalStatus,
		it.RetryCount, it.LastError, it.CreatedAt, it.Metadata)
	return err
}

func previewOf(it *Item) string {
	if it.Type == TypeTransaction {
		return fmt.Sprintf("%s %d.%02d", it.CurrencyCode, it.Amount/100, it.Amount%100)
	}
	if len(it.Content) > 100 {
		return it.Content[:100]
	}
	return it.Content
}

// UpdateStatus partially updates lifecycle fields of one item. Empty
// arguments leave the corresponding column untouched. Message lifecycle
// state never regresses.
func (s *Store) UpdateStatus(profileID, id string, syncStatus SyncStatus, localStatus, serverID, lastError string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existingStatus, interactionID string
	var existingSync SyncStatus
	var itemType ItemType
	err = tx.QueryRow(`SELECT local_status, sync_status, item_type, interaction_id
		FROM timeline_items WHERE profile_id = ? AND id = ?`, profileID, id).
		Scan(&existingStatus, &existingSync, &itemType, &interactionID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read item: %w", err)
	}

	if syncStatus == "" {
		syncStatus = existingSync
	}
	if localStatus == "" {
		localStatus = existingStatus
	} else if itemType == TypeMessage {
		if statusRank[localStatus] < statusRank[existingStatus] {
			localStatus = existingStatus
		}
	}

	if serverID != "" {
		_, err = tx.Exec(`UPDATE timeline_items SET sync_status = ?, local_status = ?, server_id = ?, last_error = ?
			WHERE profile_id = ? AND id = ?`,
			syncStatus, localStatus, serverID, lastError, profileID, id)
	} else {
		_, err = tx.Exec(`UPDATE timeline_items SET sync_status = ?, local_status = ?, last_error = ?
			WHERE profile_id = ? AND id = ?`,
			syncStatus, localStatus, lastError, profileID, id)
	}
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.publish(bus.KindTimelineItemUpdated, bus.ItemRef{
		ProfileID:     profileID,
		InteractionID: interactionID,
		ItemID:        id,
	})
	return nil
}

// MarkSendFailed records a failed send attempt: bumps the retry counter,
// stores the error and flags the item failed. The item stays in the
// timeline so the user can see and retry it.
func (s *Store) MarkSendFailed(profileID, id, errMsg string) error {
	res, err := s.db.Exec(`
		UPDATE timeline_items SET
			sync_status = ?, local_status = ?, retry_count = retry_count + 1, last_error = ?
		WHERE profile_id = ? AND id = ?`,
		SyncFailed, StatusFailed, errMsg, profileID, id)
	if err != nil {
		return fmt.Errorf("mark send failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	var interactionID string
	_ = s.db.QueryRow(`SELECT interaction_id FROM timeline_items WHERE profile_id = ? AND id = ?`,
		profileID, id).Scan(&interactionID)
	s.publish(bus.KindTimelineItemUpdated, bus.ItemRef{
		ProfileID:     profileID,
		InteractionID: interactionID,
		ItemID:        id,
	})
	return nil
}

// RetrySend requeues a failed item for sending, resetting its retry
// budget. Only failed items can be retried.
func (s *Store) RetrySend(profileID, id string) error {
	var itemType ItemType
	var syncStatus SyncStatus
	var interactionID string
	err := s.db.QueryRow(`SELECT item_type, sync_status, interaction_id FROM timeline_items
		WHERE profile_id = ? AND id = ?`, profileID, id).
		Scan(&itemType, &syncStatus, &interactionID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read item: %w", err)
	}
	if syncStatus != SyncFailed {
		return &ValidationError{Field: "sync_status", Reason: "only failed items can be retried"}
	}

	localStatus := StatusSending
	if itemType == TypeTransaction {
		localStatus = TxPending
	}
	_, err = s.db.Exec(`
		UPDATE timeline_items SET
			sync_status = ?, local_status = ?, retry_count = 0, last_error = ''
		WHERE profile_id = ? AND id = ?`,
		SyncPending, localStatus, profileID, id)
	if err != nil {
		return fmt.Errorf("retry send: %w", err)
	}
	s.publish(bus.KindTimelineItemUpdated, bus.ItemRef{
		ProfileID:     profileID,
		InteractionID: interactionID,
		ItemID:        id,
	})
	return nil
}

// GetTimeline returns items of one conversation ordered by created_at
// ascending, ties broken by insertion order.
func (s *Store) GetTimeline(interactionID, profileID string, limit, offset int) ([]Item, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT `+itemColumns+` FROM timeline_items
		WHERE profile_id = ? AND interaction_id = ?
		ORDER BY created_at ASC, rowid ASC
		LIMIT ? OFFSET ?`, profileID, interactionID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

// GetRecent returns the newest limit items of a conversation in
// ascending order, for windowed read projections.
func (s *Store) GetRecent(interactionID, profileID string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT `+itemColumns+` FROM timeline_items
		WHERE profile_id = ? AND interaction_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, profileID, interactionID, limit)
	if err != nil {
		return nil, err
	}
	items, err := collectItems(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

// GetByID returns one item, or ErrNotFound.
func (s *Store) GetByID(profileID, id string) (*Item, error) {
	it, err := scanItem(s.db.QueryRow(`SELECT `+itemColumns+` FROM timeline_items
		WHERE profile_id = ? AND id = ?`, profileID, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return it, err
}

// GetPending returns not-yet-synced items oldest first, for the send
// retry pipeline.
func (s *Store) GetPending(profileID string) ([]Item, error) {
	rows, err := s.db.Query(`SELECT `+itemColumns+` FROM timeline_items
		WHERE profile_id = ? AND sync_status = ?
		ORDER BY created_at ASC, rowid ASC`, profileID, SyncPending)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

// GetFailed returns failed items still under the retry bound.
func (s *Store) GetFailed(profileID string, maxRetries int) ([]Item, error) {
	rows, err := s.db.Query(`SELECT `+itemColumns+` FROM timeline_items
		WHERE profile_id = ? AND sync_status = ? AND retry_count < ?
		ORDER BY created_at ASC, rowid ASC`, profileID, SyncFailed, maxRetries)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

// LatestCreatedAt returns the most recent locally-known created_at for a
// conversation, or zero when none exists. This is the sync watermark.
func (s *Store) LatestCreatedAt(interactionID, profileID string) (int64, error) {
	var ts sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(created_at) FROM timeline_items
		WHERE profile_id = ? AND interaction_id = ?`, profileID, interactionID).Scan(&ts)
	if err != nil {
		return 0, err
	}
	return ts.Int64, nil
}

// DeleteByServerID removes an item in response to a server deletion push.
// Unknown ids are a no-op (the push channel is at-least-once).
func (s *Store) DeleteByServerID(profileID, serverID string) error {
	var id, interactionID string
	err := s.db.QueryRow(`SELECT id, interaction_id FROM timeline_items
		WHERE profile_id = ? AND server_id = ?`, profileID, serverID).Scan(&id, &interactionID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup for delete: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM timeline_items WHERE profile_id = ? AND id = ?`, profileID, id); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	s.publish(bus.KindTimelineItemDeleted, bus.ItemRef{
		ProfileID:     profileID,
		InteractionID: interactionID,
		ItemID:        id,
	})
	return nil
}

// DeleteItem removes an item by local id (explicit user delete).
func (s *Store) DeleteItem(profileID, id string) error {
	var interactionID string
	err := s.db.QueryRow(`SELECT interaction_id FROM timeline_items
		WHERE profile_id = ? AND id = ?`, profileID, id).Scan(&interactionID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup for delete: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM timeline_items WHERE profile_id = ? AND id = ?`, profileID, id); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	s.publish(bus.KindTimelineItemDeleted, bus.ItemRef{
		ProfileID:     profileID,
		InteractionID: interactionID,
		ItemID:        id,
	})
	return nil
}

// ClearProfile wipes every durable row belonging to one profile. Other
// profiles sharing the database are untouched.
func (s *Store) ClearProfile(profileID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{
		`DELETE FROM timeline_items WHERE profile_id = ?`,
		`DELETE FROM queued_operations WHERE profile_id = ?`,
		`DELETE FROM conversations WHERE profile_id = ?`,
		`DELETE FROM sync_state WHERE profile_id = ?`,
	} {
		if _, err := tx.Exec(q, profileID); err != nil {
			return fmt.Errorf("clear profile: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.publish(bus.KindTimelineCleared, bus.ItemRef{ProfileID: profileID})
	return nil
}

func collectItems(rows *sql.Rows) ([]Item, error) {
	defer func() { _ = rows.Close() }()
	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}
