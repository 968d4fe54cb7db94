package timeline

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/paychat-app/paychat/internal/bus"
)

// UpsertConversation inserts or updates a conversation summary row.
// Last-activity fields only move forward.
func (s *Store) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := s.db.Exec(`
		INSERT INTO conversations (interaction_id, profile_id, title, unread_count, last_item_at, last_preview, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(profile_id, interaction_id) DO UPDATE SET
			title = CASE WHEN excluded.title != '' THEN excluded.title ELSE conversations.title END,
			unread_count = excluded.unread_count,
			last_item_at = MAX(conversations.last_item_at, excluded.last_item_at),
			last_preview = CASE WHEN excluded.last_item_at >= conversations.last_item_at THEN excluded.last_preview ELSE conversations.last_preview END,
			updated_at = excluded.updated_at`,
		c.InteractionID, c.ProfileID, c.Title, c.UnreadCount, c.LastItemAt, c.LastPreview, now)
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	s.publish(bus.KindConversationUpdated, bus.ConversationUpdated{
		ProfileID:     c.ProfileID,
		InteractionID: c.InteractionID,
	})
	return nil
}

// touchConversationTx advances last-activity fields inside a batch
// transaction without emitting its own notification.
func touchConversationTx(tx *sql.Tx, profileID, interactionID string, lastAt int64, preview string) error {
	_, err := tx.Exec(`
		INSERT INTO conversations (interaction_id, profile_id, last_item_at, last_preview, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(profile_id, interaction_id) DO UPDATE SET
			last_item_at = MAX(conversations.last_item_at, excluded.last_item_at),
			last_preview = CASE WHEN excluded.last_item_at >= conversations.last_item_at THEN excluded.last_preview ELSE conversations.last_preview END,
			updated_at = excluded.updated_at`,
		interactionID, profileID, lastAt, preview, time.Now().UnixMilli())
	return err
}

// ListConversations returns conversations sorted by last activity
// descending, for the conversation list view and sync enumeration.
func (s *Store) ListConversations(profileID string, limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT interaction_id, profile_id, title, unread_count, last_item_at, last_preview
		FROM conversations
		WHERE profile_id = ?
		ORDER BY last_item_at DESC
		LIMIT ? OFFSET ?`, profileID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.InteractionID, &c.ProfileID, &c.Title, &c.UnreadCount, &c.LastItemAt, &c.LastPreview); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns one conversation summary, or nil if unknown.
func (s *Store) GetConversation(profileID, interactionID string) (*Conversation, error) {
	var c Conversation
	err := s.db.QueryRow(`
		SELECT interaction_id, profile_id, title, unread_count, last_item_at, last_preview
		FROM conversations
		WHERE profile_id = ? AND interaction_id = ?`, profileID, interactionID).
		Scan(&c.InteractionID, &c.ProfileID, &c.Title, &c.UnreadCount, &c.LastItemAt, &c.LastPreview)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// MarkConversationRead advances every delivered message in the
// conversation to read, zeroes the unread counter and returns the server
// ids of the messages that changed, so read confirmations can be
// enqueued for them.
func (s *Store) MarkConversationRead(profileID, interactionID string) ([]string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.Query(`
		SELECT server_id FROM timeline_items
		WHERE profile_id = ? AND interaction_id = ? AND item_type = ?
			AND local_status = ? AND server_id IS NOT NULL`,
		profileID, interactionID, TypeMessage, StatusDelivered)
	if err != nil {
		return nil, fmt.Errorf("select unread: %w", err)
	}
	var serverIDs []string
	for rows.Next() {
		var sid string
		if err := rows.Scan(&sid); err != nil {
			_ = rows.Close()
			return nil, err
		}
		serverIDs = append(serverIDs, sid)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if _, err := tx.Exec(`
		UPDATE timeline_items SET local_status = ?
		WHERE profile_id = ? AND interaction_id = ? AND item_type = ? AND local_status = ?`,
		StatusRead, profileID, interactionID, TypeMessage, StatusDelivered); err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	if _, err := tx.Exec(`
		UPDATE conversations SET unread_count = 0
		WHERE profile_id = ? AND interaction_id = ?`,
		profileID, interactionID); err != nil {
		return nil, fmt.Errorf("reset unread: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	if len(serverIDs) > 0 {
		s.publish(bus.KindConversationUpdated, bus.ConversationUpdated{
			ProfileID:     profileID,
			InteractionID: interactionID,
		})
	}
	return serverIDs, nil
}
