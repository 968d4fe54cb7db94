// Package api exposes the daemon's operations to the UI layer as
// in-process services backed by the store and the background engines.
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/paychat-app/paychat/internal/live"
	"github.com/paychat-app/paychat/internal/timeline"
)

// ReadMarker marks a conversation read and confirms it upstream.
type ReadMarker interface {
	MarkRead(interactionID string) error
}

// ConversationSyncer reconciles one conversation against the server on
// demand.
type ConversationSyncer interface {
	SyncConversation(ctx context.Context, interactionID string) (int, error)
}

// TimelineService is the UI's entry point for conversation timelines and
// outgoing items.
type TimelineService struct {
	store  *timeline.Store
	proj   *live.Projections
	reader ReadMarker
	syncer ConversationSyncer
	scope  func() string
}

// NewTimelineService creates a timeline service. scope reports the
// active profile and is owned by the switch coordinator.
func NewTimelineService(store *timeline.Store, proj *live.Projections, reader ReadMarker, syncer ConversationSyncer, scope func() string) *TimelineService {
	return &TimelineService{store: store, proj: proj, reader: reader, syncer: syncer, scope: scope}
}

func (s *TimelineService) profileID() (string, error) {
	p := s.scope()
	if p == "" {
		return "", fmt.Errorf("no active profile")
	}
	return p, nil
}

// GetTimeline returns one conversation's items, oldest first.
func (s *TimelineService) GetTimeline(interactionID string, limit, offset int) ([]timeline.Item, error) {
	profileID, err := s.profileID()
	if err != nil {
		return nil, err
	}
	return s.store.GetTimeline(interactionID, profileID, limit, offset)
}

// ListConversations returns the conversation list, most recent first.
func (s *TimelineService) ListConversations(limit, offset int) ([]timeline.Conversation, error) {
	profileID, err := s.profileID()
	if err != nil {
		return nil, err
	}
	return s.store.ListConversations(profileID, limit, offset)
}

// SendMessage stores an outgoing message optimistically under a local id
// and returns it. The background sender confirms it with the server.
func (s *TimelineService) SendMessage(interactionID, content, messageType string) (*timeline.Item, error) {
	profileID, err := s.profileID()
	if err != nil {
		return nil, err
	}
	if messageType == "" {
		messageType = "text"
	}
	it := &timeline.Item{
		ID:            uuid.New().String(),
		ProfileID:     profileID,
		InteractionID: interactionID,
		Type:          timeline.TypeMessage,
		Content:       content,
		MessageType:   messageType,
		FromEntityID:  profileID,
		SyncStatus:    timeline.SyncPending,
		LocalStatus:   timeline.StatusSending,
		CreatedAt:     time.Now().UnixMilli(),
	}
	if err := s.store.Add(it); err != nil {
		return nil, err
	}
	s.proj.ApplyItem(it)
	return it, nil
}

// SendTransfer stores an outgoing transfer optimistically.
func (s *TimelineService) SendTransfer(interactionID string, amount int64, currencyCode, fromWalletID, toWalletID string) (*timeline.Item, error) {
	profileID, err := s.profileID()
	if err != nil {
		return nil, err
	}
	it := &timeline.Item{
		ID:              uuid.New().String(),
		ProfileID:       profileID,
		InteractionID:   interactionID,
		Type:            timeline.TypeTransaction,
		Amount:          amount,
		CurrencyCode:    currencyCode,
		FromWalletID:    fromWalletID,
		ToWalletID:      toWalletID,
		TransactionType: "transfer",
		FromEntityID:    profileID,
		SyncStatus:      timeline.SyncPending,
		LocalStatus:     timeline.TxPending,
		CreatedAt:       time.Now().UnixMilli(),
	}
	if err := s.store.Add(it); err != nil {
		return nil, err
	}
	s.proj.ApplyItem(it)
	return it, nil
}

// RetryItem requeues a failed outgoing item.
func (s *TimelineService) RetryItem(id string) error {
	profileID, err := s.profileID()
	if err != nil {
		return err
	}
	if err := s.store.RetrySend(profileID, id); err != nil {
		return err
	}
	it, err := s.store.GetByID(profileID, id)
	if err == nil {
		s.proj.ApplyItem(it)
	}
	return nil
}

// DeleteItem removes one item locally.
func (s *TimelineService) DeleteItem(interactionID, id string) error {
	profileID, err := s.profileID()
	if err != nil {
		return err
	}
	if err := s.store.DeleteItem(profileID, id); err != nil {
		return err
	}
	s.proj.RemoveItem(interactionID, id)
	return nil
}

// MarkRead marks a conversation read locally, queues read confirmations
// for the server, and kicks a background sync of the conversation so an
// opened view catches up without waiting for the next full cycle.
func (s *TimelineService) MarkRead(interactionID string) error {
	if _, err := s.profileID(); err != nil {
		return err
	}
	if err := s.reader.MarkRead(interactionID); err != nil {
		return err
	}
	if s.syncer != nil {
		go func() {
			_, _ = s.syncer.SyncConversation(context.Background(), interactionID)
		}()
	}
	return nil
}

// Window returns the in-memory projection of a conversation, which
// includes optimistic items not yet confirmed.
func (s *TimelineService) Window(interactionID string) []timeline.Item {
	return s.proj.Window(interactionID)
}

// Summaries returns the projected conversation list.
func (s *TimelineService) Summaries() []live.Summary {
	return s.proj.Summaries()
}
