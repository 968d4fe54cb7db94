package live

import (
	"context"
	"encoding/json"
	"fmt"
	stdsync "sync"

	"github.com/paychat-app/paychat/internal/bus"
	"github.com/paychat-app/paychat/internal/push"
	"github.com/paychat-app/paychat/internal/timeline"
	"go.uber.org/zap"
)

// DeliveryConfirmer enqueues a delivered-confirmation for a received
// message. Implemented by the delivery tracker.
type DeliveryConfirmer interface {
	ConfirmDelivered(serverID, interactionID string)
}

// Updater applies server-pushed events to the authoritative store (same
// dedup rule as the puller, so the two paths never diverge) and to the
// in-memory read projections. It refuses to write without an injected
// profile scope.
type Updater struct {
	store     *timeline.Store
	proj      *Projections
	bus       *bus.Bus
	confirmer DeliveryConfirmer
	logger    *zap.Logger

	mu     stdsync.Mutex
	scope  string
	cancel context.CancelFunc
}

// NewUpdater creates a live cache updater.
func NewUpdater(store *timeline.Store, proj *Projections, b *bus.Bus, confirmer DeliveryConfirmer, logger *zap.Logger) *Updater {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Updater{store: store, proj: proj, bus: b, confirmer: confirmer, logger: logger}
}

// SetScope injects the active profile and resets projections to it.
func (u *Updater) SetScope(profileID string) {
	u.mu.Lock()
	u.scope = profileID
	u.mu.Unlock()
	u.proj.Clear()
}

// ClearScope drops the scope and the projections built under it.
func (u *Updater) ClearScope() {
	u.SetScope("")
}

func (u *Updater) currentScope() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.scope
}

// Start subscribes to pushed events and to batch notifications (which
// trigger projection rebuilds after pull cycles).
func (u *Updater) Start(ctx context.Context) {
	ctx, u.cancel = context.WithCancel(ctx)
	pushCh, unsubPush := u.bus.Subscribe("push.", 256)
	batchCh, unsubBatch := u.bus.Subscribe("timeline.batch_applied", 64)

	go func() {
		defer unsubPush()
		defer unsubBatch()
		for {
			select {
			case evt := <-pushCh:
				u.handle(evt)
			case evt := <-batchCh:
				u.handle(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts event processing.
func (u *Updater) Stop() {
	if u.cancel != nil {
		u.cancel()
	}
}

func (u *Updater) handle(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case push.MessageNew:
		u.applyMessage(p)
	case push.TransactionUpdate:
		u.applyTransaction(p)
	case push.ItemDeleted:
		u.applyDeletion(p)
	case push.InteractionUpdated:
		u.applyInteraction(p)
	case bus.BatchApplied:
		u.rebuildWindow(p)
	}
}

func (u *Updater) applyMessage(p push.MessageNew) {
	profileID := u.currentScope()
	if profileID == "" {
		u.logger.Warn("dropping pushed message: no profile scope", zap.String("id", p.ID))
		return
	}

	raw, _ := json.Marshal(p)
	item := &timeline.Item{
		ID:            p.ID,
		ServerID:      p.ID,
		ProfileID:     profileID,
		InteractionID: p.InteractionID,
		Type:          timeline.TypeMessage,
		Content:       p.Content,
		MessageType:   p.MessageType,
		FromEntityID:  p.FromEntityID,
		ToEntityID:    p.ToEntityID,
		SyncStatus:    timeline.SyncSynced,
		LocalStatus:   timeline.StatusDelivered,
		CreatedAt:     p.CreatedAtUnixMs,
		Metadata:      string(raw),
	}
	if item.MessageType == "" {
		item.MessageType = "text"
	}
	if err := u.store.UpsertFromServer(item); err != nil {
		u.logger.Error("apply pushed message", zap.Error(err), zap.String("id", p.ID))
		return
	}
	u.proj.ApplyItem(item)

	incoming := p.FromEntityID != profileID
	u.bumpConversation(profileID, p.InteractionID, p.CreatedAtUnixMs, previewText(p.Content), incoming)

	if incoming && u.confirmer != nil {
		u.confirmer.ConfirmDelivered(p.ID, p.InteractionID)
	}
}

func (u *Updater) applyTransaction(p push.TransactionUpdate) {
	profileID := u.currentScope()
	if profileID == "" {
		u.logger.Warn("dropping pushed transaction: no profile scope", zap.String("id", p.ID))
		return
	}

	raw, _ := json.Marshal(p)
	item := &timeline.Item{
		ID:              p.ID,
		ServerID:        p.ID,
		ProfileID:       profileID,
		InteractionID:   p.InteractionID,
		Type:            timeline.TypeTransaction,
		Amount:          p.Amount,
		CurrencyCode:    p.CurrencyCode,
		FromWalletID:    p.FromWalletID,
		ToWalletID:      p.ToWalletID,
		TransactionType: p.TransactionType,
		SyncStatus:      timeline.SyncSynced,
		LocalStatus:     p.Status,
		CreatedAt:       p.CreatedAtUnixMs,
		Metadata:        string(raw),
	}
	if item.LocalStatus == "" {
		item.LocalStatus = timeline.TxPending
	}
	if err := u.store.UpsertFromServer(item); err != nil {
		u.logger.Error("apply pushed transaction", zap.Error(err), zap.String("id", p.ID))
		return
	}
	u.proj.ApplyItem(item)
	u.bumpConversation(profileID, p.InteractionID, p.CreatedAtUnixMs, previewAmount(p.CurrencyCode, p.Amount), false)
}

func (u *Updater) applyDeletion(p push.ItemDeleted) {
	profileID := u.currentScope()
	if profileID == "" {
		u.logger.Warn("dropping pushed deletion: no profile scope", zap.String("server_id", p.ServerID))
		return
	}
	if err := u.store.DeleteByServerID(profileID, p.ServerID); err != nil {
		u.logger.Error("apply pushed deletion", zap.Error(err), zap.String("server_id", p.ServerID))
		return
	}
	u.proj.RemoveItem(p.InteractionID, p.ServerID)
}

func (u *Updater) applyInteraction(p push.InteractionUpdated) {
	profileID := u.currentScope()
	if profileID == "" {
		u.logger.Warn("dropping pushed interaction update: no profile scope", zap.String("interaction_id", p.InteractionID))
		return
	}
	if err := u.store.UpsertConversation(&timeline.Conversation{
		InteractionID: p.InteractionID,
		ProfileID:     profileID,
		Title:         p.Title,
	}); err != nil {
		u.logger.Error("apply interaction update", zap.Error(err))
		return
	}
	u.proj.UpdateSummary(p.InteractionID, func(s *Summary) {
		s.Title = p.Title
	})
}

// bumpConversation advances the durable conversation row and the summary
// projection together.
func (u *Updater) bumpConversation(profileID, interactionID string, at int64, preview string, incoming bool) {
	unread := 0
	if conv, err := u.store.GetConversation(profileID, interactionID); err == nil && conv != nil {
		unread = conv.UnreadCount
	}
	if incoming {
		unread++
	}
	if err := u.store.UpsertConversation(&timeline.Conversation{
		InteractionID: interactionID,
		ProfileID:     profileID,
		UnreadCount:   unread,
		LastItemAt:    at,
		LastPreview:   preview,
	}); err != nil {
		u.logger.Error("update conversation summary", zap.Error(err))
	}
	u.proj.UpdateSummary(interactionID, func(s *Summary) {
		s.UnreadCount = unread
		if at >= s.LastItemAt {
			s.LastItemAt = at
			s.LastPreview = preview
		}
	})
}

// rebuildWindow reloads a conversation window from the store after a
// batch merge landed (pull path).
func (u *Updater) rebuildWindow(b bus.BatchApplied) {
	profileID := u.currentScope()
	if profileID == "" || b.ProfileID != profileID {
		return
	}
	items, err := u.store.GetRecent(b.InteractionID, profileID, u.proj.windowSize)
	if err != nil {
		u.logger.Error("rebuild window", zap.Error(err), zap.String("interaction_id", b.InteractionID))
		return
	}
	u.proj.ReplaceWindow(b.InteractionID, items)
	if conv, err := u.store.GetConversation(profileID, b.InteractionID); err == nil && conv != nil {
		u.proj.UpdateSummary(b.InteractionID, func(s *Summary) {
			s.Title = conv.Title
			s.UnreadCount = conv.UnreadCount
			s.LastItemAt = conv.LastItemAt
			s.LastPreview = conv.LastPreview
		})
	}
}

func previewText(content string) string {
	if len(content) > 100 {
		return content[:100]
	}
	return content
}

// previewAmount renders a transaction preview for the conversation list.
// Amounts are in minor units.
func previewAmount(currency string, amount int64) string {
	return fmt.Sprintf("%s %d.%02d", currency, amount/100, amount%100)
}
