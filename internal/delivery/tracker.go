// Package delivery batches delivered/read acknowledgments back to the
// server so a burst of incoming messages produces one confirmation call
// instead of one per item.
package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/paychat-app/paychat/internal/remote"
	"github.com/paychat-app/paychat/internal/timeline"
	"go.uber.org/zap"
)

const maxFlushAttempts = 3

// Confirmer sends a confirmation batch upstream.
type Confirmer interface {
	ConfirmDeliveries(ctx context.Context, batch []remote.Confirmation) error
}

// Tracker accumulates confirmations and flushes them after a quiet
// period. Confirmations are best-effort: one that keeps failing is
// dropped, the server re-learns state from the next pull.
type Tracker struct {
	store    *timeline.Store
	client   Confirmer
	logger   *zap.Logger
	debounce time.Duration

	mu      sync.Mutex
	scope   string
	paused  bool
	pending map[string]*pendingConf // keyed by server id, read overwrites delivered
	timer   *time.Timer
}

// pendingConf carries a queued confirmation with its own retry budget so
// confirmations enqueued later never inherit failures from earlier ones.
type pendingConf struct {
	conf     remote.Confirmation
	attempts int
}

// NewTracker creates a tracker flushing after the given debounce window.
func NewTracker(store *timeline.Store, client Confirmer, debounce time.Duration, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = 750 * time.Millisecond
	}
	return &Tracker{
		store:    store,
		client:   client,
		logger:   logger,
		debounce: debounce,
		pending:  make(map[string]*pendingConf),
	}
}

// SetScope binds the tracker to a profile. Pending confirmations from
// the previous profile are discarded.
func (t *Tracker) SetScope(profileID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scope = profileID
	t.pending = make(map[string]*pendingConf)
	t.stopTimerLocked()
}

// ClearScope unbinds the tracker and drops pending confirmations.
func (t *Tracker) ClearScope() {
	t.SetScope("")
}

// Pause holds flushes until Resume. Enqueued confirmations are kept.
func (t *Tracker) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = true
	t.stopTimerLocked()
}

// Resume re-enables flushing and schedules one if work is pending.
func (t *Tracker) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = false
	if len(t.pending) > 0 {
		t.scheduleLocked()
	}
}

// ConfirmDelivered queues a delivered acknowledgment for one message.
func (t *Tracker) ConfirmDelivered(serverID, _ string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.scope == "" || serverID == "" {
		return
	}
	// A read confirmation already queued for this item supersedes it.
	if existing, ok := t.pending[serverID]; ok && existing.conf.State == "read" {
		return
	}
	t.pending[serverID] = &pendingConf{conf: remote.Confirmation{ServerID: serverID, State: "delivered"}}
	t.scheduleLocked()
}

// MarkRead marks every delivered item in the conversation as read
// locally and queues read confirmations for the server-confirmed ones.
func (t *Tracker) MarkRead(interactionID string) error {
	t.mu.Lock()
	profileID := t.scope
	t.mu.Unlock()
	if profileID == "" {
		return nil
	}

	serverIDs, err := t.store.MarkConversationRead(profileID, interactionID)
	if err != nil {
		return err
	}
	if len(serverIDs) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range serverIDs {
		t.pending[id] = &pendingConf{conf: remote.Confirmation{ServerID: id, State: "read"}}
	}
	t.scheduleLocked()
	return nil
}

// Flush sends the pending batch immediately. Safe to call with nothing
// pending.
func (t *Tracker) Flush(ctx context.Context) {
	t.mu.Lock()
	if len(t.pending) == 0 {
		t.mu.Unlock()
		return
	}
	batch := make([]remote.Confirmation, 0, len(t.pending))
	for _, pc := range t.pending {
		batch = append(batch, pc.conf)
	}
	t.mu.Unlock()

	if err := t.client.ConfirmDeliveries(ctx, batch); err != nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		// Charge the failure to each confirmation that was actually in
		// the batch; ones queued during the flush keep a fresh budget.
		dropped := 0
		for _, c := range batch {
			pc, ok := t.pending[c.ServerID]
			if !ok || pc.conf.State != c.State {
				continue
			}
			pc.attempts++
			if pc.attempts >= maxFlushAttempts {
				delete(t.pending, c.ServerID)
				dropped++
			}
		}
		if dropped > 0 {
			t.logger.Warn("dropping confirmations after repeated failures",
				zap.Int("dropped", dropped),
				zap.Error(err))
		}
		if len(t.pending) == 0 {
			return
		}
		t.logger.Warn("confirmation flush failed, will retry",
			zap.Int("pending", len(t.pending)),
			zap.Error(err))
		if !t.paused {
			t.scheduleLocked()
		}
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	// Drop only what was sent. Confirmations queued during the flush stay.
	for _, c := range batch {
		if pc, ok := t.pending[c.ServerID]; ok && pc.conf.State == c.State {
			delete(t.pending, c.ServerID)
		}
	}
}

func (t *Tracker) scheduleLocked() {
	if t.paused {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.debounce, func() {
		t.Flush(context.Background())
	})
}

func (t *Tracker) stopTimerLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Stop cancels the pending flush timer. Queued confirmations are lost,
// which is acceptable for best-effort acknowledgments.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopTimerLocked()
}
