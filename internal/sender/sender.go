// Package sender pushes locally-authored timeline items to the server
// in the background, confirming or failing them in the store.
package sender

import (
	"context"
	"sync"
	"time"

	"github.com/paychat-app/paychat/internal/remote"
	"github.com/paychat-app/paychat/internal/timeline"
	"go.uber.org/zap"
)

const pollInterval = 500 * time.Millisecond

// Submitter sends one item upstream and returns its server identity.
type Submitter interface {
	SubmitItem(ctx context.Context, interactionID string, record *remote.TimelineRecord) (*remote.SubmitResult, error)
}

// Sender drains pending items on a short poll, retrying transient
// failures up to the retry bound and leaving permanent failures for the
// user to retry explicitly.
type Sender struct {
	store      *timeline.Store
	client     Submitter
	logger     *zap.Logger
	maxRetries int

	mu     sync.Mutex
	scope  string
	paused bool
	cancel context.CancelFunc
}

// New creates a sender with the given retry bound for transient errors.
func New(store *timeline.Store, client Submitter, maxRetries int, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Sender{store: store, client: client, logger: logger, maxRetries: maxRetries}
}

// SetScope binds the sender to a profile.
func (s *Sender) SetScope(profileID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scope = profileID
}

// ClearScope unbinds the sender.
func (s *Sender) ClearScope() {
	s.SetScope("")
}

// Pause holds the drain loop (profile switch in progress).
func (s *Sender) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

// Resume re-enables the drain loop.
func (s *Sender) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
}

func (s *Sender) snapshot() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scope, s.paused
}

// Start runs the polling drain loop until the context is cancelled.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.DrainOnce(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the drain loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// DrainOnce submits every due item exactly once. Transient failures stay
// eligible until the retry bound; permanent rejections and exhausted
// items remain visible as failed.
func (s *Sender) DrainOnce(ctx context.Context) {
	profileID, paused := s.snapshot()
	if profileID == "" || paused {
		return
	}

	pending, err := s.store.GetPending(profileID)
	if err != nil {
		s.logger.Error("load pending items", zap.Error(err))
		return
	}
	retryable, err := s.store.GetFailed(profileID, s.maxRetries)
	if err != nil {
		s.logger.Error("load retryable items", zap.Error(err))
		return
	}

	for _, it := range append(pending, retryable...) {
		// Re-check scope per item: a profile switch can land mid-drain.
		if cur, p := s.snapshot(); cur != profileID || p {
			return
		}
		s.submit(ctx, &it)
	}
}

func (s *Sender) submit(ctx context.Context, it *timeline.Item) {
	result, err := s.client.SubmitItem(ctx, it.InteractionID, toRecord(it))
	if err != nil {
		if remote.IsPermanent(err) {
			s.logger.Warn("item rejected by server",
				zap.String("id", it.ID),
				zap.Error(err))
			if markErr := s.store.MarkSendFailed(it.ProfileID, it.ID, err.Error()); markErr != nil {
				s.logger.Error("mark send failed", zap.Error(markErr))
			}
			return
		}
		s.logger.Warn("item submit failed, will retry",
			zap.String("id", it.ID),
			zap.Int("retry_count", it.RetryCount+1),
			zap.Error(err))
		if markErr := s.store.MarkSendFailed(it.ProfileID, it.ID, err.Error()); markErr != nil {
			s.logger.Error("mark send failed", zap.Error(markErr))
		}
		return
	}

	localStatus := ""
	if it.Type == timeline.TypeMessage {
		localStatus = timeline.StatusSent
	} else if result.Status != "" {
		localStatus = result.Status
	}
	if err := s.store.UpdateStatus(it.ProfileID, it.ID, timeline.SyncSynced, localStatus, result.ServerID, ""); err != nil {
		s.logger.Error("confirm sent item", zap.Error(err), zap.String("id", it.ID))
		return
	}
	s.logger.Debug("item submitted",
		zap.String("id", it.ID),
		zap.String("server_id", result.ServerID))
}

func toRecord(it *timeline.Item) *remote.TimelineRecord {
	return &remote.TimelineRecord{
		ID:              it.ID,
		InteractionID:   it.InteractionID,
		Type:            string(it.Type),
		Content:         it.Content,
		MessageType:     it.MessageType,
		Amount:          it.Amount,
		CurrencyCode:    it.CurrencyCode,
		FromWalletID:    it.FromWalletID,
		ToWalletID:      it.ToWalletID,
		TransactionType: it.TransactionType,
		FromEntityID:    it.FromEntityID,
		ToEntityID:      it.ToEntityID,
		CreatedAtUnixMs: it.CreatedAt,
	}
}
