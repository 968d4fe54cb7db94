// Package opqueue drains durable non-timeline operations (KYC
// submissions, contact updates, settings changes) queued while offline.
package opqueue

import (
	"context"
	"sync"
	"time"

	"github.com/paychat-app/paychat/internal/remote"
	"github.com/paychat-app/paychat/internal/timeline"
	"go.uber.org/zap"
)

const (
	pollInterval = 2 * time.Second
	baseBackoff  = 5 * time.Second
)

// Executor performs one queued operation against the server.
type Executor interface {
	ExecuteOperation(ctx context.Context, endpoint, payload string) error
}

// Drainer replays queued operations in FIFO order with per-operation
// exponential backoff. Permanent server rejections fail immediately;
// transient failures retry up to the store's bound.
type Drainer struct {
	store  *timeline.Store
	client Executor
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	scope  string
	paused bool
	cancel context.CancelFunc
}

// New creates a drainer.
func New(store *timeline.Store, client Executor, logger *zap.Logger) *Drainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Drainer{store: store, client: client, logger: logger, now: time.Now}
}

// SetScope binds the drainer to a profile.
func (d *Drainer) SetScope(profileID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scope = profileID
}

// ClearScope unbinds the drainer.
func (d *Drainer) ClearScope() {
	d.SetScope("")
}

// Pause holds the drain loop.
func (d *Drainer) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = true
}

// Resume re-enables the drain loop.
func (d *Drainer) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = false
}

func (d *Drainer) snapshot() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scope, d.paused
}

// Start runs the polling drain loop until the context is cancelled.
func (d *Drainer) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.DrainOnce(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the drain loop.
func (d *Drainer) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
}

// DrainOnce executes every due operation once.
func (d *Drainer) DrainOnce(ctx context.Context) {
	profileID, paused := d.snapshot()
	if profileID == "" || paused {
		return
	}

	ops, err := d.store.PendingOperations(profileID)
	if err != nil {
		d.logger.Error("load queued operations", zap.Error(err))
		return
	}

	for i := range ops {
		if cur, p := d.snapshot(); cur != profileID || p {
			return
		}
		op := &ops[i]
		if !d.due(op) {
			continue
		}
		d.execute(ctx, op)
	}
}

// due applies exponential backoff from the last attempt: 5s, 10s, 20s.
func (d *Drainer) due(op *timeline.QueuedOperation) bool {
	if op.RetryCount == 0 {
		return true
	}
	wait := baseBackoff << (op.RetryCount - 1)
	next := time.UnixMilli(op.LastRetryAt).Add(wait)
	return d.now().After(next)
}

func (d *Drainer) execute(ctx context.Context, op *timeline.QueuedOperation) {
	err := d.client.ExecuteOperation(ctx, op.Endpoint, op.Payload)
	if err == nil {
		if markErr := d.store.MarkOperationCompleted(op); markErr != nil {
			d.logger.Error("mark operation completed", zap.Error(markErr))
		}
		d.logger.Info("queued operation completed",
			zap.String("id", op.ID),
			zap.String("kind", op.OperationKind))
		return
	}

	if remote.IsPermanent(err) {
		d.logger.Warn("queued operation rejected",
			zap.String("id", op.ID),
			zap.String("kind", op.OperationKind),
			zap.Error(err))
		if markErr := d.store.MarkOperationFailed(op, err.Error()); markErr != nil {
			d.logger.Error("mark operation failed", zap.Error(markErr))
		}
		return
	}

	d.logger.Warn("queued operation failed, will retry",
		zap.String("id", op.ID),
		zap.String("kind", op.OperationKind),
		zap.Int("retry_count", op.RetryCount+1),
		zap.Error(err))
	if markErr := d.store.MarkOperationRetrying(op, err.Error()); markErr != nil {
		d.logger.Error("mark operation retrying", zap.Error(markErr))
	}
}
