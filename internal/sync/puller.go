// Package sync reconciles local timelines against the server-of-record.
package sync

import (
	"context"
	"fmt"
	"strconv"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/paychat-app/paychat/internal/bus"
	"github.com/paychat-app/paychat/internal/profile"
	"github.com/paychat-app/paychat/internal/remote"
	"github.com/paychat-app/paychat/internal/timeline"
	"go.uber.org/zap"
)

// Fetcher is the slice of the remote client the puller needs.
type Fetcher interface {
	FetchTimeline(ctx context.Context, interactionID string, afterMs int64, limit int) ([]remote.TimelineRecord, error)
}

// Report aggregates one full sync cycle.
type Report struct {
	Conversations int
	Items         int
	Failures      int
	Duration      time.Duration
}

const (
	checkpointLastCycle = "last_cycle_at"
	maxParallelFetches  = 4
)

// Puller reconciles every locally-known conversation against the server:
// read the local watermark, fetch newer items, merge them as one batch.
// Only one full cycle runs at a time; a request arriving mid-cycle is
// dropped, not queued.
type Puller struct {
	store   *timeline.Store
	fetcher Fetcher
	bus     *bus.Bus
	logger  *zap.Logger

	interval  time.Duration
	pageLimit int

	mu      stdsync.Mutex
	scope   string
	running atomic.Bool
	paused  atomic.Bool

	cancelLoop  context.CancelFunc
	cancelCycle context.CancelFunc
}

// NewPuller creates a sync puller.
func NewPuller(store *timeline.Store, fetcher Fetcher, b *bus.Bus, logger *zap.Logger, interval time.Duration, pageLimit int) *Puller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pageLimit <= 0 {
		pageLimit = 200
	}
	return &Puller{
		store:     store,
		fetcher:   fetcher,
		bus:       b,
		logger:    logger,
		interval:  interval,
		pageLimit: pageLimit,
	}
}

// SetScope injects the active profile. Called by the switch coordinator only.
func (p *Puller) SetScope(profileID string) {
	p.mu.Lock()
	p.scope = profileID
	p.mu.Unlock()
}

// ClearScope drops the active profile; scoped work is refused until a new
// scope is injected.
func (p *Puller) ClearScope() {
	p.SetScope("")
}

func (p *Puller) currentScope() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scope
}

// Pause stops trigger processing and cancels any in-flight cycle.
func (p *Puller) Pause() {
	p.paused.Store(true)
	p.mu.Lock()
	cancel := p.cancelCycle
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Resume re-enables trigger processing.
func (p *Puller) Resume() {
	p.paused.Store(false)
}

// Start runs the periodic trigger loop and listens for connectivity
// regained events, each of which kicks a full cycle. If the last
// recorded cycle is older than one interval (or there is none), a cycle
// is kicked immediately rather than waiting for the first tick.
func (p *Puller) Start(ctx context.Context) {
	ctx, p.cancelLoop = context.WithCancel(ctx)
	ch, unsub := p.bus.Subscribe("push.connectivity", 16)

	go func() {
		defer unsub()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		if p.staleSinceLastCycle() {
			p.trigger(ctx)
		}

		for {
			select {
			case <-ticker.C:
				p.trigger(ctx)
			case evt := <-ch:
				if conn, ok := evt.Payload.(bus.Connectivity); ok && conn.Online {
					p.trigger(ctx)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the trigger loop.
func (p *Puller) Stop() {
	if p.cancelLoop != nil {
		p.cancelLoop()
	}
}

// staleSinceLastCycle reports whether the persisted cycle checkpoint is
// missing, unreadable, or older than one interval. No scope means no
// checkpoint to consult.
func (p *Puller) staleSinceLastCycle() bool {
	profileID := p.currentScope()
	if profileID == "" {
		return false
	}
	raw, err := p.store.GetCheckpoint(profileID, checkpointLastCycle)
	if err != nil || raw == "" {
		return true
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return true
	}
	return time.Since(time.UnixMilli(ms)) >= p.interval
}

func (p *Puller) trigger(ctx context.Context) {
	if p.paused.Load() {
		return
	}
	go func() {
		if _, err := p.SyncAll(ctx); err != nil && err != profile.ErrNoScope {
			p.logger.Error("sync cycle failed", zap.Error(err))
		}
	}()
}

// SyncAll runs one full cycle over every known conversation. Returns
// (nil, nil) when another cycle is already running. A failure in one
// conversation never aborts the others; failures are counted in the
// report and logged.
func (p *Puller) SyncAll(ctx context.Context) (*Report, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, nil
	}
	defer p.running.Store(false)

	profileID := p.currentScope()
	if profileID == "" {
		return nil, profile.ErrNoScope
	}

	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancelCycle = cancel
	p.mu.Unlock()
	defer cancel()

	start := time.Now()
	convs, err := p.store.ListConversations(profileID, 1000, 0)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	var (
		wg       stdsync.WaitGroup
		mu       stdsync.Mutex
		items    int
		failures int
	)
	sem := make(chan struct{}, maxParallelFetches)
	for _, conv := range convs {
		wg.Add(1)
		sem <- struct{}{}
		go func(interactionID string) {
			defer wg.Done()
			defer func() { <-sem }()

			n, err := p.syncConversation(ctx, profileID, interactionID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				p.logger.Warn("conversation sync failed",
					zap.String("interaction_id", interactionID), zap.Error(err))
				return
			}
			items += n
		}(conv.InteractionID)
	}
	wg.Wait()

	report := &Report{
		Conversations: len(convs),
		Items:         items,
		Failures:      failures,
		Duration:      time.Since(start),
	}

	// Best effort: the checkpoint only decides whether the next boot
	// syncs immediately or waits for the first tick.
	_ = p.store.SetCheckpoint(profileID, checkpointLastCycle,
		strconv.FormatInt(time.Now().UnixMilli(), 10))

	p.bus.Publish(bus.Event{
		Kind:      bus.KindSyncCycleDone,
		Timestamp: time.Now(),
		Payload: bus.CycleDone{
			ProfileID:     profileID,
			Conversations: report.Conversations,
			ItemsMerged:   report.Items,
			Failures:      report.Failures,
			Duration:      report.Duration,
		},
	})
	return report, nil
}

// SyncConversation reconciles a single conversation on demand (e.g. when
// the user opens it).
func (p *Puller) SyncConversation(ctx context.Context, interactionID string) (int, error) {
	profileID := p.currentScope()
	if profileID == "" {
		return 0, profile.ErrNoScope
	}
	n, err := p.syncConversation(ctx, profileID, interactionID)
	if err != nil {
		p.logger.Warn("on-demand conversation sync failed",
			zap.String("interaction_id", interactionID), zap.Error(err))
	}
	return n, err
}

func (p *Puller) syncConversation(ctx context.Context, profileID, interactionID string) (int, error) {
	watermark, err := p.store.LatestCreatedAt(interactionID, profileID)
	if err != nil {
		return 0, fmt.Errorf("read watermark: %w", err)
	}

	records, err := p.fetcher.FetchTimeline(ctx, interactionID, watermark, p.pageLimit)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	// The fetch may have raced a profile switch: results that arrive
	// after the scope changed are discarded, never applied.
	if p.currentScope() != profileID {
		return 0, nil
	}

	items := make([]*timeline.Item, 0, len(records))
	for i := range records {
		items = append(items, MapRecord(&records[i], profileID))
	}
	if _, err := p.store.BatchUpsertFromServer(items, interactionID, profileID); err != nil {
		return 0, fmt.Errorf("merge batch: %w", err)
	}
	return len(items), nil
}
