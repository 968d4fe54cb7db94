// Package live applies server-pushed events to in-memory read
// projections so the UI reflects them without waiting for a pull cycle.
package live

import (
	"sort"
	"sync"

	"github.com/paychat-app/paychat/internal/timeline"
)

// Summary is the lightweight conversation-list projection.
type Summary struct {
	InteractionID string
	Title         string
	UnreadCount   int
	LastItemAt    int64
	LastPreview   string
}

// Projections holds the derived in-memory views: a windowed item view
// per conversation and a conversation summary map. They are rebuilt from
// store mutations, never independently authored.
type Projections struct {
	mu         sync.RWMutex
	windowSize int
	windows    map[string][]timeline.Item
	summaries  map[string]*Summary
}

// NewProjections creates empty projections with the given window size.
func NewProjections(windowSize int) *Projections {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &Projections{
		windowSize: windowSize,
		windows:    make(map[string][]timeline.Item),
		summaries:  make(map[string]*Summary),
	}
}

// ApplyItem inserts or merges one item into the conversation's window,
// keeping it sorted and capped, instead of invalidating and refetching.
func (p *Projections) ApplyItem(it *timeline.Item) {
	p.mu.Lock()
	defer p.mu.Unlock()

	window := p.windows[it.InteractionID]

	// In-place update when the item is already projected: match on id,
	// server id, or the double-entry dedup key.
	for i := range window {
		if sameItem(&window[i], it) {
			window[i] = *it
			p.windows[it.InteractionID] = window
			return
		}
	}

	window = append(window, *it)
	sort.SliceStable(window, func(i, j int) bool {
		return window[i].CreatedAt < window[j].CreatedAt
	})
	if len(window) > p.windowSize {
		window = window[len(window)-p.windowSize:]
	}
	p.windows[it.InteractionID] = window
}

func sameItem(a, b *timeline.Item) bool {
	if a.ID == b.ID {
		return true
	}
	if a.ServerID != "" && a.ServerID == b.ServerID {
		return true
	}
	if a.Type == timeline.TypeTransaction && b.Type == timeline.TypeTransaction {
		samePair := (a.FromWalletID == b.FromWalletID && a.ToWalletID == b.ToWalletID) ||
			(a.FromWalletID == b.ToWalletID && a.ToWalletID == b.FromWalletID)
		return samePair && a.Amount == b.Amount &&
			a.InteractionID == b.InteractionID &&
			a.CreatedAt/1000 == b.CreatedAt/1000
	}
	return false
}

// RemoveItem drops an item from the window by local or server id.
func (p *Projections) RemoveItem(interactionID, id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	window := p.windows[interactionID]
	for i := range window {
		if window[i].ID == id || (window[i].ServerID != "" && window[i].ServerID == id) {
			p.windows[interactionID] = append(window[:i], window[i+1:]...)
			return
		}
	}
}

// ReplaceWindow swaps in a freshly-loaded window (post-batch rebuild).
func (p *Projections) ReplaceWindow(interactionID string, items []timeline.Item) {
	p.mu.Lock()
	defer p.mu.Unlock()
	window := make([]timeline.Item, len(items))
	copy(window, items)
	if len(window) > p.windowSize {
		window = window[len(window)-p.windowSize:]
	}
	p.windows[interactionID] = window
}

// Window returns a copy of the conversation's projected items.
func (p *Projections) Window(interactionID string) []timeline.Item {
	p.mu.RLock()
	defer p.mu.RUnlock()
	window := p.windows[interactionID]
	out := make([]timeline.Item, len(window))
	copy(out, window)
	return out
}

// UpdateSummary merges summary fields; last-activity only moves forward.
func (p *Projections) UpdateSummary(interactionID string, mutate func(*Summary)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.summaries[interactionID]
	if !ok {
		s = &Summary{InteractionID: interactionID}
		p.summaries[interactionID] = s
	}
	mutate(s)
}

// Summary returns a copy of the conversation's summary projection.
func (p *Projections) Summary(interactionID string) (Summary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.summaries[interactionID]
	if !ok {
		return Summary{}, false
	}
	return *s, true
}

// Summaries returns a copy of all summaries.
func (p *Projections) Summaries() []Summary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Summary, 0, len(p.summaries))
	for _, s := range p.summaries {
		out = append(out, *s)
	}
	return out
}

// Clear wipes every projection (profile switch hygiene).
func (p *Projections) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.windows = make(map[string][]timeline.Item)
	p.summaries = make(map[string]*Summary)
}
