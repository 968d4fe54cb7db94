package profile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/paychat-app/paychat/internal/bus"
	"go.uber.org/zap"
)

// SwitchState is the coordinator's lifecycle state.
type SwitchState string

const (
	StateIdle      SwitchState = "idle"
	StateSwitching SwitchState = "switching"
)

var validTransitions = map[SwitchState][]SwitchState{
	StateIdle:      {StateSwitching},
	StateSwitching: {StateIdle},
}

// Wiper clears all durable state for one profile.
type Wiper interface {
	ClearProfile(profileID string) error
}

// Coordinator owns the active profile scope. It is the single writer of
// scope on every registered component, and serializes switches so two
// cannot interleave.
type Coordinator struct {
	bus    *bus.Bus
	wiper  Wiper
	logger *zap.Logger

	mu      sync.Mutex
	state   SwitchState
	current string
	runners []Runner
	scoped  []Scoped
}

// NewCoordinator creates a coordinator with no active profile.
func NewCoordinator(b *bus.Bus, wiper Wiper, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{bus: b, wiper: wiper, logger: logger, state: StateIdle}
}

// Register adds a component to the switch sequence. Components
// implementing both Scoped and Runner are quiesced before their scope
// changes.
func (c *Coordinator) Register(components ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, comp := range components {
		if r, ok := comp.(Runner); ok {
			c.runners = append(c.runners, r)
		}
		if s, ok := comp.(Scoped); ok {
			c.scoped = append(c.scoped, s)
		}
	}
}

// Current returns the active profile, or "" when none is set.
func (c *Coordinator) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Coordinator) transition(to SwitchState) error {
	for _, allowed := range validTransitions[c.state] {
		if allowed == to {
			c.state = to
			return nil
		}
	}
	return fmt.Errorf("invalid state transition %s -> %s", c.state, to)
}

// Activate sets the initial profile at startup without the full switch
// sequence (nothing is running yet).
func (c *Coordinator) Activate(profileID string) error {
	if err := ValidateName(profileID); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = profileID
	for _, s := range c.scoped {
		s.SetScope(profileID)
	}
	return nil
}

// Switch moves every registered component to the new profile: pause,
// clear scope, inject new scope, resume. A second switch while one is in
// flight is rejected. On failure the previous scope is restored.
func (c *Coordinator) Switch(ctx context.Context, newProfile string) error {
	if err := ValidateName(newProfile); err != nil {
		return err
	}

	c.mu.Lock()
	if err := c.transition(StateSwitching); err != nil {
		c.mu.Unlock()
		return err
	}
	old := c.current
	c.mu.Unlock()

	if old == newProfile {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return nil
	}

	start := time.Now()
	c.logger.Info("profile switch started",
		zap.String("from", old),
		zap.String("to", newProfile))

	for _, r := range c.runners {
		r.Pause()
	}
	for _, s := range c.scoped {
		s.ClearScope()
	}

	select {
	case <-ctx.Done():
		// Switch aborted: restore the previous profile.
		c.restore(old)
		return ctx.Err()
	default:
	}

	c.mu.Lock()
	c.current = newProfile
	c.mu.Unlock()
	for _, s := range c.scoped {
		s.SetScope(newProfile)
	}
	for _, r := range c.runners {
		r.Resume()
	}

	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()

	c.logger.Info("profile switch completed",
		zap.String("to", newProfile),
		zap.Duration("took", time.Since(start)))
	if c.bus != nil {
		c.bus.Publish(bus.Event{
			Kind:      bus.KindProfileSwitched,
			Timestamp: time.Now(),
			Payload:   bus.ProfileSwitched{From: old, To: newProfile},
		})
	}
	return nil
}

func (c *Coordinator) restore(old string) {
	c.mu.Lock()
	c.current = old
	c.state = StateIdle
	c.mu.Unlock()
	if old != "" {
		for _, s := range c.scoped {
			s.SetScope(old)
		}
	}
	for _, r := range c.runners {
		r.Resume()
	}
}

// Wipe deletes all durable state for a profile. The active profile
// cannot be wiped while in use.
func (c *Coordinator) Wipe(profileID string) error {
	if err := ValidateName(profileID); err != nil {
		return err
	}
	c.mu.Lock()
	active := c.current == profileID
	c.mu.Unlock()
	if active {
		return fmt.Errorf("profile %s is active, switch away before wiping", profileID)
	}
	return c.wiper.ClearProfile(profileID)
}
