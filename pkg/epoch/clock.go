// Package epoch tracks the vault's discrete time buckets. The clock does no
// business logic beyond bucketing: entries are never touched here, unlock
// evaluation reads the counter lazily.
package epoch

import (
	"fmt"
	"sync"
	"time"

	"github.com/chronoflux-labs/chronovault/pkg/contracts"
)

// State is a read-only snapshot of the clock.
type State struct {
	Current   uint64        `json:"current"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Clock is the epoch counter. Advance is permissionless (keeper pattern);
// the guard plus the mutex make racing advances safe: at most one succeeds
// per elapsed duration, the rest fail with ErrEpochNotElapsed.
type Clock struct {
	mu        sync.Mutex
	current   uint64
	startedAt time.Time
	duration  time.Duration
	clock     func() time.Time
	persist   func(State) error
}

// NewClock creates a clock at epoch 0 starting now.
func NewClock(duration time.Duration) *Clock {
	c := &Clock{
		duration: duration,
		clock:    time.Now,
	}
	c.startedAt = c.clock()
	return c
}

// WithClock overrides the time source for deterministic testing.
func (c *Clock) WithClock(clock func() time.Time) *Clock {
	c.clock = clock
	c.startedAt = clock()
	return c
}

// WithPersistence registers a hook that durably records the clock state.
// The hook runs inside Advance under the clock mutex; when it fails the
// advance is rolled back, so the in-memory counter never runs ahead of the
// durable record.
func (c *Clock) WithPersistence(save func(State) error) *Clock {
	c.persist = save
	return c
}

// Restore rehydrates the counter from durable state at startup. The
// counter only moves forward: a restore below the current value is
// ignored, and a zero start time keeps the existing epoch start.
func (c *Clock) Restore(current uint64, startedAt time.Time) *Clock {
	c.mu.Lock()
	defer c.mu.Unlock()
	if current < c.current {
		return c
	}
	c.current = current
	if !startedAt.IsZero() {
		c.startedAt = startedAt
	}
	return c
}

// Current returns the current epoch number.
func (c *Clock) Current() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Snapshot returns the full clock state.
func (c *Clock) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{Current: c.current, StartedAt: c.startedAt, Duration: c.duration}
}

// Advance moves the clock one epoch forward. It succeeds only when the
// running epoch's duration has elapsed; on success the counter increments by
// exactly one and the epoch start resets to now. Callable by any principal.
func (c *Clock) Advance() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	if now.Before(c.startedAt.Add(c.duration)) {
		return c.current, fmt.Errorf("epoch %d started %s ago, duration %s: %w",
			c.current, now.Sub(c.startedAt), c.duration, contracts.ErrEpochNotElapsed)
	}

	c.current++
	prevStart := c.startedAt
	c.startedAt = now

	if c.persist != nil {
		st := State{Current: c.current, StartedAt: c.startedAt, Duration: c.duration}
		if err := c.persist(st); err != nil {
			c.current--
			c.startedAt = prevStart
			return c.current, fmt.Errorf("persist epoch %d: %w", st.Current, err)
		}
	}
	return c.current, nil
}

// SetDuration changes the epoch duration. It applies to the running epoch
// immediately; a shortened duration can make the next Advance legal at once.
func (c *Clock) SetDuration(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("epoch duration must be positive, got %s: %w", d, contracts.ErrInvalidInput)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.duration = d
	return nil
}
