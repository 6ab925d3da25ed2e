// Package keeper throttles the external triggers that drive the vault:
// epoch-advance calls and other unauthenticated write traffic. Buckets
// are keyed per actor so a noisy keeper cannot starve the others.
package keeper

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Policy defines the per-actor request budget.
type Policy struct {
	RPM   int
	Burst int
}

// LimiterStore abstracts the storage for rate limiting buckets.
type LimiterStore interface {
	// Allow checks if the actor is allowed to perform an action costing
	// 'cost'. Returns true if allowed, false if rate limited.
	Allow(ctx context.Context, actorID string, policy Policy, cost int) (bool, error)
}

// tokenBucket implements a thread-safe token bucket.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(ratePerSec float64, capacity int) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(capacity),
		capacity:   float64(capacity),
		refillRate: ratePerSec,
		lastRefill: time.Now(),
	}
}

func (tb *tokenBucket) allow(cost int) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()

	tb.tokens = tb.tokens + elapsed*tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now

	if tb.tokens >= float64(cost) {
		tb.tokens -= float64(cost)
		return true
	}
	return false
}

// Check denies when the actor is over budget. A nil store fails closed.
func Check(ctx context.Context, store LimiterStore, actorID string, policy Policy) error {
	if store == nil {
		return fmt.Errorf("keeper limiter: no store configured")
	}

	allowed, err := store.Allow(ctx, actorID, policy, 1)
	if err != nil {
		return fmt.Errorf("keeper limiter check failed: %w", err)
	}
	if !allowed {
		return fmt.Errorf("keeper limiter: rate limit exceeded for %s", actorID)
	}
	return nil
}

// InMemoryLimiterStore for single-instance deployments.
type InMemoryLimiterStore struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
}

func NewInMemoryLimiterStore() *InMemoryLimiterStore {
	return &InMemoryLimiterStore{
		buckets: make(map[string]*tokenBucket),
	}
}

func (s *InMemoryLimiterStore) Allow(ctx context.Context, actorID string, policy Policy, cost int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tb, exists := s.buckets[actorID]
	if !exists {
		rate := float64(policy.RPM) / 60.0
		if rate <= 0 {
			rate = 1
		}
		tb = newTokenBucket(rate, policy.Burst)
		s.buckets[actorID] = tb
	}

	return tb.allow(cost), nil
}
