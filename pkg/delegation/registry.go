// Package delegation implements per-entry, time-bounded delegation of
// operate rights. IsAuthorized is the single authorization gate every
// entry-mutating operation in the engine consumes.
package delegation

import (
	"fmt"
	"sync"
	"time"

	"github.com/chronoflux-labs/chronovault/pkg/contracts"
)

type key struct {
	owner contracts.Principal
	index uint64
}

// Registry stores delegations keyed by (owner, entry index). A grant
// overwrites any prior delegation for the pair; expired and revoked
// delegations stay on record but confer nothing.
type Registry struct {
	mu     sync.RWMutex
	grants map[key]*contracts.Delegation
	clock  func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		grants: make(map[key]*contracts.Delegation),
		clock:  time.Now,
	}
}

// WithClock overrides the time source for deterministic testing.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

// Grant delegates operate rights over (owner, index) to delegatee until
// validUntil. Only the owner may grant. Last write wins.
func (r *Registry) Grant(caller, owner contracts.Principal, index uint64, delegatee contracts.Principal, validUntil time.Time) error {
	if caller != owner {
		return fmt.Errorf("principal %q may not delegate entries of %q: %w", caller, owner, contracts.ErrUnauthorized)
	}
	if delegatee.Zero() {
		return fmt.Errorf("delegatee must not be the null principal: %w", contracts.ErrInvalidInput)
	}
	if delegatee == owner {
		return fmt.Errorf("owner %q may not delegate to itself: %w", owner, contracts.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.grants[key{owner, index}] = &contracts.Delegation{
		Owner:      owner,
		EntryIndex: index,
		Delegatee:  delegatee,
		ValidUntil: validUntil,
		Active:     true,
		GrantedAt:  r.clock(),
	}
	return nil
}

// Revoke deactivates the delegation for (owner, index). Only the owner may
// revoke. Revoking an absent or already-inactive delegation is a no-op.
func (r *Registry) Revoke(caller, owner contracts.Principal, index uint64) error {
	if caller != owner {
		return fmt.Errorf("principal %q may not revoke delegations of %q: %w", caller, owner, contracts.ErrUnauthorized)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.grants[key{owner, index}]; ok {
		d.Active = false
	}
	return nil
}

// IsAuthorized reports whether caller may operate on (owner, index): the
// owner always may; a delegatee may while the grant is active and unexpired.
func (r *Registry) IsAuthorized(caller, owner contracts.Principal, index uint64) bool {
	if caller == owner {
		return true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.grants[key{owner, index}]
	if !ok || !d.Active || caller != d.Delegatee {
		return false
	}
	return !r.clock().After(d.ValidUntil)
}

// Get returns a copy of the delegation record for (owner, index).
func (r *Registry) Get(owner contracts.Principal, index uint64) (*contracts.Delegation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.grants[key{owner, index}]
	if !ok {
		return nil, fmt.Errorf("delegation for entry %d of %q: %w", index, owner, contracts.ErrNotFound)
	}
	out := *d
	return &out, nil
}
