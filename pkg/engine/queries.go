package engine

import (
	"context"

	"github.com/chronoflux-labs/chronovault/pkg/contracts"
	"github.com/chronoflux-labs/chronovault/pkg/entry"
	"github.com/chronoflux-labs/chronovault/pkg/epoch"
	"github.com/chronoflux-labs/chronovault/pkg/unlock"
)

// Read-only queries. They take the read side of the engine lock and see a
// consistent snapshot; none of them mutate anything.

// GetEntry returns the entry at (owner, index).
func (e *Engine) GetEntry(ctx context.Context, owner contracts.Principal, index uint64) (*contracts.Entry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Get(ctx, owner, index)
}

// ListEntries returns all of owner's entries, historical ones included.
func (e *Engine) ListEntries(ctx context.Context, owner contracts.Principal) ([]*contracts.Entry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.List(ctx, owner)
}

// IsUnlocked reports whether the entry at (owner, index) is currently
// withdrawable.
func (e *Engine) IsUnlocked(ctx context.Context, owner contracts.Principal, index uint64) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ent, err := e.store.Get(ctx, owner, index)
	if err != nil {
		return false, err
	}
	return unlock.IsUnlocked(ent, e.clock.Current(), e.conditions), nil
}

// CurrentEpoch returns the epoch counter.
func (e *Engine) CurrentEpoch() uint64 {
	return e.clock.Current()
}

// EpochState returns the full epoch clock snapshot.
func (e *Engine) EpochState() epoch.State {
	return e.clock.Snapshot()
}

// Mode returns the vault's operational mode.
func (e *Engine) Mode() contracts.Mode {
	return e.machine.Mode()
}

// Totals returns the running per-asset aggregates.
func (e *Engine) Totals(ctx context.Context, asset string) (entry.Totals, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Totals(ctx, asset)
}

// GetCondition returns a condition definition.
func (e *Engine) GetCondition(id string) (*contracts.Condition, error) {
	return e.conditions.Get(id)
}

// GetDelegation returns the delegation record for (owner, index).
func (e *Engine) GetDelegation(owner contracts.Principal, index uint64) (*contracts.Delegation, error) {
	return e.delegations.Get(owner, index)
}

// AllowedAssets lists the deposit allow-list.
func (e *Engine) AllowedAssets() []string {
	return e.allowList.List()
}
