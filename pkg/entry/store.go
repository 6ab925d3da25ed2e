// Package entry owns the per-owner deposit entry collections. Entry lists
// are append-only and never reindexed: (owner, index) is the stable key the
// delegation registry and external references rely on. Exited entries stay
// on record as history.
//
// Three Store implementations ship: in-memory, SQLite and Postgres. All of
// them maintain per-asset running totals at each mutation site, so
// aggregate reads never scan entries.
package entry

import (
	"context"
	"fmt"
	"time"

	"github.com/chronoflux-labs/chronovault/pkg/contracts"
)

// Totals are the incrementally maintained per-asset aggregates. Deposited
// is active custody (entries not yet exited); Retained accumulates
// early-exit penalties kept by the vault.
type Totals struct {
	Deposited uint64 `json:"deposited"`
	Retained  uint64 `json:"retained"`
}

// Store persists entries. Create and the three Mark/Clear mutators are the
// only writes; entries are never deleted.
type Store interface {
	// Create validates and appends an entry to its owner's list, returning
	// the new stable index.
	Create(ctx context.Context, e *contracts.Entry, currentEpoch uint64) (uint64, error)

	// Get returns a copy of the entry at (owner, index).
	Get(ctx context.Context, owner contracts.Principal, index uint64) (*contracts.Entry, error)

	// List returns copies of all of owner's entries in index order.
	List(ctx context.Context, owner contracts.Principal) ([]*contracts.Entry, error)

	// MarkInitiated records withdrawal intent and fixes the payable amount.
	MarkInitiated(ctx context.Context, owner contracts.Principal, index uint64, withdrawalAmount uint64) error

	// ClearInitiated returns an initiated entry to the uninitiated state.
	ClearInitiated(ctx context.Context, owner contracts.Principal, index uint64) error

	// MarkExited terminates the entry: amount drops to zero atomically with
	// the exited flag, finalAmount is recorded as the paid-out value, and
	// the difference amount-finalAmount accrues to the asset's retained
	// total.
	MarkExited(ctx context.Context, owner contracts.Principal, index uint64, finalAmount uint64) error

	// Totals returns the running aggregates for an asset.
	Totals(ctx context.Context, asset string) (Totals, error)
}

// VaultState is the durable singleton holding service state that lives
// outside the entry rows: the epoch counter, the running epoch's start and
// the operational mode. Entries record lock_until_epoch, so the counter
// must survive restarts with them or unlocked entries would read as locked
// again.
type VaultState struct {
	CurrentEpoch   uint64
	EpochStartedAt time.Time
	Mode           contracts.Mode
}

// StateStore is an optional Store capability implemented by the durable
// backends. LoadVaultState reports false when nothing has been saved yet.
// SaveVaultState seeds or replaces the whole row; the narrower savers
// update only their columns and expect the row to exist.
type StateStore interface {
	LoadVaultState(ctx context.Context) (VaultState, bool, error)
	SaveVaultState(ctx context.Context, st VaultState) error
	SaveClockState(ctx context.Context, current uint64, startedAt time.Time) error
	SaveMode(ctx context.Context, m contracts.Mode) error
}

// Validate checks an entry at creation time against the current epoch.
func Validate(e *contracts.Entry, currentEpoch uint64) error {
	if e.Amount == 0 {
		return fmt.Errorf("deposit amount must be positive: %w", contracts.ErrInvalidInput)
	}
	if e.LockUntilEpoch == 0 && e.ReleaseConditionID == "" {
		return fmt.Errorf("entry needs an epoch lock or a release condition: %w", contracts.ErrInvalidInput)
	}
	if e.LockUntilEpoch != 0 && e.LockUntilEpoch < currentEpoch {
		return fmt.Errorf("epoch lock %d is in the past (current %d): %w",
			e.LockUntilEpoch, currentEpoch, contracts.ErrInvalidInput)
	}
	return nil
}

func notFound(owner contracts.Principal, index uint64) error {
	return fmt.Errorf("entry %d of %q: %w", index, owner, contracts.ErrNotFound)
}

func alreadyExited(owner contracts.Principal, index uint64) error {
	return fmt.Errorf("entry %d of %q already exited: %w", index, owner, contracts.ErrInvalidState)
}
