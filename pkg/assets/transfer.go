// Package assets models the external asset-transfer collaborator and the
// vault's asset allow-list. Transfer mechanics themselves (token semantics,
// settlement) live outside the vault; the engine only needs move-or-fail.
package assets

import (
	"context"
	"errors"
	"fmt"

	"github.com/chronoflux-labs/chronovault/pkg/contracts"
)

// ErrInsufficientBalance is the distinguishable "payer cannot cover the
// amount" transfer failure. It wraps the transfer-failed kind.
var ErrInsufficientBalance = fmt.Errorf("insufficient balance: %w", contracts.ErrTransferFailed)

// Transferor is the external transfer service. Calls are synchronous from
// the vault's perspective: they return success or a failure, with no
// partially applied state.
type Transferor interface {
	// TransferIn pulls amount of asset from the payer into vault custody.
	TransferIn(ctx context.Context, from contracts.Principal, asset string, amount uint64) error
	// TransferOut pays amount of asset from vault custody to the payee.
	TransferOut(ctx context.Context, to contracts.Principal, asset string, amount uint64) error
}

// MemoryBank is an in-process Transferor used by tests and single-node
// deployments. Balances are per (principal, asset); vault custody is a
// separate pool per asset.
type MemoryBank struct {
	balances map[contracts.Principal]map[string]uint64
	custody  map[string]uint64
}

// NewMemoryBank creates an empty bank.
func NewMemoryBank() *MemoryBank {
	return &MemoryBank{
		balances: make(map[contracts.Principal]map[string]uint64),
		custody:  make(map[string]uint64),
	}
}

// Mint credits a principal's balance. Test/bootstrap helper.
func (b *MemoryBank) Mint(p contracts.Principal, asset string, amount uint64) {
	if b.balances[p] == nil {
		b.balances[p] = make(map[string]uint64)
	}
	b.balances[p][asset] += amount
}

// Balance returns a principal's balance in asset.
func (b *MemoryBank) Balance(p contracts.Principal, asset string) uint64 {
	return b.balances[p][asset]
}

// Custody returns the vault pool balance for asset.
func (b *MemoryBank) Custody(asset string) uint64 {
	return b.custody[asset]
}

func (b *MemoryBank) TransferIn(ctx context.Context, from contracts.Principal, asset string, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transfer in aborted: %w", errors.Join(err, contracts.ErrTransferFailed))
	}
	if b.balances[from][asset] < amount {
		return fmt.Errorf("pull %d %s from %q: %w", amount, asset, from, ErrInsufficientBalance)
	}
	b.balances[from][asset] -= amount
	b.custody[asset] += amount
	return nil
}

func (b *MemoryBank) TransferOut(ctx context.Context, to contracts.Principal, asset string, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transfer out aborted: %w", errors.Join(err, contracts.ErrTransferFailed))
	}
	if b.custody[asset] < amount {
		return fmt.Errorf("pay %d %s to %q from custody: %w", amount, asset, to, ErrInsufficientBalance)
	}
	b.custody[asset] -= amount
	if b.balances[to] == nil {
		b.balances[to] = make(map[string]uint64)
	}
	b.balances[to][asset] += amount
	return nil
}
