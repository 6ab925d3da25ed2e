package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/chronoflux-labs/chronovault/pkg/contracts"
	"github.com/chronoflux-labs/chronovault/pkg/entry"
	"github.com/chronoflux-labs/chronovault/pkg/mode"
	"github.com/chronoflux-labs/chronovault/pkg/penalty"
	"github.com/chronoflux-labs/chronovault/pkg/unlock"
)

// Deposit pulls amount of asset from caller into vault custody and creates
// the entry. The unlock spec is validated before any funds move; a store
// failure after the pull refunds the caller so custody never outruns
// recorded state.
func (e *Engine) Deposit(ctx context.Context, caller contracts.Principal, asset string, amount, lockUntilEpoch uint64, conditionID string) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	resource := "vault/" + asset
	if err := e.machine.Require(mode.OpDeposit); err != nil {
		e.deny(ctx, caller, string(mode.OpDeposit), resource, err)
		return 0, err
	}
	if !e.allowList.Contains(asset) {
		err := fmt.Errorf("asset %q is not allow-listed: %w", asset, contracts.ErrInvalidInput)
		e.deny(ctx, caller, string(mode.OpDeposit), resource, err)
		return 0, err
	}

	currentEpoch := e.clock.Current()
	ent := &contracts.Entry{
		Owner:              caller,
		Asset:              asset,
		Amount:             amount,
		LockUntilEpoch:     lockUntilEpoch,
		ReleaseConditionID: conditionID,
		CreatedAt:          e.now(),
	}
	if err := e.validateEntry(ent, currentEpoch); err != nil {
		e.deny(ctx, caller, string(mode.OpDeposit), resource, err)
		return 0, err
	}

	if err := e.transferor.TransferIn(ctx, caller, asset, amount); err != nil {
		e.deny(ctx, caller, string(mode.OpDeposit), resource, err)
		return 0, err
	}

	index, err := e.store.Create(ctx, ent, currentEpoch)
	if err != nil {
		// Funds were already pulled: hand them back before surfacing the
		// failure.
		if rerr := e.transferor.TransferOut(ctx, caller, asset, amount); rerr != nil {
			e.logger.ErrorContext(ctx, "deposit refund failed after store error",
				"owner", caller, "asset", asset, "amount", amount, "error", rerr)
		}
		e.deny(ctx, caller, string(mode.OpDeposit), resource, err)
		return 0, err
	}

	e.record(ctx, contracts.EventDeposited, caller, string(mode.OpDeposit), entryResource(caller, index), map[string]any{
		"owner": string(caller), "index": index, "asset": asset, "amount": amount,
		"lock_until_epoch": lockUntilEpoch, "release_condition_id": conditionID,
	})
	e.logger.InfoContext(ctx, "deposit accepted",
		"owner", caller, "index", index, "asset", asset, "amount", amount)
	return index, nil
}

// validateEntry mirrors the store-side validation so rejections happen
// before the transfer pull.
func (e *Engine) validateEntry(ent *contracts.Entry, currentEpoch uint64) error {
	return entry.Validate(ent, currentEpoch)
}

// InitiateWithdrawal records withdrawal intent for an unlocked entry and
// fixes the payable amount. No assets move: settlement is CompleteWithdrawal.
func (e *Engine) InitiateWithdrawal(ctx context.Context, caller, owner contracts.Principal, index uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	resource := entryResource(owner, index)
	op := mode.OpInitiateWithdrawal

	if err := e.machine.Require(op); err != nil {
		e.deny(ctx, caller, string(op), resource, err)
		return err
	}
	ent, err := e.authorizedEntry(ctx, caller, owner, index, op)
	if err != nil {
		return err
	}
	if ent.Initiated {
		err := fmt.Errorf("entry %d of %q already initiated: %w", index, owner, contracts.ErrInvalidState)
		e.deny(ctx, caller, string(op), resource, err)
		return err
	}
	if !unlock.IsUnlocked(ent, e.clock.Current(), e.conditions) {
		err := fmt.Errorf("entry %d of %q: %w", index, owner, contracts.ErrNotUnlocked)
		e.deny(ctx, caller, string(op), resource, err)
		return err
	}

	if err := e.store.MarkInitiated(ctx, owner, index, ent.Amount); err != nil {
		e.deny(ctx, caller, string(op), resource, err)
		return err
	}

	e.record(ctx, contracts.EventWithdrawalInitiated, caller, string(op), resource, map[string]any{
		"owner": string(owner), "index": index, "withdrawal_amount": ent.Amount,
	})
	return nil
}

// CompleteWithdrawal settles an initiated withdrawal: the fixed amount is
// paid to the owner and the entry exits. Deliberately permitted in Paused
// and Settling modes so nobody who started exiting gets stuck. The transfer
// runs before the state commit; a failed transfer leaves the entry
// initiated and retryable.
func (e *Engine) CompleteWithdrawal(ctx context.Context, caller, owner contracts.Principal, index uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	resource := entryResource(owner, index)
	op := mode.OpCompleteWithdrawal

	if err := e.machine.Require(op); err != nil {
		e.deny(ctx, caller, string(op), resource, err)
		return err
	}
	ent, err := e.authorizedEntry(ctx, caller, owner, index, op)
	if err != nil {
		return err
	}
	if !ent.Initiated {
		err := fmt.Errorf("entry %d of %q has no initiated withdrawal: %w", index, owner, contracts.ErrInvalidState)
		e.deny(ctx, caller, string(op), resource, err)
		return err
	}

	if err := e.transferor.TransferOut(ctx, owner, ent.Asset, ent.WithdrawalAmount); err != nil {
		e.deny(ctx, caller, string(op), resource, err)
		return err
	}
	if err := e.store.MarkExited(ctx, owner, index, ent.WithdrawalAmount); err != nil {
		e.deny(ctx, caller, string(op), resource, err)
		return err
	}

	e.record(ctx, contracts.EventWithdrawalCompleted, caller, string(op), resource, map[string]any{
		"owner": string(owner), "index": index, "asset": ent.Asset, "paid": ent.WithdrawalAmount,
	})
	e.logger.InfoContext(ctx, "withdrawal completed",
		"owner", owner, "index", index, "asset", ent.Asset, "paid", ent.WithdrawalAmount)
	return nil
}

// CancelWithdrawal returns an initiated entry to the uninitiated state.
func (e *Engine) CancelWithdrawal(ctx context.Context, caller, owner contracts.Principal, index uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	resource := entryResource(owner, index)
	op := mode.OpCancelWithdrawal

	if err := e.machine.Require(op); err != nil {
		e.deny(ctx, caller, string(op), resource, err)
		return err
	}
	ent, err := e.authorizedEntry(ctx, caller, owner, index, op)
	if err != nil {
		return err
	}
	if !ent.Initiated {
		err := fmt.Errorf("entry %d of %q has no initiated withdrawal: %w", index, owner, contracts.ErrInvalidState)
		e.deny(ctx, caller, string(op), resource, err)
		return err
	}

	if err := e.store.ClearInitiated(ctx, owner, index); err != nil {
		e.deny(ctx, caller, string(op), resource, err)
		return err
	}

	e.record(ctx, contracts.EventWithdrawalCancelled, caller, string(op), resource, map[string]any{
		"owner": string(owner), "index": index,
	})
	return nil
}

// EarlyExit withdraws a still-locked entry at a penalty. The payout is
// amount minus the tiered penalty; the penalty stays in vault custody as
// retained value. An entry that is already unlocked must use the normal
// initiate/complete path instead.
func (e *Engine) EarlyExit(ctx context.Context, caller, owner contracts.Principal, index uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	resource := entryResource(owner, index)
	op := mode.OpEarlyExit

	if err := e.machine.Require(op); err != nil {
		e.deny(ctx, caller, string(op), resource, err)
		return err
	}
	ent, err := e.authorizedEntry(ctx, caller, owner, index, op)
	if err != nil {
		return err
	}
	if ent.Initiated {
		err := fmt.Errorf("entry %d of %q already has an initiated withdrawal: %w", index, owner, contracts.ErrInvalidState)
		e.deny(ctx, caller, string(op), resource, err)
		return err
	}

	currentEpoch := e.clock.Current()
	if unlock.IsUnlocked(ent, currentEpoch, e.conditions) {
		err := fmt.Errorf("entry %d of %q is withdrawable through the normal path: %w", index, owner, contracts.ErrAlreadyUnlocked)
		e.deny(ctx, caller, string(op), resource, err)
		return err
	}

	remaining := penalty.EpochsRemaining(ent.LockUntilEpoch, currentEpoch)
	fee := e.penalties.Penalty(ent.Amount, remaining)
	payout := ent.Amount - fee

	if err := e.transferor.TransferOut(ctx, owner, ent.Asset, payout); err != nil {
		e.deny(ctx, caller, string(op), resource, err)
		return err
	}
	if err := e.store.MarkExited(ctx, owner, index, payout); err != nil {
		e.deny(ctx, caller, string(op), resource, err)
		return err
	}
	e.sink.PenaltyRetained(ctx, ent.Asset, fee)

	e.record(ctx, contracts.EventEarlyExited, caller, string(op), resource, map[string]any{
		"owner": string(owner), "index": index, "asset": ent.Asset,
		"paid": payout, "penalty": fee, "epochs_remaining": remaining,
	})
	e.logger.InfoContext(ctx, "early exit",
		"owner", owner, "index", index, "paid", payout, "penalty", fee)
	return nil
}

// Delegate grants operate rights over one of the caller's entries. The
// caller is forced to be the owner; the registry enforces the rest.
func (e *Engine) Delegate(ctx context.Context, caller contracts.Principal, index uint64, delegatee contracts.Principal, validUntil time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	resource := entryResource(caller, index)
	if _, err := e.store.Get(ctx, caller, index); err != nil {
		e.deny(ctx, caller, "delegate", resource, err)
		return err
	}
	if err := e.delegations.Grant(caller, caller, index, delegatee, validUntil); err != nil {
		e.deny(ctx, caller, "delegate", resource, err)
		return err
	}

	e.record(ctx, contracts.EventDelegationGranted, caller, "delegate", resource, map[string]any{
		"owner": string(caller), "index": index, "delegatee": string(delegatee),
		"valid_until": validUntil,
	})
	return nil
}

// RevokeDelegate revokes the delegation on one of the caller's entries.
// Idempotent like the registry underneath.
func (e *Engine) RevokeDelegate(ctx context.Context, caller contracts.Principal, index uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	resource := entryResource(caller, index)
	if err := e.delegations.Revoke(caller, caller, index); err != nil {
		e.deny(ctx, caller, "revoke_delegate", resource, err)
		return err
	}

	e.record(ctx, contracts.EventDelegationRevoked, caller, "revoke_delegate", resource, map[string]any{
		"owner": string(caller), "index": index,
	})
	return nil
}

// AdvanceEpoch is the permissionless keeper entry point. Redundant calls
// fail cleanly with EpochNotElapsed and advance nothing.
func (e *Engine) AdvanceEpoch(ctx context.Context, caller contracts.Principal) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current, err := e.clock.Advance()
	if err != nil {
		return current, err
	}

	e.record(ctx, contracts.EventEpochAdvanced, caller, "advance_epoch", "epoch", map[string]any{
		"epoch": current,
	})
	e.logger.InfoContext(ctx, "epoch advanced", "epoch", current, "keeper", caller)
	return current, nil
}

// authorizedEntry loads the entry, applies the single authorization gate
// and rejects exited entries. Must run under e.mu.
func (e *Engine) authorizedEntry(ctx context.Context, caller, owner contracts.Principal, index uint64, op mode.Operation) (*contracts.Entry, error) {
	resource := entryResource(owner, index)

	if !e.delegations.IsAuthorized(caller, owner, index) {
		err := fmt.Errorf("principal %q may not operate entry %d of %q: %w", caller, index, owner, contracts.ErrUnauthorized)
		e.deny(ctx, caller, string(op), resource, err)
		return nil, err
	}

	ent, err := e.store.Get(ctx, owner, index)
	if err != nil {
		e.deny(ctx, caller, string(op), resource, err)
		return nil, err
	}
	if ent.Exited {
		err := fmt.Errorf("entry %d of %q already exited: %w", index, owner, contracts.ErrInvalidState)
		e.deny(ctx, caller, string(op), resource, err)
		return nil, err
	}
	return ent, nil
}
