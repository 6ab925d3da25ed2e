package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/chronoflux-labs/chronovault/pkg/contracts"
	"github.com/chronoflux-labs/chronovault/pkg/mode"
)

// DefineCondition registers a release condition. The registry enforces the
// admin check.
func (e *Engine) DefineCondition(ctx context.Context, caller contracts.Principal, id string, kind contracts.ConditionKind, threshold *contracts.ThresholdSpec, manager contracts.Principal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.conditions.Define(caller, id, kind, threshold, manager); err != nil {
		e.deny(ctx, caller, "define_condition", "condition/"+id, err)
		return err
	}
	e.record(ctx, contracts.EventConditionDefined, caller, "define_condition", "condition/"+id, map[string]any{
		"id": id, "kind": string(kind),
	})
	return nil
}

// SetConditionMet attests a condition's met status. Manager-only, enforced
// by the registry.
func (e *Engine) SetConditionMet(ctx context.Context, caller contracts.Principal, id string, met bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.conditions.SetMet(caller, id, met); err != nil {
		e.deny(ctx, caller, "set_condition_met", "condition/"+id, err)
		return err
	}
	e.record(ctx, contracts.EventConditionSet, caller, "set_condition_met", "condition/"+id, map[string]any{
		"id": id, "met": met,
	})
	return nil
}

// AttestFact publishes an oracle fact and re-evaluates the threshold
// conditions keyed on it.
func (e *Engine) AttestFact(ctx context.Context, caller contracts.Principal, key string, value int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.conditions.SetFact(caller, key, value); err != nil {
		e.deny(ctx, caller, "attest_fact", "fact/"+key, err)
		return err
	}
	e.record(ctx, contracts.EventFactAttested, caller, "attest_fact", "fact/"+key, map[string]any{
		"key": key, "value": value,
	})
	return nil
}

// SetEpochDuration changes the epoch duration. Admin-only.
func (e *Engine) SetEpochDuration(ctx context.Context, caller contracts.Principal, d time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.admin {
		err := fmt.Errorf("principal %q may not set the epoch duration: %w", caller, contracts.ErrUnauthorized)
		e.deny(ctx, caller, "set_epoch_duration", "epoch", err)
		return err
	}
	if err := e.clock.SetDuration(d); err != nil {
		e.deny(ctx, caller, "set_epoch_duration", "epoch", err)
		return err
	}
	e.record(ctx, contracts.EventEpochDurationSet, caller, "set_epoch_duration", "epoch", map[string]any{
		"duration": d.String(),
	})
	return nil
}

// SetMode transitions the vault mode. Admin-only, enforced by the machine.
func (e *Engine) SetMode(ctx context.Context, caller contracts.Principal, to contracts.Mode) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	from := e.machine.Mode()
	if err := e.machine.Set(caller, to); err != nil {
		e.deny(ctx, caller, "set_mode", "mode", err)
		return err
	}
	e.record(ctx, contracts.EventModeChanged, caller, "set_mode", "mode", map[string]any{
		"from": string(from), "to": string(to),
	})
	e.logger.InfoContext(ctx, "vault mode changed", "from", from, "to", to, "by", caller)
	return nil
}

// AllowAsset adds an asset to the deposit allow-list. Admin-only.
func (e *Engine) AllowAsset(ctx context.Context, caller contracts.Principal, asset string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.admin {
		err := fmt.Errorf("principal %q may not manage the asset allow-list: %w", caller, contracts.ErrUnauthorized)
		e.deny(ctx, caller, "allow_asset", "asset/"+asset, err)
		return err
	}
	if err := e.allowList.Allow(asset); err != nil {
		e.deny(ctx, caller, "allow_asset", "asset/"+asset, err)
		return err
	}
	e.record(ctx, contracts.EventAssetAllowed, caller, "allow_asset", "asset/"+asset, map[string]any{
		"asset": asset,
	})
	return nil
}

// DisallowAsset removes an asset from the allow-list. Existing entries in
// that asset remain withdrawable. Admin-only.
func (e *Engine) DisallowAsset(ctx context.Context, caller contracts.Principal, asset string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.admin {
		err := fmt.Errorf("principal %q may not manage the asset allow-list: %w", caller, contracts.ErrUnauthorized)
		e.deny(ctx, caller, "disallow_asset", "asset/"+asset, err)
		return err
	}
	e.allowList.Disallow(asset)
	e.record(ctx, contracts.EventAssetDisallowed, caller, "disallow_asset", "asset/"+asset, map[string]any{
		"asset": asset,
	})
	return nil
}

// EmergencyRelease is the administrative rescue path: while the vault is in
// Emergency mode the admin can pay out any non-exited entry at face value,
// ignoring its unlock rule. The transfer still precedes the state commit.
func (e *Engine) EmergencyRelease(ctx context.Context, caller, owner contracts.Principal, index uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	resource := entryResource(owner, index)
	op := mode.OpEmergencyRelease

	if err := e.machine.Require(op); err != nil {
		e.deny(ctx, caller, string(op), resource, err)
		return err
	}
	if caller != e.admin {
		err := fmt.Errorf("principal %q may not perform emergency release: %w", caller, contracts.ErrUnauthorized)
		e.deny(ctx, caller, string(op), resource, err)
		return err
	}

	ent, err := e.store.Get(ctx, owner, index)
	if err != nil {
		e.deny(ctx, caller, string(op), resource, err)
		return err
	}
	if ent.Exited {
		err := fmt.Errorf("entry %d of %q already exited: %w", index, owner, contracts.ErrInvalidState)
		e.deny(ctx, caller, string(op), resource, err)
		return err
	}

	amount := ent.Amount
	if ent.Initiated {
		amount = ent.WithdrawalAmount
	}
	if err := e.transferor.TransferOut(ctx, owner, ent.Asset, amount); err != nil {
		e.deny(ctx, caller, string(op), resource, err)
		return err
	}
	if err := e.store.MarkExited(ctx, owner, index, amount); err != nil {
		e.deny(ctx, caller, string(op), resource, err)
		return err
	}

	e.record(ctx, contracts.EventEmergencyReleased, caller, string(op), resource, map[string]any{
		"owner": string(owner), "index": index, "asset": ent.Asset, "paid": amount,
	})
	e.logger.WarnContext(ctx, "emergency release",
		"owner", owner, "index", index, "asset", ent.Asset, "paid", amount)
	return nil
}
