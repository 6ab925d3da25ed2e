// Package unlock decides whether an entry is currently withdrawable. The
// predicate is pure: it reads the epoch counter and the condition registry
// and mutates nothing, so it is safe to call from view-only contexts.
package unlock

import "github.com/chronoflux-labs/chronovault/pkg/contracts"

// ConditionReader is the slice of the condition registry the evaluator
// needs.
type ConditionReader interface {
	IsMet(id string) (bool, error)
}

// IsUnlocked reports whether the entry's unlock rule is satisfied at
// currentEpoch. A referenced condition that is undefined (or whose lookup
// fails) reads as not-met: the predicate fails closed instead of erroring,
// so entries never become un-queryable.
func IsUnlocked(e *contracts.Entry, currentEpoch uint64, conds ConditionReader) bool {
	epochOK := e.LockUntilEpoch == 0 || currentEpoch >= e.LockUntilEpoch

	conditionOK := true
	if e.ReleaseConditionID != "" {
		met, err := conds.IsMet(e.ReleaseConditionID)
		conditionOK = err == nil && met
	}

	return epochOK && conditionOK
}
