package unlock_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chronoflux-labs/chronovault/pkg/contracts"
	"github.com/chronoflux-labs/chronovault/pkg/unlock"
)

// fakeConditions is a map-backed ConditionReader. Absent IDs error like the
// real registry.
type fakeConditions map[string]bool

func (f fakeConditions) IsMet(id string) (bool, error) {
	met, ok := f[id]
	if !ok {
		return false, fmt.Errorf("condition %q: %w", id, contracts.ErrNotFound)
	}
	return met, nil
}

func TestEpochLockOnly(t *testing.T) {
	e := &contracts.Entry{LockUntilEpoch: 5}
	conds := fakeConditions{}

	assert.False(t, unlock.IsUnlocked(e, 4, conds))
	assert.True(t, unlock.IsUnlocked(e, 5, conds), "boundary epoch unlocks")
	assert.True(t, unlock.IsUnlocked(e, 6, conds))
}

func TestConditionLockOnly(t *testing.T) {
	e := &contracts.Entry{ReleaseConditionID: "audit-passed"}

	assert.False(t, unlock.IsUnlocked(e, 0, fakeConditions{"audit-passed": false}))
	assert.True(t, unlock.IsUnlocked(e, 0, fakeConditions{"audit-passed": true}))
}

func TestBothLocksMustPass(t *testing.T) {
	e := &contracts.Entry{LockUntilEpoch: 3, ReleaseConditionID: "c"}

	assert.False(t, unlock.IsUnlocked(e, 3, fakeConditions{"c": false}))
	assert.False(t, unlock.IsUnlocked(e, 2, fakeConditions{"c": true}))
	assert.True(t, unlock.IsUnlocked(e, 3, fakeConditions{"c": true}))
}

func TestUndefinedConditionFailsClosed(t *testing.T) {
	e := &contracts.Entry{ReleaseConditionID: "priceAbove100"}

	// The condition was never defined: not an error, just locked.
	assert.False(t, unlock.IsUnlocked(e, 99, fakeConditions{}))
}
