//go:build property
// +build property

// Property-based tests for the penalty policy.
package penalty_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/chronoflux-labs/chronovault/pkg/penalty"
)

// TestPenaltyMonotone verifies the policy invariant: the penalty never
// increases as the unlock boundary approaches.
func TestPenaltyMonotone(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("penalty non-increasing as epochs remaining shrink", prop.ForAll(
		func(amount uint64, remaining uint64) bool {
			if remaining == 0 {
				return true
			}
			closer := penalty.Default.Penalty(amount, remaining-1)
			farther := penalty.Default.Penalty(amount, remaining)
			return closer <= farther
		},
		gen.UInt64Range(0, 1<<40),
		gen.UInt64Range(0, 100),
	))

	properties.Property("penalty bounded by amount", prop.ForAll(
		func(amount uint64, remaining uint64) bool {
			return penalty.Default.Penalty(amount, remaining) <= amount
		},
		gen.UInt64Range(0, 1<<40),
		gen.UInt64Range(0, 100),
	))

	properties.TestingRun(t)
}
