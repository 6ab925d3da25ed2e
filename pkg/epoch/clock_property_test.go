//go:build property
// +build property

// Property-based tests for the epoch clock.
package epoch_test

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/chronoflux-labs/chronovault/pkg/epoch"
)

// TestEpochMonotone drives a clock with random elapsed intervals and
// verifies the counter never regresses and only moves in single steps.
func TestEpochMonotone(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("epoch never regresses, advances one step at a time", prop.ForAll(
		func(stepsMinutes []int64) bool {
			now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			clock := epoch.NewClock(time.Hour).WithClock(func() time.Time { return now })

			prev := clock.Current()
			for _, m := range stepsMinutes {
				now = now.Add(time.Duration(m) * time.Minute)
				cur, err := clock.Advance()
				switch {
				case err == nil:
					if cur != prev+1 {
						return false
					}
				case clock.Current() != prev:
					return false
				}
				prev = clock.Current()
			}
			return true
		},
		gen.SliceOf(gen.Int64Range(0, 180)),
	))

	properties.TestingRun(t)
}
