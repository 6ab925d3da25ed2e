package epoch_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronoflux-labs/chronovault/pkg/contracts"
	"github.com/chronoflux-labs/chronovault/pkg/epoch"
)

func TestAdvanceRequiresElapsedDuration(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := epoch.NewClock(time.Hour).WithClock(func() time.Time { return now })

	_, err := c.Advance()
	require.ErrorIs(t, err, contracts.ErrEpochNotElapsed)
	assert.Equal(t, uint64(0), c.Current())

	now = now.Add(time.Hour)
	cur, err := c.Advance()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cur)

	// Immediate second call fails: the start time was reset.
	_, err = c.Advance()
	require.ErrorIs(t, err, contracts.ErrEpochNotElapsed)
	assert.Equal(t, uint64(1), c.Current())
}

func TestAdvanceIsSingleStep(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := epoch.NewClock(time.Hour).WithClock(func() time.Time { return now })

	// Even after many durations have passed, one call advances one epoch.
	now = now.Add(10 * time.Hour)
	cur, err := c.Advance()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cur)

	cur, err = c.Advance()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), cur)
}

func TestSetDuration(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := epoch.NewClock(24 * time.Hour).WithClock(func() time.Time { return now })

	require.ErrorIs(t, c.SetDuration(0), contracts.ErrInvalidInput)

	now = now.Add(time.Minute)
	_, err := c.Advance()
	require.ErrorIs(t, err, contracts.ErrEpochNotElapsed)

	// Shortening the duration makes the pending advance legal.
	require.NoError(t, c.SetDuration(time.Second))
	_, err = c.Advance()
	require.NoError(t, err)

	s := c.Snapshot()
	assert.Equal(t, uint64(1), s.Current)
	assert.Equal(t, time.Second, s.Duration)
	assert.Equal(t, now, s.StartedAt)
}

func TestConcurrentAdvanceAtMostOneSucceeds(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := epoch.NewClock(time.Hour).WithClock(func() time.Time { return now })
	now = now.Add(time.Hour)

	const keepers = 16
	results := make(chan error, keepers)
	for i := 0; i < keepers; i++ {
		go func() {
			_, err := c.Advance()
			results <- err
		}()
	}

	var ok int
	for i := 0; i < keepers; i++ {
		if err := <-results; err == nil {
			ok++
		} else {
			require.ErrorIs(t, err, contracts.ErrEpochNotElapsed)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, uint64(1), c.Current())
}

func TestRestoreRehydratesCounter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	startedAt := now.Add(-30 * time.Minute)
	c := epoch.NewClock(time.Hour).WithClock(func() time.Time { return now })
	c.Restore(7, startedAt)

	assert.Equal(t, uint64(7), c.Current())
	assert.Equal(t, startedAt, c.Snapshot().StartedAt)

	// Only half the restored epoch has elapsed.
	_, err := c.Advance()
	require.ErrorIs(t, err, contracts.ErrEpochNotElapsed)

	now = now.Add(30 * time.Minute)
	cur, err := c.Advance()
	require.NoError(t, err)
	assert.Equal(t, uint64(8), cur)
}

func TestRestoreNeverRegresses(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := epoch.NewClock(time.Hour).WithClock(func() time.Time { return now })
	c.Restore(5, now)
	c.Restore(2, now.Add(time.Hour))
	assert.Equal(t, uint64(5), c.Current())

	// A zero start time keeps the existing epoch start.
	c.Restore(6, time.Time{})
	s := c.Snapshot()
	assert.Equal(t, uint64(6), s.Current)
	assert.Equal(t, now, s.StartedAt)
}

func TestAdvancePersistsState(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var saved []epoch.State
	c := epoch.NewClock(time.Hour).
		WithClock(func() time.Time { return now }).
		WithPersistence(func(s epoch.State) error {
			saved = append(saved, s)
			return nil
		})

	now = now.Add(time.Hour)
	_, err := c.Advance()
	require.NoError(t, err)

	require.Len(t, saved, 1)
	assert.Equal(t, uint64(1), saved[0].Current)
	assert.Equal(t, now, saved[0].StartedAt)
}

func TestAdvanceRollsBackWhenPersistenceFails(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fail := true
	c := epoch.NewClock(time.Hour).
		WithClock(func() time.Time { return now }).
		WithPersistence(func(epoch.State) error {
			if fail {
				return errors.New("disk full")
			}
			return nil
		})

	now = now.Add(time.Hour)
	_, err := c.Advance()
	require.Error(t, err)
	assert.Equal(t, uint64(0), c.Current())

	// The elapsed duration is not consumed; a retry succeeds.
	fail = false
	cur, err := c.Advance()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cur)
}
