package entry_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronoflux-labs/chronovault/pkg/contracts"
	"github.com/chronoflux-labs/chronovault/pkg/entry"
)

var (
	_ entry.StateStore = (*entry.SQLiteStore)(nil)
	_ entry.StateStore = (*entry.PostgresStore)(nil)
)

func TestVaultStateSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vault.db")

	store, err := entry.OpenSQLiteStore(path)
	require.NoError(t, err)

	_, ok, err := store.LoadVaultState(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "fresh database has no state row")

	startedAt := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveVaultState(ctx, entry.VaultState{
		EpochStartedAt: startedAt,
		Mode:           contracts.ModeActive,
	}))
	require.NoError(t, store.SaveClockState(ctx, 3, startedAt.Add(3*time.Hour)))
	require.NoError(t, store.SaveMode(ctx, contracts.ModePaused))
	require.NoError(t, store.Close())

	reopened, err := entry.OpenSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	st, ok, err := reopened.LoadVaultState(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(3), st.CurrentEpoch)
	assert.Equal(t, startedAt.Add(3*time.Hour), st.EpochStartedAt)
	assert.Equal(t, contracts.ModePaused, st.Mode)
}

func TestSaveVaultStateReplacesRow(t *testing.T) {
	ctx := context.Background()
	store, err := entry.OpenSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	startedAt := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	seed := entry.VaultState{EpochStartedAt: startedAt, Mode: contracts.ModeActive}
	require.NoError(t, store.SaveVaultState(ctx, seed))

	seed.CurrentEpoch = 9
	seed.Mode = contracts.ModeEmergency
	require.NoError(t, store.SaveVaultState(ctx, seed))

	st, ok, err := store.LoadVaultState(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(9), st.CurrentEpoch)
	assert.Equal(t, contracts.ModeEmergency, st.Mode)
}
