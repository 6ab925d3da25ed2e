package engine_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronoflux-labs/chronovault/pkg/assets"
	"github.com/chronoflux-labs/chronovault/pkg/condition"
	"github.com/chronoflux-labs/chronovault/pkg/contracts"
	"github.com/chronoflux-labs/chronovault/pkg/delegation"
	"github.com/chronoflux-labs/chronovault/pkg/engine"
	"github.com/chronoflux-labs/chronovault/pkg/entry"
	"github.com/chronoflux-labs/chronovault/pkg/epoch"
	"github.com/chronoflux-labs/chronovault/pkg/mode"
)

// bootEngine assembles an engine over a sqlite store the way the daemon
// does: vault state restored on open, clock and machine persisting their
// transitions back into the store.
func bootEngine(t *testing.T, path string, now *time.Time) (*engine.Engine, *entry.SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	clockFn := func() time.Time { return *now }

	store, err := entry.OpenSQLiteStore(path)
	require.NoError(t, err)

	clk := epoch.NewClock(epochLen).WithClock(clockFn)
	machine := mode.NewMachine(admin)

	st, ok, err := store.LoadVaultState(ctx)
	require.NoError(t, err)
	if ok {
		clk.Restore(st.CurrentEpoch, st.EpochStartedAt)
		machine.Restore(st.Mode)
	} else {
		require.NoError(t, store.SaveVaultState(ctx, entry.VaultState{
			EpochStartedAt: clk.Snapshot().StartedAt,
			Mode:           machine.Mode(),
		}))
	}
	clk.WithPersistence(func(s epoch.State) error {
		return store.SaveClockState(context.Background(), s.Current, s.StartedAt)
	})
	machine.WithPersistence(func(m contracts.Mode) error {
		return store.SaveMode(context.Background(), m)
	})

	conds, err := condition.NewRegistry(admin, oracle)
	require.NoError(t, err)
	conds.WithClock(clockFn)

	bank := assets.NewMemoryBank()
	bank.Mint(alice, "FLUX", 1_000_000)

	eng, err := engine.New(engine.Config{
		Admin:       admin,
		Store:       store,
		Conditions:  conds,
		Delegations: delegation.NewRegistry().WithClock(clockFn),
		Clock:       clk,
		Machine:     machine,
		Transferor:  bank,
		AllowList:   assets.NewAllowList("FLUX"),
	})
	require.NoError(t, err)
	eng.WithClock(clockFn)
	return eng, store
}

func TestRestartKeepsUnlockedEntriesUnlocked(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vault.db")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	eng, store := bootEngine(t, path, &now)
	idx, err := eng.Deposit(ctx, alice, "FLUX", 1000, 3, "")
	require.NoError(t, err)

	for eng.CurrentEpoch() < 3 {
		now = now.Add(epochLen)
		_, err := eng.AdvanceEpoch(ctx, "keeper")
		require.NoError(t, err)
	}

	unlocked, err := eng.IsUnlocked(ctx, alice, idx)
	require.NoError(t, err)
	require.True(t, unlocked)
	require.NoError(t, store.Close())

	eng2, store2 := bootEngine(t, path, &now)
	t.Cleanup(func() { _ = store2.Close() })

	assert.Equal(t, uint64(3), eng2.CurrentEpoch())
	unlocked, err = eng2.IsUnlocked(ctx, alice, idx)
	require.NoError(t, err)
	assert.True(t, unlocked, "entry must stay unlocked across restart")
}

func TestRestartKeepsEpochPhase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vault.db")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	eng, store := bootEngine(t, path, &now)
	now = now.Add(epochLen)
	_, err := eng.AdvanceEpoch(ctx, "keeper")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Restart halfway through epoch 1: the remaining half still has to
	// elapse before the next advance.
	now = now.Add(epochLen / 2)
	eng2, store2 := bootEngine(t, path, &now)
	t.Cleanup(func() { _ = store2.Close() })

	_, err = eng2.AdvanceEpoch(ctx, "keeper")
	require.ErrorIs(t, err, contracts.ErrEpochNotElapsed)

	now = now.Add(epochLen / 2)
	cur, err := eng2.AdvanceEpoch(ctx, "keeper")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), cur)
}

func TestRestartKeepsVaultMode(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vault.db")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	eng, store := bootEngine(t, path, &now)
	require.NoError(t, eng.SetMode(ctx, admin, contracts.ModePaused))
	require.NoError(t, store.Close())

	eng2, store2 := bootEngine(t, path, &now)
	t.Cleanup(func() { _ = store2.Close() })
	assert.Equal(t, contracts.ModePaused, eng2.Mode())
}
