package assets_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronoflux-labs/chronovault/pkg/assets"
	"github.com/chronoflux-labs/chronovault/pkg/contracts"
)

func TestMemoryBankRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := assets.NewMemoryBank()
	b.Mint("alice", "FLUX", 1000)

	require.NoError(t, b.TransferIn(ctx, "alice", "FLUX", 400))
	assert.Equal(t, uint64(600), b.Balance("alice", "FLUX"))
	assert.Equal(t, uint64(400), b.Custody("FLUX"))

	require.NoError(t, b.TransferOut(ctx, "alice", "FLUX", 400))
	assert.Equal(t, uint64(1000), b.Balance("alice", "FLUX"))
	assert.Equal(t, uint64(0), b.Custody("FLUX"))
}

func TestMemoryBankInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	b := assets.NewMemoryBank()
	b.Mint("alice", "FLUX", 10)

	err := b.TransferIn(ctx, "alice", "FLUX", 11)
	require.ErrorIs(t, err, assets.ErrInsufficientBalance)
	require.ErrorIs(t, err, contracts.ErrTransferFailed)
	assert.Equal(t, uint64(10), b.Balance("alice", "FLUX"), "failed transfer moves nothing")

	err = b.TransferOut(ctx, "alice", "FLUX", 1)
	require.ErrorIs(t, err, assets.ErrInsufficientBalance)
}

func TestAllowList(t *testing.T) {
	l := assets.NewAllowList("FLUX")

	assert.True(t, l.Contains("FLUX"))
	assert.False(t, l.Contains("CHRONO"))

	require.NoError(t, l.Allow("CHRONO"))
	require.NoError(t, l.Allow("CHRONO"), "re-allow is a no-op")
	assert.True(t, l.Contains("CHRONO"))

	l.Disallow("FLUX")
	l.Disallow("FLUX")
	assert.False(t, l.Contains("FLUX"))

	assert.Equal(t, []string{"CHRONO"}, l.List())

	require.ErrorIs(t, l.Allow(""), contracts.ErrInvalidInput)
}
