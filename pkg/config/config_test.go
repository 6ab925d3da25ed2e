package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronoflux-labs/chronovault/pkg/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("VAULT_PROFILE", "")

	cfg := config.Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, "profiles/profile_default.yaml", cfg.ProfilePath)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("DATABASE_URL", "postgres://vault:5432/vault")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "postgres://vault:5432/vault", cfg.DatabaseURL)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
}

const sampleProfile = `
name: mainnet
admin: "treasury-admin"
condition_manager: "oracle"
epoch_duration: 168h
assets:
  - FLUX
  - CHRONO
penalty_tiers:
  - min_epochs_remaining: 20
    basis: 2000
  - min_epochs_remaining: 10
    basis: 1000
  - min_epochs_remaining: 0
    basis: 500
`

func writeProfile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile_test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadProfile(t *testing.T) {
	p, err := config.LoadProfile(writeProfile(t, sampleProfile))
	require.NoError(t, err)

	assert.Equal(t, "mainnet", p.Name)
	assert.Equal(t, "treasury-admin", p.Admin)
	assert.Equal(t, "oracle", p.ConditionManager)
	assert.Equal(t, 168*time.Hour, p.EpochDuration)
	assert.Equal(t, []string{"FLUX", "CHRONO"}, p.Assets)

	policy := p.PenaltyPolicy()
	assert.Len(t, policy.Tiers(), 3)
	assert.Equal(t, uint64(200), policy.Penalty(1000, 25))
}

func TestLoadProfileMissingFile(t *testing.T) {
	_, err := config.LoadProfile("profiles/does_not_exist.yaml")
	require.Error(t, err)
}

func TestProfileValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing admin", "condition_manager: m\nepoch_duration: 1h\nassets: [FLUX]\n"},
		{"missing manager", "admin: a\nepoch_duration: 1h\nassets: [FLUX]\n"},
		{"zero epoch duration", "admin: a\ncondition_manager: m\nassets: [FLUX]\n"},
		{"no assets", "admin: a\ncondition_manager: m\nepoch_duration: 1h\n"},
		{"basis over 100%", "admin: a\ncondition_manager: m\nepoch_duration: 1h\nassets: [FLUX]\npenalty_tiers:\n  - {min_epochs_remaining: 0, basis: 10001}\n"},
		{"unordered tiers", "admin: a\ncondition_manager: m\nepoch_duration: 1h\nassets: [FLUX]\npenalty_tiers:\n  - {min_epochs_remaining: 5, basis: 100}\n  - {min_epochs_remaining: 10, basis: 200}\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.LoadProfile(writeProfile(t, tc.body))
			require.Error(t, err)
		})
	}
}

func TestProfileDefaultPenaltyFallback(t *testing.T) {
	p, err := config.LoadProfile(writeProfile(t,
		"admin: a\ncondition_manager: m\nepoch_duration: 1h\nassets: [FLUX]\n"))
	require.NoError(t, err)
	assert.Equal(t, uint64(50), p.PenaltyPolicy().Penalty(1000, 1), "default 5% floor tier")
}
