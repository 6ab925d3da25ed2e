package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chronoflux-labs/chronovault/pkg/penalty"
)

// VaultProfile is the deploy-time description of one vault: who
// administers it, which assets it accepts, how long an epoch runs, and
// the early-exit penalty schedule.
type VaultProfile struct {
	Name             string        `yaml:"name" json:"name"`
	Admin            string        `yaml:"admin" json:"admin"`
	ConditionManager string        `yaml:"condition_manager" json:"condition_manager"`
	EpochDuration    time.Duration `yaml:"epoch_duration" json:"epoch_duration"`
	Assets           []string      `yaml:"assets" json:"assets"`
	PenaltyTiers     []TierConfig  `yaml:"penalty_tiers,omitempty" json:"penalty_tiers,omitempty"`
}

// TierConfig is one penalty tier: entries with at least
// MinEpochsRemaining epochs of lock left pay Basis basis points.
type TierConfig struct {
	MinEpochsRemaining uint64 `yaml:"min_epochs_remaining" json:"min_epochs_remaining"`
	Basis              uint64 `yaml:"basis" json:"basis"`
}

// LoadProfile reads and validates a vault profile YAML.
func LoadProfile(path string) (*VaultProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	var profile VaultProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return &profile, nil
}

// Validate checks the profile for the mistakes that would otherwise
// surface as a broken vault at runtime.
func (p *VaultProfile) Validate() error {
	if p.Admin == "" {
		return fmt.Errorf("admin principal is required")
	}
	if p.ConditionManager == "" {
		return fmt.Errorf("condition_manager principal is required")
	}
	if p.EpochDuration <= 0 {
		return fmt.Errorf("epoch_duration must be positive, got %s", p.EpochDuration)
	}
	if len(p.Assets) == 0 {
		return fmt.Errorf("at least one asset is required")
	}
	for i, t := range p.PenaltyTiers {
		if t.Basis > 10000 {
			return fmt.Errorf("penalty tier %d: basis %d exceeds 10000 (100%%)", i, t.Basis)
		}
		if i > 0 && t.MinEpochsRemaining >= p.PenaltyTiers[i-1].MinEpochsRemaining {
			return fmt.Errorf("penalty tiers must be ordered by decreasing min_epochs_remaining")
		}
	}
	return nil
}

// PenaltyPolicy builds the penalty schedule from the profile, falling
// back to the default tiers when none are configured.
func (p *VaultProfile) PenaltyPolicy() penalty.Policy {
	if len(p.PenaltyTiers) == 0 {
		return penalty.Default
	}
	tiers := make([]penalty.Tier, len(p.PenaltyTiers))
	for i, t := range p.PenaltyTiers {
		tiers[i] = penalty.Tier{MinEpochsRemaining: t.MinEpochsRemaining, Basis: t.Basis}
	}
	return penalty.NewPolicy(tiers)
}
