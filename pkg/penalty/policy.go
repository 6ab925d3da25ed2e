// Package penalty prices early exits. The default table is policy, not law:
// alternative policies may substitute, but penalties must stay monotonically
// non-increasing as the unlock boundary approaches.
package penalty

// Tier charges Basis points of the entry amount while at least
// MinEpochsRemaining epochs stand between now and the epoch lock.
type Tier struct {
	MinEpochsRemaining uint64 `json:"min_epochs_remaining"`
	Basis              uint64 `json:"basis"` // basis points, 10000 = 100%
}

// Policy is an ordered tier table, highest MinEpochsRemaining first. The
// last tier is the floor and also prices entries locked only by an unmet
// condition (zero epochs remaining).
type Policy struct {
	tiers []Tier
}

// Default is the stock 20%/10%/5% table.
var Default = Policy{tiers: []Tier{
	{MinEpochsRemaining: 20, Basis: 2000},
	{MinEpochsRemaining: 10, Basis: 1000},
	{MinEpochsRemaining: 0, Basis: 500},
}}

// NewPolicy builds a policy from a tier table. Tiers are used in the order
// given; callers supply them sorted by MinEpochsRemaining descending.
func NewPolicy(tiers []Tier) Policy {
	return Policy{tiers: tiers}
}

// Tiers returns a copy of the tier table.
func (p Policy) Tiers() []Tier {
	out := make([]Tier, len(p.tiers))
	copy(out, p.tiers)
	return out
}

// EpochsRemaining computes the distance to an entry's epoch lock. Entries
// without an epoch lock, or already past it, have zero epochs remaining.
func EpochsRemaining(lockUntilEpoch, currentEpoch uint64) uint64 {
	if lockUntilEpoch == 0 || currentEpoch >= lockUntilEpoch {
		return 0
	}
	return lockUntilEpoch - currentEpoch
}

// Penalty returns the amount withheld from an early exit of amount with the
// given epochs remaining until the unlock boundary.
func (p Policy) Penalty(amount, epochsRemaining uint64) uint64 {
	for _, t := range p.tiers {
		if epochsRemaining >= t.MinEpochsRemaining {
			return amount * t.Basis / 10000
		}
	}
	return 0
}
