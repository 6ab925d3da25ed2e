// Package contracts defines the shared domain types and the error taxonomy
// for the Chronovault core. Every other package speaks these types; none of
// them redefine vault state shapes locally.
package contracts

import "time"

// Principal is an opaque, comparable identifier for an actor (a depositor,
// a delegatee, an administrator, a condition manager). No structure beyond
// equality is assumed.
type Principal string

// Zero reports whether the principal is the null identifier.
func (p Principal) Zero() bool { return p == "" }

// Entry is a single deposit record with its own unlock rule. Entries are
// append-only per owner: the (owner, index) pair is stable for the lifetime
// of the vault and is never reindexed, because delegations and external
// references key off it.
type Entry struct {
	Owner              Principal `json:"owner"`
	Asset              string    `json:"asset"`
	Amount             uint64    `json:"amount"`
	LockUntilEpoch     uint64    `json:"lock_until_epoch"`               // 0 = no epoch lock
	ReleaseConditionID string    `json:"release_condition_id,omitempty"` // "" = no condition lock
	Initiated          bool      `json:"initiated"`
	Exited             bool      `json:"exited"`
	WithdrawalAmount   uint64    `json:"withdrawal_amount"`
	CreatedAt          time.Time `json:"created_at"`
}

// Active reports whether the entry still holds custody of funds.
func (e *Entry) Active() bool { return !e.Exited }

// ConditionKind is the closed set of condition variants. Dispatch is by
// tag, not by name matching.
type ConditionKind string

const (
	KindEpochReached    ConditionKind = "EPOCH_REACHED"
	KindExternalTrigger ConditionKind = "EXTERNAL_TRIGGER"
	KindThreshold       ConditionKind = "THRESHOLD_COMPARISON"
)

// ThresholdSpec parameterizes a KindThreshold condition: the condition is
// met while the attested fact under Key compares true against Value.
type ThresholdSpec struct {
	Key      string `json:"key"`
	Operator string `json:"operator"` // one of > >= < <= ==
	Value    int64  `json:"value"`
}

// Condition is a named, externally-attested boolean fact. The kind is
// immutable after definition; only Met changes, and only through the
// condition's manager.
type Condition struct {
	ID        string         `json:"id"`
	Kind      ConditionKind  `json:"kind"`
	Threshold *ThresholdSpec `json:"threshold,omitempty"` // set iff Kind == KindThreshold
	Met       bool           `json:"met"`
	Manager   Principal      `json:"manager"`
	DefinedAt time.Time      `json:"defined_at"`
}

// Delegation is a time-bounded grant of operate-rights over one entry to a
// secondary principal. It is not an ownership transfer. Expired or revoked
// delegations are inert but kept for audit.
type Delegation struct {
	Owner      Principal `json:"owner"`
	EntryIndex uint64    `json:"entry_index"`
	Delegatee  Principal `json:"delegatee"`
	ValidUntil time.Time `json:"valid_until"`
	Active     bool      `json:"active"`
	GrantedAt  time.Time `json:"granted_at"`
}

// Mode is the global operational state of the vault.
type Mode string

const (
	ModeActive    Mode = "ACTIVE"
	ModePaused    Mode = "PAUSED"
	ModeEmergency Mode = "EMERGENCY"
	ModeSettling  Mode = "SETTLING"
)

// Valid reports whether m is one of the four defined modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeActive, ModePaused, ModeEmergency, ModeSettling:
		return true
	}
	return false
}
