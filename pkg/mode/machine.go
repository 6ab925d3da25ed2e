// Package mode holds the vault's global operational state and the gating
// table deciding which operations each mode permits.
package mode

import (
	"fmt"
	"sync"

	"github.com/chronoflux-labs/chronovault/pkg/contracts"
)

// Operation names a gated engine entry point.
type Operation string

const (
	OpDeposit            Operation = "deposit"
	OpInitiateWithdrawal Operation = "initiate_withdrawal"
	OpCompleteWithdrawal Operation = "complete_withdrawal"
	OpCancelWithdrawal   Operation = "cancel_withdrawal"
	OpEarlyExit          Operation = "early_exit"
	OpEmergencyRelease   Operation = "emergency_release"
)

// Permits reports whether op is legal in mode m.
//
// Paused and Settling block deposits and new initiations but keep
// completion open: a user who has started exiting is never stuck. Emergency
// permits only the administrative rescue path.
func Permits(m contracts.Mode, op Operation) bool {
	switch m {
	case contracts.ModeActive:
		return op != OpEmergencyRelease
	case contracts.ModePaused, contracts.ModeSettling:
		return op == OpCompleteWithdrawal
	case contracts.ModeEmergency:
		return op == OpEmergencyRelease
	}
	return false
}

// Machine is the single global mode value. Transitions are explicit,
// administrator-only, and any state may move to any other; nothing
// transitions automatically.
type Machine struct {
	mu      sync.RWMutex
	mode    contracts.Mode
	admin   contracts.Principal
	persist func(contracts.Mode) error
}

// NewMachine creates a machine in Active mode.
func NewMachine(admin contracts.Principal) *Machine {
	return &Machine{mode: contracts.ModeActive, admin: admin}
}

// WithPersistence registers a hook that durably records mode transitions.
// The hook runs inside Set under the machine mutex; when it fails the
// transition is rolled back.
func (m *Machine) WithPersistence(save func(contracts.Mode) error) *Machine {
	m.persist = save
	return m
}

// Restore rehydrates the mode from durable state at startup. Invalid
// values are ignored and the machine stays in Active mode.
func (m *Machine) Restore(to contracts.Mode) *Machine {
	if !to.Valid() {
		return m
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = to
	return m
}

// Mode returns the current mode.
func (m *Machine) Mode() contracts.Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// Set transitions to the given mode. Admin-only.
func (m *Machine) Set(caller contracts.Principal, to contracts.Mode) error {
	if caller != m.admin {
		return fmt.Errorf("principal %q may not change the vault mode: %w", caller, contracts.ErrUnauthorized)
	}
	if !to.Valid() {
		return fmt.Errorf("unknown vault mode %q: %w", to, contracts.ErrInvalidInput)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.mode
	m.mode = to
	if m.persist != nil {
		if err := m.persist(to); err != nil {
			m.mode = prev
			return fmt.Errorf("persist vault mode %s: %w", to, err)
		}
	}
	return nil
}

// Require returns ErrInvalidState when op is not permitted in the current
// mode.
func (m *Machine) Require(op Operation) error {
	cur := m.Mode()
	if !Permits(cur, op) {
		return fmt.Errorf("operation %s not permitted in mode %s: %w", op, cur, contracts.ErrInvalidState)
	}
	return nil
}
