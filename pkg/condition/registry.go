// Package condition stores named release conditions and their attested
// "met" status. Definitions are write-once; only the met flag moves, and
// only through the condition's manager (the oracle/attestor role).
package condition

import (
	"fmt"
	"sync"
	"time"

	"github.com/chronoflux-labs/chronovault/pkg/contracts"
)

// Registry holds condition definitions, their met status and the attested
// fact map consumed by threshold conditions.
type Registry struct {
	mu         sync.RWMutex
	admin      contracts.Principal
	manager    contracts.Principal // default manager for new conditions
	conditions map[string]*contracts.Condition
	facts      map[string]int64
	eval       *thresholdEvaluator
	clock      func() time.Time
}

// NewRegistry creates a registry. admin may define conditions; manager is
// the default attestor assigned to conditions defined without an explicit
// one.
func NewRegistry(admin, manager contracts.Principal) (*Registry, error) {
	eval, err := newThresholdEvaluator()
	if err != nil {
		return nil, err
	}
	return &Registry{
		admin:      admin,
		manager:    manager,
		conditions: make(map[string]*contracts.Condition),
		facts:      make(map[string]int64),
		eval:       eval,
		clock:      time.Now,
	}, nil
}

// WithClock overrides the time source for deterministic testing.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

// Define registers a new condition. Admin-only. The kind, and for threshold
// conditions the comparison spec, are immutable afterwards. An empty manager
// assigns the registry default.
func (r *Registry) Define(caller contracts.Principal, id string, kind contracts.ConditionKind, threshold *contracts.ThresholdSpec, manager contracts.Principal) error {
	if caller != r.admin {
		return fmt.Errorf("principal %q may not define conditions: %w", caller, contracts.ErrUnauthorized)
	}
	if id == "" {
		return fmt.Errorf("condition id must not be empty: %w", contracts.ErrInvalidInput)
	}

	switch kind {
	case contracts.KindEpochReached, contracts.KindExternalTrigger:
		if threshold != nil {
			return fmt.Errorf("condition %q: kind %s takes no threshold spec: %w", id, kind, contracts.ErrInvalidInput)
		}
	case contracts.KindThreshold:
		if threshold == nil {
			return fmt.Errorf("condition %q: threshold kind requires a comparison spec: %w", id, contracts.ErrInvalidInput)
		}
	default:
		return fmt.Errorf("unknown condition kind %q: %w", kind, contracts.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conditions[id]; exists {
		return fmt.Errorf("condition id %q already defined: %w", id, contracts.ErrInvalidInput)
	}

	c := &contracts.Condition{
		ID:        id,
		Kind:      kind,
		Manager:   manager,
		DefinedAt: r.clock(),
	}
	if c.Manager.Zero() {
		c.Manager = r.manager
	}
	if kind == contracts.KindThreshold {
		spec := *threshold
		if err := r.eval.compile(id, spec); err != nil {
			return err
		}
		c.Threshold = &spec
		c.Met = r.eval.met(id, r.facts)
	}

	r.conditions[id] = c
	return nil
}

// SetMet attests the met status of a condition. Only the condition's
// manager may call it. For threshold conditions this acts as a manual
// override and holds until the next fact attestation touches the key.
func (r *Registry) SetMet(caller contracts.Principal, id string, met bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conditions[id]
	if !ok {
		return fmt.Errorf("condition %q: %w", id, contracts.ErrNotFound)
	}
	if caller != c.Manager {
		return fmt.Errorf("principal %q is not the manager of condition %q: %w", caller, id, contracts.ErrUnauthorized)
	}
	c.Met = met
	return nil
}

// SetFact attests a fact value and re-evaluates every threshold condition
// keyed on it. Only the registry's default manager may attest facts.
func (r *Registry) SetFact(caller contracts.Principal, key string, value int64) error {
	if caller != r.manager {
		return fmt.Errorf("principal %q may not attest facts: %w", caller, contracts.ErrUnauthorized)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.facts[key] = value
	for id, c := range r.conditions {
		if c.Kind == contracts.KindThreshold && c.Threshold.Key == key {
			c.Met = r.eval.met(id, r.facts)
		}
	}
	return nil
}

// IsMet reports the met status of a defined condition.
func (r *Registry) IsMet(id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conditions[id]
	if !ok {
		return false, fmt.Errorf("condition %q: %w", id, contracts.ErrNotFound)
	}
	return c.Met, nil
}

// Get returns a copy of a condition definition.
func (r *Registry) Get(id string) (*contracts.Condition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conditions[id]
	if !ok {
		return nil, fmt.Errorf("condition %q: %w", id, contracts.ErrNotFound)
	}
	out := *c
	if c.Threshold != nil {
		spec := *c.Threshold
		out.Threshold = &spec
	}
	return &out, nil
}
