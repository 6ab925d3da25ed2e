// Package engine composes the vault subsystems behind the public operation
// surface: deposits, the two-phase withdrawal flow, early exits, delegation
// and the epoch keeper path.
//
// The reference execution model is a serialized transaction machine: every
// mutating operation runs under one writer lock and either completes or
// leaves no trace. External transfers happen as the last step before the
// state commit, so a failed transfer never strands partial state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chronoflux-labs/chronovault/pkg/assets"
	"github.com/chronoflux-labs/chronovault/pkg/audit"
	"github.com/chronoflux-labs/chronovault/pkg/condition"
	"github.com/chronoflux-labs/chronovault/pkg/contracts"
	"github.com/chronoflux-labs/chronovault/pkg/delegation"
	"github.com/chronoflux-labs/chronovault/pkg/entry"
	"github.com/chronoflux-labs/chronovault/pkg/epoch"
	"github.com/chronoflux-labs/chronovault/pkg/ledger"
	"github.com/chronoflux-labs/chronovault/pkg/mode"
	"github.com/chronoflux-labs/chronovault/pkg/penalty"
)

// PenaltySink observes penalties the vault retains on early exits. The
// destination of retained value (burn, treasury, redistribution) is a
// policy decision deferred to the sink; the default keeps it in custody and
// only tracks the total.
type PenaltySink interface {
	PenaltyRetained(ctx context.Context, asset string, amount uint64)
}

type nopSink struct{}

func (nopSink) PenaltyRetained(context.Context, string, uint64) {}

// Config wires an Engine.
type Config struct {
	Admin       contracts.Principal
	Store       entry.Store
	Conditions  *condition.Registry
	Delegations *delegation.Registry
	Clock       *epoch.Clock
	Machine     *mode.Machine
	Transferor  assets.Transferor
	AllowList   *assets.AllowList
	Penalties   penalty.Policy
	EventLog    *ledger.Ledger
	Auditor     audit.Logger
	Logger      *slog.Logger
	Sink        PenaltySink
}

// Engine is the vault orchestrator.
type Engine struct {
	mu sync.RWMutex

	admin       contracts.Principal
	store       entry.Store
	conditions  *condition.Registry
	delegations *delegation.Registry
	clock       *epoch.Clock
	machine     *mode.Machine
	transferor  assets.Transferor
	allowList   *assets.AllowList
	penalties   penalty.Policy
	eventLog    *ledger.Ledger
	auditor     audit.Logger
	logger      *slog.Logger
	sink        PenaltySink
	now         func() time.Time
}

// New creates an engine. Store, Conditions, Delegations, Clock, Machine,
// Transferor and AllowList are required.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil || cfg.Conditions == nil || cfg.Delegations == nil ||
		cfg.Clock == nil || cfg.Machine == nil || cfg.Transferor == nil || cfg.AllowList == nil {
		return nil, errors.New("engine: missing required component")
	}

	e := &Engine{
		admin:       cfg.Admin,
		store:       cfg.Store,
		conditions:  cfg.Conditions,
		delegations: cfg.Delegations,
		clock:       cfg.Clock,
		machine:     cfg.Machine,
		transferor:  cfg.Transferor,
		allowList:   cfg.AllowList,
		penalties:   cfg.Penalties,
		eventLog:    cfg.EventLog,
		auditor:     cfg.Auditor,
		logger:      cfg.Logger,
		sink:        cfg.Sink,
		now:         time.Now,
	}
	if len(e.penalties.Tiers()) == 0 {
		e.penalties = penalty.Default
	}
	if e.eventLog == nil {
		e.eventLog = ledger.New()
	}
	if e.auditor == nil {
		e.auditor = audit.Nop{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.sink == nil {
		e.sink = nopSink{}
	}
	return e, nil
}

// WithClock overrides the engine's wall clock for deterministic testing.
// The epoch clock and the delegation registry carry their own overrides.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.now = clock
	return e
}

// EventLog exposes the engine's event ledger for read-only consumers.
func (e *Engine) EventLog() *ledger.Ledger { return e.eventLog }

// record appends to the event ledger and the audit trail. Ledger append
// failures are logged, not propagated: the state mutation already
// committed, and observers must not be able to fail it retroactively.
func (e *Engine) record(ctx context.Context, event contracts.EventType, actor contracts.Principal, action, resource string, data map[string]any) {
	if _, err := e.eventLog.Append(event, actor, data); err != nil {
		e.logger.ErrorContext(ctx, "event ledger append failed", "event", event, "error", err)
	}
	if err := e.auditor.Record(ctx, actor, action, resource, audit.OutcomeOK, data); err != nil {
		e.logger.ErrorContext(ctx, "audit record failed", "action", action, "error", err)
	}
}

// deny audits a rejected mutation attempt.
func (e *Engine) deny(ctx context.Context, actor contracts.Principal, action, resource string, err error) {
	outcome := audit.OutcomeError
	if errors.Is(err, contracts.ErrUnauthorized) {
		outcome = audit.OutcomeDenied
	}
	if aerr := e.auditor.Record(ctx, actor, action, resource, outcome, map[string]any{"error": err.Error()}); aerr != nil {
		e.logger.ErrorContext(ctx, "audit record failed", "action", action, "error", aerr)
	}
}

func entryResource(owner contracts.Principal, index uint64) string {
	return fmt.Sprintf("entry/%s/%d", owner, index)
}
