// Package audit records structured JSON audit events for every vault
// operation, successful or denied.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chronoflux-labs/chronovault/pkg/contracts"
)

// Outcome is the result classification of an audited action.
type Outcome string

const (
	OutcomeOK     Outcome = "OK"
	OutcomeDenied Outcome = "DENIED"
	OutcomeError  Outcome = "ERROR"
)

// Event is a single structured audit record.
type Event struct {
	ID        string              `json:"id"`
	Actor     contracts.Principal `json:"actor"`
	Action    string              `json:"action"`
	Resource  string              `json:"resource"`
	Outcome   Outcome             `json:"outcome"`
	Timestamp time.Time           `json:"timestamp"`
	Metadata  map[string]any      `json:"metadata,omitempty"`
}

// Logger records audit events.
type Logger interface {
	Record(ctx context.Context, actor contracts.Principal, action, resource string, outcome Outcome, metadata map[string]any) error
}

// logger writes JSON lines to an injected writer.
type logger struct {
	mu     sync.Mutex
	writer io.Writer
	clock  func() time.Time
}

// NewLogger creates a Logger writing to os.Stdout.
func NewLogger() Logger {
	return NewLoggerWithWriter(os.Stdout)
}

// NewLoggerWithWriter creates a Logger writing to the given writer, for
// testing and custom sinks.
func NewLoggerWithWriter(w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	return &logger{writer: w, clock: time.Now}
}

func (l *logger) Record(ctx context.Context, actor contracts.Principal, action, resource string, outcome Outcome, metadata map[string]any) error {
	_ = ctx
	event := Event{
		ID:        uuid.New().String(),
		Actor:     actor,
		Action:    action,
		Resource:  resource,
		Outcome:   outcome,
		Timestamp: l.clock().UTC(),
		Metadata:  metadata,
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.writer.Write(append(raw, '\n'))
	return err
}

// Nop is a Logger that discards everything.
type Nop struct{}

func (Nop) Record(context.Context, contracts.Principal, string, string, Outcome, map[string]any) error {
	return nil
}
