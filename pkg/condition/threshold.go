package condition

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/chronoflux-labs/chronovault/pkg/contracts"
)

var allowedOperators = map[string]bool{
	">": true, ">=": true, "<": true, "<=": true, "==": true,
}

// thresholdEvaluator compiles ThresholdSpec comparisons to CEL programs
// once at definition time and caches them per condition ID. The generated
// expressions guard on key presence so a missing fact evaluates to not-met
// rather than erroring.
type thresholdEvaluator struct {
	env      *cel.Env
	mu       sync.RWMutex
	programs map[string]cel.Program
}

func newThresholdEvaluator() (*thresholdEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("facts", cel.MapType(cel.StringType, cel.IntType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &thresholdEvaluator{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// compile builds and caches the program for a condition's comparison spec.
func (e *thresholdEvaluator) compile(id string, spec contracts.ThresholdSpec) error {
	if spec.Key == "" {
		return fmt.Errorf("threshold condition %q: empty fact key: %w", id, contracts.ErrInvalidInput)
	}
	if !allowedOperators[spec.Operator] {
		return fmt.Errorf("threshold condition %q: operator %q not one of > >= < <= ==: %w",
			id, spec.Operator, contracts.ErrInvalidInput)
	}

	expr := fmt.Sprintf("%q in facts && facts[%q] %s %d", spec.Key, spec.Key, spec.Operator, spec.Value)
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("threshold condition %q: compile %q: %w", id, expr, issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return fmt.Errorf("threshold condition %q: program: %w", id, err)
	}

	e.mu.Lock()
	e.programs[id] = prg
	e.mu.Unlock()
	return nil
}

// met evaluates the cached program against the fact map. Any evaluation
// failure reads as not-met.
func (e *thresholdEvaluator) met(id string, facts map[string]int64) bool {
	e.mu.RLock()
	prg, ok := e.programs[id]
	e.mu.RUnlock()
	if !ok {
		return false
	}

	out, _, err := prg.Eval(map[string]any{"facts": facts})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
