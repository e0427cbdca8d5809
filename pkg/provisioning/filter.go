package provisioning

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// EventFilter evaluates destination scoping expressions (CEL) against local
// events during fanout. Compiled programs are cached per expression; a
// destination's filter changes rarely and fanout runs on every event.
type EventFilter struct {
	env      *cel.Env
	mu       sync.RWMutex
	prgCache map[string]cel.Program
}

// NewEventFilter creates a filter environment exposing the event under the
// `event` variable.
func NewEventFilter() (*EventFilter, error) {
	env, err := cel.NewEnv(
		cel.Variable("event", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &EventFilter{
		env:      env,
		prgCache: make(map[string]cel.Program),
	}, nil
}

// Check compiles expr without evaluating it, so the facade can reject broken
// filters at configuration time instead of at fanout. Empty expressions are
// valid and match everything.
func (f *EventFilter) Check(expr string) error {
	if expr == "" {
		return nil
	}
	_, err := f.program(expr)
	return err
}

// Matches evaluates the destination's filter expression against e. An empty
// expression matches every event. Evaluation errors are returned so the
// caller can decide the disposition; fanout treats them as no-match.
func (f *EventFilter) Matches(expr string, e *LocalEvent) (bool, error) {
	if expr == "" {
		return true, nil
	}

	prg, err := f.program(expr)
	if err != nil {
		return false, err
	}

	input := map[string]any{
		"event": map[string]any{
			"id":            e.ID,
			"tenant_id":     e.TenantID,
			"resource_type": string(e.ResourceType),
			"resource_id":   e.ResourceID,
			"kind":          string(e.Kind),
			"snapshot":      e.Snapshot,
		},
	}

	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter expression %q did not evaluate to a boolean", expr)
	}
	return val, nil
}

func (f *EventFilter) program(expr string) (cel.Program, error) {
	f.mu.RLock()
	prg, hit := f.prgCache[expr]
	f.mu.RUnlock()
	if hit {
		return prg, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	// Double check
	if prg, hit = f.prgCache[expr]; hit {
		return prg, nil
	}

	ast, issues := f.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	p, err := f.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	f.prgCache[expr] = p
	return p, nil
}
