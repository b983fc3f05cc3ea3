// Package agent defines the contract between the engine and the external
// collaborator that performs agent steps. The engine renders the step's
// instruction and inputs, hands them over, and binds whatever comes back into
// the run context.
package agent

import "context"

// Request carries a rendered instruction to an executor.
type Request struct {
	SessionID   string         `json:"session_id"`
	StepName    string         `json:"step_name"`
	Instruction string         `json:"instruction"`
	Config      map[string]any `json:"config,omitempty"`
	Inputs      map[string]any `json:"inputs,omitempty"`
}

// Executor performs the work denoted by an agent step. Implementations may
// return several results, a single nil result, or none at all; the engine
// tolerates all three. When multiple results arrive the last one wins.
type Executor interface {
	Execute(ctx context.Context, req Request) ([]any, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, req Request) ([]any, error)

func (f ExecutorFunc) Execute(ctx context.Context, req Request) ([]any, error) {
	return f(ctx, req)
}

// LastResult reduces an executor's results to the single value the engine
// binds: the last entry, or nil when the slice is empty or ends in nil.
func LastResult(results []any) any {
	if len(results) == 0 {
		return nil
	}
	return results[len(results)-1]
}
