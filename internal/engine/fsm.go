package engine

import (
	"sync"

	"github.com/okonma/flowrail/pkg/schema"
)

// StateMachine tracks one run's lifecycle: INIT, then one named phase state
// per top-level step in definition order, then COMPLETE, with FAILED and
// PAUSED as terminal alternates. Terminal states accept no further
// transitions.
type StateMachine struct {
	mu      sync.Mutex
	current schema.RunState
	phases  map[string]struct{}
}

// NewStateMachine creates a machine in INIT whose valid phase states are the
// given top-level step names.
func NewStateMachine(phaseNames []string) *StateMachine {
	phases := make(map[string]struct{}, len(phaseNames))
	for _, name := range phaseNames {
		phases[name] = struct{}{}
	}
	return &StateMachine{current: schema.RunStateInit, phases: phases}
}

// Current returns the current state.
func (m *StateMachine) Current() schema.RunState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// EnterPhase moves the run into a named phase state. Valid from INIT or
// another phase.
func (m *StateMachine) EnterPhase(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, known := m.phases[name]; !known {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition, "unknown phase %q", name)
	}
	if m.current.IsTerminal() {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"cannot enter phase %q from terminal state %s", name, m.current)
	}
	m.current = schema.RunState(name)
	return nil
}

// Complete moves the run to COMPLETE.
func (m *StateMachine) Complete() error { return m.terminate(schema.RunStateComplete) }

// Fail moves the run to FAILED.
func (m *StateMachine) Fail() error { return m.terminate(schema.RunStateFailed) }

// Pause moves the run to PAUSED (loop escalation or explicit blocker).
func (m *StateMachine) Pause() error { return m.terminate(schema.RunStatePaused) }

func (m *StateMachine) terminate(target schema.RunState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.IsTerminal() {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"cannot move to %s from terminal state %s", target, m.current)
	}
	m.current = target
	return nil
}
