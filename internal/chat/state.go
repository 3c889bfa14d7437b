package chat

import (
	"fmt"
	"sync"
)

// State is the per-turn assistant state visible to the UI.
type State string

const (
	StateIdle     State = "idle"
	StateThinking State = "thinking"
	StateSpeaking State = "speaking"
	// StateErrorAPI is terminal for the turn: entered when completion fails,
	// recovered to idle once the error has been spoken or displayed.
	StateErrorAPI State = "error_api"
)

var transitions = map[State][]State{
	StateIdle:     {StateThinking},
	StateThinking: {StateSpeaking, StateErrorAPI, StateIdle},
	StateSpeaking: {StateIdle, StateErrorAPI},
	StateErrorAPI: {StateSpeaking, StateIdle},
}

// StateMachine tracks the turn state and notifies an observer on change.
// The zero-value machine starts idle.
type StateMachine struct {
	mu       sync.Mutex
	state    State
	onChange func(State)
}

// NewStateMachine creates an idle machine. onChange, if non-nil, fires on
// every successful transition (outside the lock is not guaranteed; keep it cheap).
func NewStateMachine(onChange func(State)) *StateMachine {
	return &StateMachine{state: StateIdle, onChange: onChange}
}

// Current returns the current state.
func (m *StateMachine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves to the target state. Invalid moves return an error and
// leave the state untouched.
func (m *StateMachine) Transition(to State) error {
	m.mu.Lock()
	if m.state == to {
		m.mu.Unlock()
		return nil
	}
	allowed := false
	for _, next := range transitions[m.state] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		from := m.state
		m.mu.Unlock()
		return fmt.Errorf("invalid state transition %s -> %s", from, to)
	}
	m.state = to
	notify := m.onChange
	m.mu.Unlock()

	if notify != nil {
		notify(to)
	}
	return nil
}

// Busy reports whether a turn is currently in flight. New input is suppressed
// while busy; it must never cancel the in-flight turn.
func (m *StateMachine) Busy() bool {
	s := m.Current()
	return s == StateThinking || s == StateSpeaking || s == StateErrorAPI
}
