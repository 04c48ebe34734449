// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package orchestrator

import (
	"log/slog"
	"slices"
	"sync"
)

// State is a guest lifecycle state.
type State int

// Lifecycle states.
const (
	StateIdle State = iota
	StatePreparing
	StateBooting
	StateAwaitingReady
	StateReady
	StateExecuting
	StateShuttingDown
	StateTerminated
)

var stateNames = map[State]string{
	StateIdle:          "idle",
	StatePreparing:     "preparing",
	StateBooting:       "booting",
	StateAwaitingReady: "awaiting-ready",
	StateReady:         "ready",
	StateExecuting:     "executing",
	StateShuttingDown:  "shutting-down",
	StateTerminated:    "terminated",
}

// String implements [fmt.Stringer].
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}

	return "unknown"
}

// transitions lists the allowed successors of each state. One shot guests go
// from booting to shutting down directly. Any state but terminated may fail
// into shutting down. A daemon slot can be booted again once terminated.
var transitions = map[State][]State{
	StateIdle:          {StatePreparing},
	StatePreparing:     {StateBooting, StateTerminated},
	StateBooting:       {StateAwaitingReady, StateShuttingDown},
	StateAwaitingReady: {StateReady, StateShuttingDown},
	StateReady:         {StateExecuting, StateShuttingDown},
	StateExecuting:     {StateReady, StateShuttingDown},
	StateShuttingDown:  {StateTerminated},
	StateTerminated:    {StatePreparing},
}

// Machine tracks the lifecycle state of a guest.
type Machine struct {
	mu    sync.Mutex
	state State
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// Transition moves to the given state. It returns a [TransitionError] if
// the transition is not allowed.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(transitions[m.state], to) {
		return &TransitionError{From: m.state, To: to}
	}

	slog.Debug("Guest state changed",
		slog.String("from", m.state.String()),
		slog.String("to", to.String()))

	m.state = to

	return nil
}

// adopt aligns the state with a guest observed from the outside, like a
// daemon booted by another process or one that exited on its own.
func (m *Machine) adopt(running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var to State

	switch {
	case running && (m.state == StateIdle || m.state == StateTerminated):
		to = StateReady
	case !running && m.state >= StateBooting && m.state <= StateExecuting:
		to = StateTerminated
	default:
		return
	}

	slog.Debug("Guest state adopted",
		slog.String("from", m.state.String()),
		slog.String("to", to.String()))

	m.state = to
}

// settle moves through the given states on error and cleanup paths, where
// the original error is returned. Rejected transitions are logged.
func (m *Machine) settle(states ...State) {
	for _, state := range states {
		if err := m.Transition(state); err != nil {
			slog.Warn("Guest state not changed", slog.Any("error", err))
		}
	}
}
