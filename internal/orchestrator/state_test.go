// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package orchestrator_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aibor/vcontainer/internal/orchestrator"
)

func TestMachine(t *testing.T) {
	tests := []struct {
		name  string
		path  []orchestrator.State
		valid bool
	}{
		{
			name: "daemon lifecycle",
			path: []orchestrator.State{
				orchestrator.StatePreparing,
				orchestrator.StateBooting,
				orchestrator.StateAwaitingReady,
				orchestrator.StateReady,
				orchestrator.StateExecuting,
				orchestrator.StateReady,
				orchestrator.StateShuttingDown,
				orchestrator.StateTerminated,
			},
			valid: true,
		},
		{
			name: "one shot lifecycle",
			path: []orchestrator.State{
				orchestrator.StatePreparing,
				orchestrator.StateBooting,
				orchestrator.StateShuttingDown,
				orchestrator.StateTerminated,
			},
			valid: true,
		},
		{
			name: "failed preparation",
			path: []orchestrator.State{
				orchestrator.StatePreparing,
				orchestrator.StateTerminated,
			},
			valid: true,
		},
		{
			name: "ready before boot",
			path: []orchestrator.State{
				orchestrator.StatePreparing,
				orchestrator.StateReady,
			},
		},
		{
			name: "restart after termination",
			path: []orchestrator.State{
				orchestrator.StatePreparing,
				orchestrator.StateTerminated,
				orchestrator.StatePreparing,
			},
			valid: true,
		},
		{
			name: "ready after termination",
			path: []orchestrator.State{
				orchestrator.StatePreparing,
				orchestrator.StateTerminated,
				orchestrator.StateReady,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				machine orchestrator.Machine
				err     error
			)

			for _, state := range tt.path {
				if err = machine.Transition(state); err != nil {
					break
				}
			}

			if tt.valid {
				require.NoError(t, err)
				assert.Equal(t, tt.path[len(tt.path)-1], machine.Current())

				return
			}

			require.ErrorIs(t, err, orchestrator.ErrInvalidTransition)

			var transitionErr *orchestrator.TransitionError

			require.ErrorAs(t, err, &transitionErr)
			assert.Equal(t, tt.path[len(tt.path)-1], transitionErr.To)
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting-ready", orchestrator.StateAwaitingReady.String())
	assert.Equal(t, "unknown", orchestrator.State(99).String())
}
