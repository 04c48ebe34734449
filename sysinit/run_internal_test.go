// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sysinit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.NotPanics(t, func() {
			run(func(_ error) {}, nil)
		})
	})

	tests := []struct {
		name            string
		funcs           []Func
		expectedErr     error
		expectedCleanup bool
	}{
		{
			name: "without error",
			funcs: []Func{
				func(_ *State) error { return nil },
			},
		},
		{
			name: "with error",
			funcs: []Func{
				func(_ *State) error { return assert.AnError },
			},
			expectedErr: assert.AnError,
		},
		{
			name: "with panic",
			funcs: []Func{
				func(_ *State) error { panic(assert.AnError) },
			},
			expectedErr: assert.AnError,
		},
		{
			name: "with non error panic",
			funcs: []Func{
				func(_ *State) error { panic("boom") },
			},
			expectedErr: ErrPanic,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				called  error
				cleaned bool
			)

			errHandler := func(err error) {
				require.NoError(t, called, "error handler already called")
				called = err
			}

			funcs := append([]Func{
				func(state *State) error {
					state.Cleanup(func() error {
						cleaned = true
						return nil
					})

					return nil
				},
			}, tt.funcs...)

			run(errHandler, funcs)

			require.ErrorIs(t, called, tt.expectedErr)
			assert.True(t, cleaned, "cleanup should always run")
		})
	}
}

func TestRunFuncs(t *testing.T) {
	var calls []int

	err := runFuncs(new(State), []Func{
		func(_ *State) error {
			calls = append(calls, 1)
			return nil
		},
		func(_ *State) error {
			calls = append(calls, 2)
			return assert.AnError
		},
		func(_ *State) error {
			calls = append(calls, 3)
			return nil
		},
	})

	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, []int{1, 2}, calls)
}
