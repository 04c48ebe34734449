// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned for lifecycle transitions the state
	// machine does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrVMDied is returned if the guest exited before it was ready.
	ErrVMDied = errors.New("guest exited during boot")

	// ErrReadyTimeout is returned if the daemon guest did not answer in
	// time.
	ErrReadyTimeout = errors.New("daemon did not become ready")

	// ErrAlreadyRunning is returned when starting a daemon for a state
	// directory with a running daemon.
	ErrAlreadyRunning = errors.New("daemon already running")

	// ErrDaemonNotRunning is returned for daemon operations without a
	// running daemon.
	ErrDaemonNotRunning = errors.New("daemon not running")

	// ErrLocked is returned if the daemon lock could not be acquired in
	// time.
	ErrLocked = errors.New("daemon is busy")
)

// TransitionError describes a rejected lifecycle transition.
type TransitionError struct {
	From State
	To   State
}

// Error implements the [error] interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

// Is implements the [errors.Is] interface.
func (*TransitionError) Is(other error) bool {
	return other == ErrInvalidTransition
}

// BootError is a failed guest boot. The boot log is kept for inspection.
type BootError struct {
	Err     error
	LogFile string
}

// Error implements the [error] interface.
func (e *BootError) Error() string {
	if e.LogFile == "" {
		return e.Err.Error()
	}

	return fmt.Sprintf("%v (boot log: %s)", e.Err, e.LogFile)
}

// Is implements the [errors.Is] interface.
func (*BootError) Is(other error) bool {
	_, ok := other.(*BootError)
	return ok
}

// Unwrap returns the underlying error.
func (e *BootError) Unwrap() error {
	return e.Err
}
