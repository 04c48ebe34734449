// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoInput is returned for input-needed commands if the shared input
	// directory is empty.
	ErrNoInput = errors.New("no input in shared directory")

	// ErrNoConnection is returned for writes without an established
	// connection.
	ErrNoConnection = errors.New("no connection")

	// ErrPortNotFound is returned if the virtio-serial port of the channel
	// does not exist.
	ErrPortNotFound = errors.New("virtio port not found")

	// ErrRuntimeNotReady is returned if the container runtime daemon did not
	// become ready in time.
	ErrRuntimeNotReady = errors.New("container runtime not ready")
)

// CommandError is a failed command of an artifact producing one shot guest.
type CommandError struct {
	ExitCode int
	Output   []byte
}

// Error implements the [error] interface.
func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command exited with code %d", e.ExitCode)
	if out := strings.TrimSpace(string(e.Output)); out != "" {
		msg += ": " + out
	}

	return msg
}

// Is implements the [errors.Is] interface.
func (*CommandError) Is(other error) bool {
	_, ok := other.(*CommandError)
	return ok
}
