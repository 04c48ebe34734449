// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sys

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyPath is returned if an empty path is given.
	ErrEmptyPath = errors.New("path must not be empty")

	// ErrArchNotSupported is returned if the requested architecture is not
	// supported for the requested operation.
	ErrArchNotSupported = errors.New("architecture not supported")
)

// ArchError is returned if an architecture name can not be parsed.
type ArchError struct {
	Name string
}

// Error implements the [error] interface.
func (e *ArchError) Error() string {
	return fmt.Sprintf("%s: %q (use x86_64, aarch64 or riscv64)",
		ErrArchNotSupported.Error(), e.Name)
}

// Is implements the [errors.Is] interface.
func (*ArchError) Is(other error) bool {
	return other == ErrArchNotSupported //nolint:errorlint,err113
}

// ExecError wraps a failed external command with its captured output.
type ExecError struct {
	Command []string
	Output  []byte
	Err     error
}

// Error implements the [error] interface.
func (e *ExecError) Error() string {
	msg := fmt.Sprintf("%s: %v", strings.Join(e.Command, " "), e.Err)

	if out := strings.TrimSpace(string(e.Output)); out != "" {
		msg += ": " + out
	}

	return msg
}

// Is implements the [errors.Is] interface.
func (*ExecError) Is(other error) bool {
	_, ok := other.(*ExecError)
	return ok
}

// Unwrap implements the [errors.Unwrap] interface.
func (e *ExecError) Unwrap() error {
	return e.Err
}
