// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ExitError is a non-zero exit code of a guest command.
type ExitError int

// Error implements the [error] interface.
func (e ExitError) Error() string {
	return fmt.Sprintf("guest command exited with code %d", int(e))
}

// Is implements the [errors.Is] interface.
func (ExitError) Is(other error) bool {
	_, ok := other.(ExitError)
	return ok
}

// Code returns the exit code as basic int type.
func (e ExitError) Code() int {
	return int(e)
}

// ExitCodeFrom returns an exit code based on the given error and if the error
// was an [ExitError].
//
// If the error is nil, the exit code is 0. If the error is an [ExitError] the
// exit code is the return value of [ExitError.Code]. Otherwise the exit code
// is 1.
func ExitCodeFrom(err error) (int, bool) {
	if err == nil {
		return 0, false
	}

	var exitErr ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code(), true
	}

	return 1, false
}

// FormatExitCode returns the exit code marker line for the given code.
func FormatExitCode(code int) string {
	return fmt.Sprintf(exitCodeFormat, code)
}

// ParseExitCode parses an exit code marker line.
func ParseExitCode(line string) (int, bool) {
	return parseCodeMarker(line, exitCodeFormat)
}

// FormatInteractiveEnd returns the interactive end marker line for the given
// exit code.
func FormatInteractiveEnd(code int) string {
	return fmt.Sprintf(interactiveEndFormat, code)
}

// ParseInteractiveEnd parses an interactive end marker line.
func ParseInteractiveEnd(line string) (int, bool) {
	return parseCodeMarker(line, interactiveEndFormat)
}

// parseCodeMarker matches the whole line against a format with exactly one
// "%d" verb.
func parseCodeMarker(line, format string) (int, bool) {
	prefix, suffix, _ := strings.Cut(format, "%d")

	rest, found := strings.CutPrefix(strings.TrimSpace(line), prefix)
	if !found {
		return 0, false
	}

	digits, found := strings.CutSuffix(rest, suffix)
	if !found {
		return 0, false
	}

	code, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}

	return code, true
}
