// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package protocol

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDecode is returned if a request payload can not be decoded.
	ErrDecode = errors.New("decode payload")

	// ErrEmptyCommand is returned for commands without any argument.
	ErrEmptyCommand = errors.New("empty command")

	// ErrConflictingModes is returned for commands that are both interactive
	// and input-needed.
	ErrConflictingModes = errors.New("command can not be interactive and need input")

	// ErrMalformedResponse is returned if the response framing is broken, e.g.
	// markers out of order or the channel closed mid response.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrTimeout is returned if a response did not arrive within the response
	// timeout.
	ErrTimeout = errors.New("response timeout")

	// ErrIdleTimeout is returned by the guest loop if no request arrived
	// within the idle timeout.
	ErrIdleTimeout = errors.New("idle timeout")

	// ErrSessionEnded is returned by [EndDetector] writes after the end of
	// the interactive session.
	ErrSessionEnded = errors.New("session ended")

	// ErrShutdown is returned if the guest announced its shutdown instead of
	// answering a request.
	ErrShutdown = errors.New("guest is shutting down")

	// ErrGuestPanic is returned if a kernel panic occurred in the guest
	// system.
	ErrGuestPanic = errors.New("guest system panicked")

	// ErrGuestOom is returned if the guest system ran out of memory.
	ErrGuestOom = errors.New("guest system ran out of memory")

	// ErrUnknownChannel is returned for channel kinds that can not be dialed.
	ErrUnknownChannel = errors.New("unknown channel kind")

	// ErrUnknownOutputType is returned for unknown one shot output types.
	ErrUnknownOutputType = errors.New("unknown output type")
)

// GuestError is an error block reported by the guest.
type GuestError struct {
	Message string
}

// Error implements the [error] interface.
func (e *GuestError) Error() string {
	return "guest error: " + strings.TrimSpace(e.Message)
}

// Is implements the [errors.Is] interface.
func (*GuestError) Is(other error) bool {
	_, ok := other.(*GuestError)
	return ok
}

// FramingError describes where a response violated the framing.
type FramingError struct {
	Line  string
	State string
}

// Error implements the [error] interface.
func (e *FramingError) Error() string {
	return fmt.Sprintf("%s: unexpected line %q while %s",
		ErrMalformedResponse.Error(), e.Line, e.State)
}

// Is implements the [errors.Is] interface.
func (*FramingError) Is(other error) bool {
	if _, ok := other.(*FramingError); ok {
		return true
	}

	return other == ErrMalformedResponse //nolint:errorlint,err113
}
