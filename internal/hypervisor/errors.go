// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package hypervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrNotRunning is returned for operations that need a running guest.
	ErrNotRunning = errors.New("guest is not running")

	// ErrArchNotSetUp is returned if an operation requires a prior
	// [Backend.SetupArch] call.
	ErrArchNotSetUp = errors.New("architecture not set up")

	// ErrInvalidPortForward is returned for unparsable port forward specs.
	ErrInvalidPortForward = errors.New("invalid port forward")

	// ErrTooManyDisks is returned if more disks are given than slots exist.
	ErrTooManyDisks = errors.New("too many disks")

	// ErrStartTimeout is returned if the guest did not come up in time.
	ErrStartTimeout = errors.New("start timeout")

	// ErrNoGuestAddress is returned if the guest address could not be
	// discovered.
	ErrNoGuestAddress = errors.New("guest address not found")
)

// BlobError is returned if a required guest blob is missing.
type BlobError struct {
	Path string
	Hint string
	Err  error
}

// Error implements the [error] interface.
func (e *BlobError) Error() string {
	msg := fmt.Sprintf("missing blob %s: %v", e.Path, e.Err)
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}

	return msg
}

// Is implements the [errors.Is] interface.
func (*BlobError) Is(other error) bool {
	_, ok := other.(*BlobError)
	return ok
}

// Unwrap returns the underlying error.
func (e *BlobError) Unwrap() error {
	return e.Err
}
