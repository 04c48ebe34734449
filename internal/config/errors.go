// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownRuntime    = errors.New("unknown runtime")
	ErrUnknownHypervisor = errors.New("unknown hypervisor")
	ErrUnknownKey        = errors.New("unknown configuration key")
	ErrValueOutOfRange   = errors.New("value is outside of range")
	ErrInvalidDuration   = errors.New("invalid duration")
	ErrInvalidInstance   = errors.New("invalid instance name")

	// ErrRegistryConflict is returned if a registry is configured secure and
	// insecure at the same time.
	ErrRegistryConflict = errors.New("registry is configured secure and insecure")
)

// ValueError describes an invalid value for a configuration key.
type ValueError struct {
	Key   string
	Value string
	Err   error
}

// Error implements the [error] interface.
func (e *ValueError) Error() string {
	return fmt.Sprintf("invalid value %q for %s: %v", e.Value, e.Key, e.Err)
}

// Is implements the [errors.Is] interface.
func (*ValueError) Is(other error) bool {
	_, ok := other.(*ValueError)
	return ok
}

// Unwrap returns the underlying error.
func (e *ValueError) Unwrap() error {
	return e.Err
}
