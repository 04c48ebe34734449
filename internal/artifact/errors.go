// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package artifact

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedInput is returned for input paths that are neither
	// directory nor regular file.
	ErrUnsupportedInput = errors.New("unsupported input")

	// ErrNotOCILayout is returned if a directory is no OCI image layout.
	ErrNotOCILayout = errors.New("not an OCI image layout")

	// ErrInvalidManifest is returned for empty or garbled index and manifest
	// data.
	ErrInvalidManifest = errors.New("invalid OCI manifest")

	// ErrUnsafePath is returned for archive entries escaping the target
	// directory.
	ErrUnsafePath = errors.New("unsafe archive path")

	// ErrNoStateImage is returned if a state image to export does not exist.
	ErrNoStateImage = errors.New("state image does not exist")
)

// PlatformError is returned if an image index has no manifest for the
// requested architecture.
type PlatformError struct {
	Arch      string
	Platforms []string
}

// Error implements the [error] interface.
func (e *PlatformError) Error() string {
	return fmt.Sprintf("no manifest for platform %s, available: %s",
		e.Arch, strings.Join(e.Platforms, ", "))
}

// Is implements the [errors.Is] interface.
func (*PlatformError) Is(other error) bool {
	_, ok := other.(*PlatformError)
	return ok
}
