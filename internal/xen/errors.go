// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package xen

import "errors"

var (
	// ErrNativeOnly is returned for architectures other than the host's.
	ErrNativeOnly = errors.New("xen guests must match the host architecture")

	// ErrDuplicateKey is returned if a scalar domain configuration key is set
	// more than once.
	ErrDuplicateKey = errors.New("duplicate domain configuration key")

	// ErrInvalidOption is returned for options not in "key=value" form.
	ErrInvalidOption = errors.New("invalid domain configuration option")

	// ErrNoChannel is returned if the channel PTY did not show up in
	// xenstore.
	ErrNoChannel = errors.New("channel pty not found")
)
