// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package initramfs

import (
	"errors"
)

var (
	// ErrNotELFFile is returned if the agent does not have an ELF magic
	// number.
	ErrNotELFFile = errors.New("is not an ELF file")

	// ErrNotStatic is returned if the agent is dynamically linked. The base
	// initramfs can not be relied on to carry its libraries.
	ErrNotStatic = errors.New("agent is not statically linked")

	// ErrArchMismatch is returned if the agent is built for another
	// architecture than the guest.
	ErrArchMismatch = errors.New("agent architecture does not match")

	// ErrFileNotRegular is returned if the source is not a regular file.
	ErrFileNotRegular = errors.New("source is not a regular file")
)
