// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package staging

import "errors"

var (
	// ErrVolumesRequireDaemon is returned for volume mounts in one shot mode.
	// Only the daemon has the shared directory attached.
	ErrVolumesRequireDaemon = errors.New("volume mounts require daemon mode")

	// ErrInvalidVolume is returned for malformed volume specs.
	ErrInvalidVolume = errors.New("invalid volume spec")

	// ErrInvalidPublish is returned for malformed port publish specs.
	ErrInvalidPublish = errors.New("invalid publish spec")

	// ErrMalformedRegistry is returned for unparsable port registry lines.
	ErrMalformedRegistry = errors.New("malformed port registry")
)
