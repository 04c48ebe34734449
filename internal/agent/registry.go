// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"slices"
	"strings"
)

// pullFallback returns the arguments of a pull command without the default
// registry prefix of the image. The host prefixes unqualified images with
// the default registry, so the fallback pulls from the public registry.
func (a *Agent) pullFallback(args []string) ([]string, bool) {
	if a.Registry == "" || len(args) < 3 || args[1] != "pull" {
		return nil, false
	}

	prefix := strings.TrimSuffix(a.Registry, "/") + "/"

	image := args[len(args)-1]

	unprefixed, found := strings.CutPrefix(image, prefix)
	if !found || unprefixed == "" {
		return nil, false
	}

	fallback := slices.Clone(args)
	fallback[len(fallback)-1] = unprefixed

	return fallback, true
}
