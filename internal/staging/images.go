// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package staging

import (
	"slices"
	"strings"
)

// QualifyImage prefixes an unqualified image reference with the registry.
// References are qualified if their first path component looks like a host,
// that is it contains "." or ":" or is "localhost".
func QualifyImage(image, registry string) string {
	if registry == "" || image == "" {
		return image
	}

	first, _, found := strings.Cut(image, "/")
	if found && (strings.ContainsAny(first, ".:") || first == "localhost") {
		return image
	}

	return strings.TrimSuffix(registry, "/") + "/" + image
}

// QualifyImages returns the runtime arguments with the image of pull, run
// and create commands qualified with the registry. Other commands are
// returned unchanged.
func QualifyImages(args []string, registry string) []string {
	if registry == "" {
		return args
	}

	idx := -1

	if start, isRun := IsRunCommand(args); isRun {
		_, idx = scanRunFlags(args, start)
	} else if len(args) > 1 && args[0] == "pull" {
		idx = len(args) - 1
	} else if len(args) > 2 && args[0] == "image" && args[1] == "pull" {
		idx = len(args) - 1
	}

	if idx < 0 || idx >= len(args) || strings.HasPrefix(args[idx], "-") {
		return args
	}

	qualified := slices.Clone(args)
	qualified[idx] = QualifyImage(args[idx], registry)

	return qualified
}
