// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"path/filepath"
	"strings"

	"github.com/aibor/vcontainer/internal/sys"
)

// ProcessHint is what the name the binary was invoked as tells about the
// intended configuration, like "vdkr-aarch64".
type ProcessHint struct {
	Runtime Runtime
	Arch    sys.Arch
}

// ParseProcessName parses the name the binary was invoked as. Unknown names
// result in a zero hint.
func ParseProcessName(name string) ProcessHint {
	base := filepath.Base(name)
	toolName, suffix, _ := strings.Cut(base, "-")

	runtime, err := ParseRuntime(toolName)
	if err != nil || toolName == string(runtime) {
		// Only the tool names are conventions. "docker-aarch64" is
		// someone else's binary.
		return ProcessHint{}
	}

	hint := ProcessHint{Runtime: runtime}

	if arch, err := sys.ParseArch(suffix); err == nil {
		hint.Arch = arch
	}

	return hint
}
