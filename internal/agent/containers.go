// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/aibor/vcontainer/internal/protocol"
)

// ContainersRunning asks the runtime if at least one container runs.
func (a *Agent) ContainersRunning(ctx context.Context) bool {
	var output bytes.Buffer

	code, err := a.Runner.Run(ctx, []string{a.Runtime, "ps", "-q"}, &output, io.Discard)
	if err != nil || code != 0 {
		return false
	}

	return len(bytes.TrimSpace(output.Bytes())) > 0
}

// updateContainersMarker maintains the marker file in the shared directory
// the host's idle watchdog reads. The file exists while containers run.
func (a *Agent) updateContainersMarker(ctx context.Context) {
	if a.Runtime == "" || a.ShareDir == "" {
		return
	}

	path := filepath.Join(a.ShareDir, protocol.ContainersRunningMarker)

	if !a.ContainersRunning(ctx) {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Print("WARN remove containers marker: ", err.Error())
		}

		return
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Print("WARN create status dir: ", err.Error())
		return
	}

	if err := os.WriteFile(path, nil, 0o644); err != nil {
		log.Print("WARN write containers marker: ", err.Error())
	}
}
