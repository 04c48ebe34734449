// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/aibor/vcontainer/internal/hypervisor"
	"github.com/aibor/vcontainer/internal/orchestrator"
	"github.com/aibor/vcontainer/internal/protocol"
	"github.com/aibor/vcontainer/internal/staging"
	"github.com/aibor/vcontainer/internal/sys"
)

var (
	// ErrDaemonRunning is returned for storage operations that need the
	// state image to be unused.
	ErrDaemonRunning = errors.New("daemon is running, stop it with \"memres stop\" first")

	ErrReadBuildInfo = errors.New("failed to read build info")
	ErrResetArgs     = errors.New("--reset needs exactly one key")
)

// hint returns advice for errors the user can fix.
func hint(err error) string {
	switch {
	case errors.Is(err, staging.ErrVolumesRequireDaemon):
		return "start the daemon with \"memres start\" or enable auto-daemon"
	case errors.Is(err, orchestrator.ErrDaemonNotRunning):
		return "start the daemon with \"memres start\""
	case errors.Is(err, protocol.ErrTimeout):
		return "increase the timeout with --timeout"
	case errors.Is(err, &hypervisor.BlobError{}):
		return "check the blob directory given with --blob-dir"
	case errors.Is(err, sys.ErrArchNotSupported):
		return "supported architectures are x86_64 and aarch64"
	case errors.Is(err, &orchestrator.BootError{}):
		return "rerun with --keep-logs --debug for more details"
	default:
		return ""
	}
}

// handleRunError prints the error and returns the exit code for it.
//
// Non-zero exit codes of guest commands are passed through without message,
// as the command already printed its output.
func handleRunError(err error, stderr io.Writer, name string) int {
	if err == nil {
		return 0
	}

	exitCode, isExitErr := protocol.ExitCodeFrom(err)
	if isExitErr {
		return exitCode
	}

	fmt.Fprintf(stderr, "Error [%s]: %v\n", name, err)

	if advice := hint(err); advice != "" {
		fmt.Fprintf(stderr, "Hint: %s\n", advice)
	}

	return exitCode
}
