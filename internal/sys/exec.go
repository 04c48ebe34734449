// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sys

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strings"
)

// Executor runs external host tools.
//
// It exists so components shelling out to mkfs, xl, iptables and friends can
// be tested without the tools being installed.
type Executor interface {
	// Run runs the command and returns its combined output. A non-zero exit
	// is returned as [ExecError].
	Run(ctx context.Context, name string, args ...string) ([]byte, error)

	// LookPath reports whether the named tool is available.
	LookPath(name string) (string, error)
}

// HostExecutor is the [Executor] running commands on the host.
type HostExecutor struct{}

var _ Executor = HostExecutor{}

// Run implements [Executor].
func (HostExecutor) Run(
	ctx context.Context,
	name string,
	args ...string,
) ([]byte, error) {
	slog.Debug("Run host command",
		slog.String("command", name+" "+strings.Join(args, " ")))

	var out bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return out.Bytes(), &ExecError{
			Command: append([]string{name}, args...),
			Output:  out.Bytes(),
			Err:     err,
		}
	}

	return out.Bytes(), nil
}

// LookPath implements [Executor].
func (HostExecutor) LookPath(name string) (string, error) {
	return exec.LookPath(name) //nolint:wrapcheck
}
