// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// Runner runs guest commands.
type Runner interface {
	// Run runs the command with the given output streams and returns its
	// exit code. An error is returned only if the command could not be run
	// at all.
	Run(ctx context.Context, args []string, stdout, stderr io.Writer) (int, error)

	// StartTerminal starts the command on a new pseudo-terminal.
	StartTerminal(ctx context.Context, args []string) (Terminal, error)
}

// Terminal is a command running on a pseudo-terminal. Reads return the
// terminal output, writes go to the terminal input.
type Terminal interface {
	io.ReadWriteCloser

	// Wait waits for the command to exit and returns its exit code.
	Wait() (int, error)
}

// ExecRunner is the [Runner] executing programs in the guest.
type ExecRunner struct {
	// Env is the environment of the commands. The agent's environment is
	// used if nil.
	Env []string
}

var _ Runner = ExecRunner{}

// Run implements [Runner].
func (r ExecRunner) Run(
	ctx context.Context,
	args []string,
	stdout, stderr io.Writer,
) (int, error) {
	cmd := r.command(ctx, args)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	return exitCode(cmd.Run())
}

// StartTerminal implements [Runner].
func (r ExecRunner) StartTerminal(ctx context.Context, args []string) (Terminal, error) {
	cmd := r.command(ctx, args)

	// The controlling terminal is set up by pty.Start: the command runs in a
	// new session with the terminal as stdio.
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("start on pty: %w", err)
	}

	return &ptyTerminal{File: ptmx, cmd: cmd}, nil
}

func (r ExecRunner) command(ctx context.Context, args []string) *exec.Cmd {
	//nolint:gosec
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = r.Env
	cmd.Dir = "/"

	return cmd
}

type ptyTerminal struct {
	*os.File
	cmd *exec.Cmd
}

func (t *ptyTerminal) Wait() (int, error) {
	return exitCode(t.cmd.Wait())
}

// exitCode separates regular non-zero exits from errors running the command.
func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}

	return -1, fmt.Errorf("run: %w", err)
}
