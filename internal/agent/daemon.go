// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// Defaults of the [RuntimeDaemon].
const (
	DefaultReadyTimeout = 60 * time.Second
	readyPollInterval   = 250 * time.Millisecond
)

// RuntimeDaemon is the background service of runtimes that need one. Docker
// needs dockerd, podman runs daemonless.
type RuntimeDaemon struct {
	// Runtime is the runtime CLI name.
	Runtime string

	// Runner probes the runtime for readiness.
	Runner Runner

	// LogFile receives the daemon output.
	LogFile string

	// ReadyTimeout defaults to [DefaultReadyTimeout].
	ReadyTimeout time.Duration

	cmd  *exec.Cmd
	done chan struct{}
}

// daemonCommand returns the daemon program of the runtime, if any.
func daemonCommand(runtime string) []string {
	if runtime == "docker" {
		return []string{"dockerd", "--host=unix:///var/run/docker.sock"}
	}

	return nil
}

// Start starts the daemon and waits until the runtime answers.
func (d *RuntimeDaemon) Start(ctx context.Context) error {
	args := daemonCommand(d.Runtime)
	if args == nil {
		return nil
	}

	logFile, err := os.OpenFile(d.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open daemon log: %w", err)
	}
	defer logFile.Close()

	//nolint:gosec
	d.cmd = exec.Command(args[0], args[1:]...)
	d.cmd.Stdout = logFile
	d.cmd.Stderr = logFile

	if err := d.cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", args[0], err)
	}

	d.done = make(chan struct{})

	go func() {
		_ = d.cmd.Wait()
		close(d.done)
	}()

	return d.waitReady(ctx)
}

func (d *RuntimeDaemon) waitReady(ctx context.Context) error {
	timeout := d.ReadyTimeout
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		code, err := d.Runner.Run(ctx, []string{d.Runtime, "info"}, io.Discard, io.Discard)
		if err == nil && code == 0 {
			log.Printf("INFO %s ready", d.Runtime)
			return nil
		}

		select {
		case <-d.done:
			return fmt.Errorf("%w: daemon exited, see %s", ErrRuntimeNotReady, d.LogFile)
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrRuntimeNotReady, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Stop terminates the daemon and waits for it to exit, so its storage is
// consistent.
func (d *RuntimeDaemon) Stop(ctx context.Context) error {
	if d.cmd == nil || d.cmd.Process == nil {
		return nil
	}

	if err := d.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal daemon: %w", err)
	}

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		_ = d.cmd.Process.Kill()
		return ctx.Err() //nolint:wrapcheck
	}
}
