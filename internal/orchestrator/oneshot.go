// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aibor/vcontainer/internal/config"
	"github.com/aibor/vcontainer/internal/hypervisor"
	"github.com/aibor/vcontainer/internal/protocol"
)

// RunOneShot boots a guest that runs the session's command and returns its
// result.
//
// Background sessions are monitored through the console log until the
// completion marker of the output type shows up, the guest exits or the
// session timeout expires. Interactive sessions run in the foreground with
// the console connected to stdio. The console log is kept if the session
// fails.
func (o *Orchestrator) RunOneShot(
	ctx context.Context,
	sess Session,
	stdio hypervisor.IO,
) (result *protocol.Result, err error) {
	if sess.Output == "" {
		sess.Output = protocol.OutputText
	}

	machine := &Machine{}
	if err := machine.Transition(StatePreparing); err != nil {
		return nil, err
	}

	payload, err := protocol.Command{Args: sess.Args}.Payload()
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	workDir, err := o.workDir()
	if err != nil {
		return nil, err
	}

	logFile := filepath.Join(workDir, consoleName)

	defer func() {
		if err != nil || sess.KeepLogs {
			kept := o.keepLog(logFile)
			if err != nil {
				err = withBootLog(err, kept)
			} else if kept != "" {
				slog.Info("Console log kept", slog.String("path", kept))
			}
		}

		if rmErr := os.RemoveAll(workDir); rmErr != nil {
			slog.Warn("Failed to remove work directory",
				slog.String("path", workDir),
				slog.Any("error", rmErr))
		}
	}()

	prep, err := o.prepare(ctx, sess, workDir)
	if err != nil {
		machine.settle(StateTerminated)
		return nil, err
	}

	prep.params.Command = payload
	prep.kernelArgs(sess.Runtime)

	if sess.Interactive {
		return o.runForeground(ctx, machine, prep.spec, stdio)
	}

	return o.runBackground(ctx, machine, prep.spec, sess)
}

func (o *Orchestrator) runBackground(
	ctx context.Context,
	machine *Machine,
	spec hypervisor.StartSpec,
	sess Session,
) (*protocol.Result, error) {
	monitor, err := protocol.NewMonitor(sess.Output)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	if err := machine.Transition(StateBooting); err != nil {
		return nil, err
	}

	inst, err := o.Backend.StartBackground(ctx, spec)
	if err != nil {
		machine.settle(StateShuttingDown, StateTerminated)

		return nil, &BootError{Err: fmt.Errorf("start guest: %w", err)}
	}

	slog.Debug("One shot guest started",
		slog.String("hypervisor", inst.Hypervisor),
		slog.String("id", inst.ID))

	console := &consoleLog{path: spec.LogFile}
	defer console.Close()

	timeout := durationOr(sess.Timeout, config.DefaultTimeout)
	waitErr := o.awaitResult(ctx, inst, console, monitor, timeout)

	o.terminate(ctx, machine, inst)

	if waitErr != nil {
		return nil, waitErr
	}

	return monitor.Result() //nolint:wrapcheck
}

// awaitResult polls the console log until the monitor is done.
func (o *Orchestrator) awaitResult(
	ctx context.Context,
	inst *hypervisor.Instance,
	console *consoleLog,
	monitor *protocol.Monitor,
	timeout time.Duration,
) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(durationOr(o.PollInterval, DefaultPollInterval))
	defer ticker.Stop()

	for {
		done, err := console.feed(monitor)
		if err != nil {
			return err
		}

		if done {
			return nil
		}

		if !o.Backend.IsRunning(inst) {
			// The guest may have written its last lines right before it
			// exited.
			if done, err := console.feed(monitor); err != nil || done {
				return err
			}

			if _, err := monitor.Result(); errors.Is(err, &protocol.GuestError{}) {
				return err //nolint:wrapcheck
			}

			return &BootError{Err: fmt.Errorf("%w without result", ErrVMDied)}
		}

		select {
		case <-timeoutCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err() //nolint:wrapcheck
			}

			return fmt.Errorf("%w: no %s result within %s",
				protocol.ErrTimeout, monitor.Output(), timeout)
		case <-ticker.C:
		}
	}
}

// terminate waits for the guest to power off and stops it if it does not.
// It runs even if the context is canceled.
func (o *Orchestrator) terminate(
	ctx context.Context,
	machine *Machine,
	inst *hypervisor.Instance,
) {
	ctx = context.WithoutCancel(ctx)

	machine.settle(StateShuttingDown)

	if !o.Backend.WaitExit(ctx, inst, durationOr(o.GracefulWait, DefaultGracefulWait)) {
		slog.Debug("Guest still running, stopping it", slog.String("id", inst.ID))

		if err := o.Backend.Stop(ctx, inst); err != nil {
			slog.Warn("Failed to stop guest",
				slog.String("id", inst.ID),
				slog.Any("error", err))
		}
	}

	machine.settle(StateTerminated)
}

func (o *Orchestrator) runForeground(
	ctx context.Context,
	machine *Machine,
	spec hypervisor.StartSpec,
	stdio hypervisor.IO,
) (*protocol.Result, error) {
	if err := machine.Transition(StateBooting); err != nil {
		return nil, err
	}

	drain := &endDrain{detector: protocol.NewEndDetector(stdio.Stdout)}

	err := o.Backend.StartForeground(ctx, spec, hypervisor.IO{
		Stdin:  stdio.Stdin,
		Stdout: drain,
		Stderr: stdio.Stderr,
	})

	machine.settle(StateShuttingDown, StateTerminated)

	if drain.detector.Done() {
		return &protocol.Result{ExitCode: drain.detector.Code()}, nil
	}

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err() //nolint:wrapcheck
		}

		return nil, &BootError{Err: fmt.Errorf("run guest: %w", err)}
	}

	return nil, fmt.Errorf("%w: guest exited without exit code", protocol.ErrMalformedResponse)
}
