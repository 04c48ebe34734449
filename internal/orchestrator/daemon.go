// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/aibor/vcontainer/internal/config"
	"github.com/aibor/vcontainer/internal/hypervisor"
	"github.com/aibor/vcontainer/internal/protocol"
	"github.com/aibor/vcontainer/internal/staging"
	"github.com/aibor/vcontainer/internal/sys"
)

const (
	pingTimeout     = 2 * time.Second
	shutdownTimeout = 10 * time.Second
	stopLockTimeout = 5 * time.Second
)

// Daemon is the memory resident guest of a state directory.
type Daemon struct {
	orch    *Orchestrator
	layout  Layout
	runtime config.Runtime
	machine Machine
}

// Daemon returns the [Daemon] of the state directory running the given
// container runtime.
func (o *Orchestrator) Daemon(stateDir string, runtime config.Runtime) *Daemon {
	return &Daemon{orch: o, layout: Layout{Dir: stateDir}, runtime: runtime}
}

// State returns the lifecycle state of the daemon guest as seen by this
// process.
func (d *Daemon) State() State {
	return d.machine.Current()
}

// Layout returns the state directory layout.
func (d *Daemon) Layout() Layout {
	return d.layout
}

// Share returns the host side of the shared directory.
func (d *Daemon) Share() staging.Share {
	return staging.Share{Dir: d.layout.ShareDir(), Exec: d.orch.Exec}
}

// Status returns the running daemon's instance. Identity files of a daemon
// that is gone are removed and [ErrDaemonNotRunning] is returned.
func (d *Daemon) Status() (*hypervisor.Instance, error) {
	inst, err := d.layout.ReadInstance()
	if err != nil {
		return nil, err
	}

	if d.orch.Backend.IsRunning(inst) {
		d.machine.adopt(true)
		return inst, nil
	}

	d.machine.adopt(false)

	slog.Info("Removing stale daemon files", slog.String("state_dir", d.layout.Dir))

	if err := d.layout.Clear(); err != nil {
		slog.Warn("Failed to remove stale daemon files", slog.Any("error", err))
	}

	return nil, ErrDaemonNotRunning
}

// Start boots the daemon guest and waits until it answers pings. Its
// identity is persisted in the state directory and port forwards are set
// up. There is at most one daemon per state directory.
func (d *Daemon) Start(ctx context.Context, sess Session) (*hypervisor.Instance, error) {
	if err := d.layout.Create(); err != nil {
		return nil, err
	}

	unlock, err := d.layout.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := d.Status(); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, d.layout.Dir)
	} else if !errors.Is(err, ErrDaemonNotRunning) {
		return nil, err
	}

	if err := d.machine.Transition(StatePreparing); err != nil {
		return nil, err
	}

	sess.StateDir = d.layout.Dir
	sess.Runtime = d.runtime
	sess.Interactive = false

	spec, err := d.prepare(ctx, sess)
	if err != nil {
		d.machine.settle(StateTerminated)
		return nil, err
	}

	if err := d.machine.Transition(StateBooting); err != nil {
		return nil, err
	}

	inst, err := d.orch.Backend.StartBackground(ctx, spec)
	if err != nil {
		d.machine.settle(StateShuttingDown, StateTerminated)
		return nil, &BootError{Err: fmt.Errorf("start guest: %w", err), LogFile: spec.LogFile}
	}

	err = d.machine.Transition(StateAwaitingReady)
	if err == nil {
		err = d.waitReady(ctx, inst)
	}

	if err == nil {
		err = d.machine.Transition(StateReady)
	}

	if err != nil {
		d.machine.settle(StateShuttingDown)

		if destroyErr := d.orch.Backend.Destroy(context.WithoutCancel(ctx), inst); destroyErr != nil {
			slog.Warn("Failed to destroy guest", slog.Any("error", destroyErr))
		}

		d.machine.settle(StateTerminated)

		return nil, err
	}

	if err := d.persist(ctx, inst, sess); err != nil {
		_ = d.stopLocked(context.WithoutCancel(ctx), inst)
		return nil, err
	}

	slog.Info("Daemon started",
		slog.String("state_dir", d.layout.Dir),
		slog.String("hypervisor", inst.Hypervisor),
		slog.String("channel", inst.Channel.String()))

	return inst, nil
}

func (d *Daemon) prepare(ctx context.Context, sess Session) (hypervisor.StartSpec, error) {
	share := d.layout.ShareDir()

	// Markers of an earlier daemon are stale.
	if err := os.RemoveAll(share); err != nil {
		return hypervisor.StartSpec{}, fmt.Errorf("clear share: %w", err)
	}

	if err := d.layout.Create(); err != nil {
		return hypervisor.StartSpec{}, err
	}

	prep, err := d.orch.prepare(ctx, sess, d.layout.RunDir())
	if err != nil {
		return hypervisor.StartSpec{}, err
	}

	shareOpts, err := d.orch.Backend.BuildShareOptions(share, protocol.ShareTag)
	if err != nil {
		return hypervisor.StartSpec{}, fmt.Errorf("share options: %w", err)
	}

	channelOpts, endpoint, err := d.orch.Backend.BuildDaemonChannelOptions(d.layout.RunDir())
	if err != nil {
		return hypervisor.StartSpec{}, fmt.Errorf("channel options: %w", err)
	}

	prep.params.Daemon = true
	prep.params.Share = true
	prep.params.IdleTimeout = sess.IdleTimeout
	prep.params.Channel = endpoint.Kind
	prep.kernelArgs(sess.Runtime)

	prep.spec.Options = append(prep.spec.Options, shareOpts...)
	prep.spec.Options = append(prep.spec.Options, channelOpts...)
	prep.spec.Channel = endpoint
	prep.spec.LogFile = d.layout.LogFile()

	// The log of the previous daemon is replaced.
	if err := sys.RemoveIfExists(prep.spec.LogFile); err != nil {
		return hypervisor.StartSpec{}, err //nolint:wrapcheck
	}

	return prep.spec, nil
}

// waitReady pings the guest until it answers. A guest that exits in the
// meantime is a boot failure without retry.
func (d *Daemon) waitReady(ctx context.Context, inst *hypervisor.Instance) error {
	timeout := durationOr(d.orch.ReadyTimeout, DefaultReadyTimeout)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(durationOr(d.orch.ReadyInterval, DefaultReadyInterval))
	defer ticker.Stop()

	for {
		if !d.orch.Backend.IsRunning(inst) {
			return &BootError{Err: ErrVMDied, LogFile: inst.LogFile}
		}

		err := ping(ctx, inst.Channel)
		if err == nil {
			return nil
		}

		slog.Debug("Daemon not ready yet", slog.Any("error", err))

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return &BootError{
					Err:     fmt.Errorf("%w within %s", ErrReadyTimeout, timeout),
					LogFile: inst.LogFile,
				}
			}

			return ctx.Err() //nolint:wrapcheck
		case <-ticker.C:
		}
	}
}

func ping(ctx context.Context, endpoint protocol.Endpoint) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	client, err := protocol.Dial(ctx, endpoint)
	if err != nil {
		return err //nolint:wrapcheck
	}
	defer client.Close()

	return client.Ping(ctx) //nolint:wrapcheck
}

func (d *Daemon) persist(ctx context.Context, inst *hypervisor.Instance, sess Session) error {
	if err := d.layout.WriteInstance(inst); err != nil {
		return err
	}

	if err := d.layout.Touch(); err != nil {
		return err
	}

	if len(sess.Forwards) > 0 {
		if err := d.orch.Backend.SetupPortForwards(ctx, inst, sess.Forwards); err != nil {
			return fmt.Errorf("set up port forwards: %w", err)
		}

		// The backend may have discovered the guest address.
		if err := d.layout.WriteInstance(inst); err != nil {
			return err
		}
	}

	if sess.IdleTimeout <= 0 || d.orch.SpawnWatchdog == nil {
		return nil
	}

	pid, err := d.orch.SpawnWatchdog(d.layout.Dir)
	if err != nil {
		return fmt.Errorf("spawn watchdog: %w", err)
	}

	return sys.WritePIDFile(d.layout.WatchdogPIDFile(), pid) //nolint:wrapcheck
}

// client runs fn with a client connected to the daemon while holding the
// daemon lock. The activity is touched if fn succeeds.
func (d *Daemon) client(ctx context.Context, fn func(*protocol.Client) error) error {
	inst, err := d.Status()
	if err != nil {
		return err
	}

	unlock, err := d.layout.Lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := d.machine.Transition(StateExecuting); err != nil {
		return err
	}
	defer d.machine.settle(StateReady)

	client, err := protocol.Dial(ctx, inst.Channel)
	if err != nil {
		return fmt.Errorf("connect daemon: %w", err)
	}
	defer client.Close()

	if err := fn(client); err != nil {
		return err
	}

	if err := d.layout.Touch(); err != nil {
		slog.Warn("Failed to record activity", slog.Any("error", err))
	}

	return nil
}

// Send sends the command to the daemon.
func (d *Daemon) Send(ctx context.Context, cmd protocol.Command) (*protocol.Response, error) {
	var response *protocol.Response

	err := d.client(ctx, func(client *protocol.Client) error {
		var err error

		response, err = client.Send(ctx, cmd)

		return err //nolint:wrapcheck
	})

	return response, err
}

// SendWithInput stages input into the shared directory and sends the
// command. The [protocol.InputPlaceholder] in the command is replaced with
// the guest path of the staged input.
func (d *Daemon) SendWithInput(
	ctx context.Context,
	cmd protocol.Command,
	input string,
) (*protocol.Response, error) {
	var response *protocol.Response

	err := d.client(ctx, func(client *protocol.Client) error {
		if err := d.Share().StageInput(input); err != nil {
			return err //nolint:wrapcheck
		}

		cmd.NeedsInput = true

		var err error

		response, err = client.Send(ctx, cmd)

		return err //nolint:wrapcheck
	})

	return response, err
}

// Interactive runs the command on a guest pseudo-terminal connected to stdin
// and stdout and returns its exit code.
func (d *Daemon) Interactive(
	ctx context.Context,
	cmd protocol.Command,
	stdin io.Reader,
	stdout io.Writer,
) (int, error) {
	var code int

	err := d.client(ctx, func(client *protocol.Client) error {
		var err error

		code, err = client.Interactive(ctx, cmd, stdin, stdout)

		return err //nolint:wrapcheck
	})

	return code, err
}

// Stop shuts the daemon down. It asks the guest to shut down first and
// stops it through the backend if it does not exit in time. Stopping a
// daemon that is not running only removes stale files.
func (d *Daemon) Stop(ctx context.Context) error {
	inst, err := d.Status()
	if errors.Is(err, ErrDaemonNotRunning) {
		return d.layout.Clear()
	} else if err != nil {
		return err
	}

	lockCtx, cancel := context.WithTimeout(ctx, stopLockTimeout)
	defer cancel()

	// A hanging command must not prevent the stop.
	if unlock, err := d.layout.Lock(lockCtx); err == nil {
		defer unlock()
	} else {
		slog.Warn("Stopping busy daemon", slog.Any("error", err))
	}

	return d.stopLocked(ctx, inst)
}

func (d *Daemon) stopLocked(ctx context.Context, inst *hypervisor.Instance) error {
	backend := d.orch.Backend

	d.machine.settle(StateShuttingDown)
	defer d.machine.settle(StateTerminated)

	if err := shutdown(ctx, inst.Channel); err != nil {
		slog.Debug("Shutdown request failed", slog.Any("error", err))
	}

	var errs []error

	if err := backend.CleanupPortForwards(ctx, inst); err != nil {
		errs = append(errs, fmt.Errorf("clean up port forwards: %w", err))
	}

	if !backend.WaitExit(ctx, inst, durationOr(d.orch.GracefulWait, DefaultGracefulWait)) {
		if err := backend.Stop(ctx, inst); err != nil {
			errs = append(errs, fmt.Errorf("stop guest: %w", err))
		}
	}

	d.stopWatchdog()

	errs = append(errs, d.layout.Clear())

	if err := errors.Join(errs...); err != nil {
		return err
	}

	slog.Info("Daemon stopped", slog.String("state_dir", d.layout.Dir))

	return nil
}

func shutdown(ctx context.Context, endpoint protocol.Endpoint) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	client, err := protocol.Dial(ctx, endpoint)
	if err != nil {
		return err //nolint:wrapcheck
	}
	defer client.Close()

	return client.Shutdown(ctx) //nolint:wrapcheck
}

// stopWatchdog terminates the idle watchdog, unless it is the calling
// process.
func (d *Daemon) stopWatchdog() {
	pid, err := sys.ReadPIDFile(d.layout.WatchdogPIDFile())
	if err != nil || pid == os.Getpid() {
		return
	}

	if err := sys.Signal(pid, unix.SIGTERM); err != nil {
		slog.Warn("Failed to stop watchdog", slog.Int("pid", pid), slog.Any("error", err))
	}
}
