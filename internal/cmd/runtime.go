// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"

	"github.com/google/uuid"

	"github.com/aibor/vcontainer/internal/artifact"
	"github.com/aibor/vcontainer/internal/hypervisor"
	"github.com/aibor/vcontainer/internal/orchestrator"
	"github.com/aibor/vcontainer/internal/protocol"
	"github.com/aibor/vcontainer/internal/staging"
)

// shareOutputDir receives files the guest writes for the host, like saved
// image archives.
const shareOutputDir = "output"

func exitStatus(code int) error {
	if code == 0 {
		return nil
	}

	return protocol.ExitError(code)
}

func (a *app) hypervisorIO() hypervisor.IO {
	return hypervisor.IO{
		Stdin:  a.stdio.Stdin,
		Stdout: a.stdio.Stdout,
		Stderr: a.stdio.Stderr,
	}
}

// runtimeCommand runs the arguments with the guest runtime, in the daemon if
// one is running or auto started, otherwise in a one shot guest.
func (a *app) runtimeCommand(ctx context.Context, args []string) error {
	if a.cfg.Registry != "" {
		args = staging.QualifyImages(args, a.cfg.Registry)
	}

	orch := a.orchestrator()

	daemon, err := a.activeDaemon(ctx, orch)
	if err != nil {
		return err
	}

	interactive := staging.TerminalRequested(args)
	if interactive {
		restore, err := rawTerminal(a.stdio.Stdin)
		if err != nil {
			return err
		}
		defer restore()
	}

	if daemon != nil {
		return a.daemonCommand(ctx, daemon, args, interactive)
	}

	return a.oneShotCommand(ctx, orch, args, interactive)
}

// activeDaemon returns the running daemon. Unless disabled, the daemon is
// started if it is not running. It returns nil for one shot mode.
func (a *app) activeDaemon(
	ctx context.Context,
	orch *orchestrator.Orchestrator,
) (*orchestrator.Daemon, error) {
	daemon := a.daemon(orch)

	_, err := daemon.Status()

	switch {
	case a.cfg.NoDaemon && err == nil:
		// Both guests would use the same state image.
		return nil, ErrDaemonRunning
	case a.cfg.NoDaemon:
		return nil, nil
	case err == nil:
		return daemon, nil
	case !errors.Is(err, orchestrator.ErrDaemonNotRunning):
		return nil, err
	case !a.cfg.AutoDaemon:
		return nil, nil
	}

	slog.Info("Starting daemon", slog.String("state_dir", a.cfg.StateDir))

	_, err = daemon.Start(ctx, a.session(nil))
	if err != nil && !errors.Is(err, orchestrator.ErrAlreadyRunning) {
		return nil, fmt.Errorf("start daemon: %w", err)
	}

	return daemon, nil
}

func (a *app) daemonCommand(
	ctx context.Context,
	daemon *orchestrator.Daemon,
	args []string,
	interactive bool,
) error {
	switch file := findHostFile(args); file.kind {
	case loadFile:
		return a.daemonLoad(ctx, daemon, args, file)
	case saveFile:
		return a.daemonSave(ctx, daemon, args, file)
	case noHostFile:
	}

	code, err := daemon.Run(ctx, args, a.hypervisorIO(), interactive)
	if err != nil {
		return err //nolint:wrapcheck
	}

	return exitStatus(code)
}

// daemonLoad stages the archive as input of the load command.
func (a *app) daemonLoad(
	ctx context.Context,
	daemon *orchestrator.Daemon,
	args []string,
	file hostFile,
) error {
	input := protocol.InputPlaceholder + "/" + filepath.Base(file.path)
	cmd := protocol.Command{
		Args: slices.Concat([]string{a.cfg.Runtime.String()}, file.replaced(args, input)),
	}

	response, err := daemon.SendWithInput(ctx, cmd, file.path)
	if err != nil {
		return err //nolint:wrapcheck
	}

	if _, err := a.stdio.Stdout.Write(response.Output); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	return exitStatus(response.ExitCode)
}

// daemonSave lets the guest write the archive into the shared directory and
// moves it to the requested path, or stdout if none is given.
func (a *app) daemonSave(
	ctx context.Context,
	daemon *orchestrator.Daemon,
	args []string,
	file hostFile,
) error {
	hostDir := filepath.Join(daemon.Layout().ShareDir(), shareOutputDir)
	if err := os.MkdirAll(hostDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	name := "save-" + uuid.NewString() + ".tar"
	hostPath := filepath.Join(hostDir, name)
	guestPath := path.Join(protocol.ShareMountPoint, shareOutputDir, name)

	defer func() {
		if err := os.RemoveAll(hostPath); err != nil {
			slog.Warn("Failed to remove saved archive", slog.Any("error", err))
		}
	}()

	guestArgs := slices.Concat(args, []string{"-o", guestPath})
	if file.path != "" {
		guestArgs = file.replaced(args, guestPath)
	}

	code, err := daemon.Run(ctx, guestArgs, a.hypervisorIO(), false)
	if err != nil {
		return err //nolint:wrapcheck
	} else if code != 0 {
		return exitStatus(code)
	}

	if file.path != "" {
		return artifact.CopyFile(hostPath, file.path) //nolint:wrapcheck
	}

	archive, err := os.Open(hostPath)
	if err != nil {
		return fmt.Errorf("open saved archive: %w", err)
	}
	defer archive.Close()

	if _, err := io.Copy(a.stdio.Stdout, archive); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}

	return nil
}

// oneShotCommand boots a guest for the single command. Volumes need the
// shared directory of the daemon, published ports are forwarded from boot.
func (a *app) oneShotCommand(
	ctx context.Context,
	orch *orchestrator.Orchestrator,
	args []string,
	interactive bool,
) error {
	if _, _, err := (staging.Share{}).StageRunArgs(args, false); err != nil {
		return err //nolint:wrapcheck
	}

	sess := a.session(nil)
	sess.Interactive = interactive

	info, isRun, err := staging.ParseRunArgs(args)
	if err != nil {
		return err //nolint:wrapcheck
	}

	if isRun && len(info.Forwards) > 0 {
		sess.Forwards = info.Forwards

		args, err = staging.RewritePublish(args)
		if err != nil {
			return err //nolint:wrapcheck
		}
	}

	file := findHostFile(args)

	switch file.kind {
	case loadFile:
		sess.Input = file.path
		args = file.replaced(args, protocol.InputPlaceholder+"/"+filepath.Base(file.path))
	case saveFile:
		sess.Output = protocol.OutputTar
		args = file.without(args)
	case noHostFile:
	}

	sess.Args = slices.Concat([]string{a.cfg.Runtime.String()}, args)

	result, err := orch.RunOneShot(ctx, sess, a.hypervisorIO())
	if err != nil {
		return err //nolint:wrapcheck
	}

	switch {
	case file.kind == saveFile && file.path != "":
		if err := os.WriteFile(file.path, result.Artifact, 0o644); err != nil { //nolint:gosec
			return fmt.Errorf("write archive: %w", err)
		}
	case file.kind == saveFile:
		if _, err := a.stdio.Stdout.Write(result.Artifact); err != nil {
			return fmt.Errorf("write archive: %w", err)
		}
	default:
		if _, err := a.stdio.Stdout.Write(result.Output); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}

	return exitStatus(result.ExitCode)
}
