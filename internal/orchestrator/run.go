// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/aibor/vcontainer/internal/hypervisor"
	"github.com/aibor/vcontainer/internal/protocol"
	"github.com/aibor/vcontainer/internal/staging"
)

// Run runs the runtime arguments, like "ps -a", in the daemon and returns the exit code of
// the command.
//
// Bind mounted volumes of run commands are staged into the shared directory
// and synced back once the command is done. Published ports are forwarded
// to the guest. Forwards of detached containers stay until the container is
// stopped or removed with a later command, others are removed once the
// command is done.
func (d *Daemon) Run(
	ctx context.Context,
	args []string,
	stdio hypervisor.IO,
	interactive bool,
) (int, error) {
	share := d.Share()

	args, volumes, err := share.StageRunArgs(args, true)
	if err != nil {
		return 0, err //nolint:wrapcheck
	}

	defer func() {
		if err := share.Cleanup(volumes); err != nil {
			slog.Warn("Failed to remove staged volumes", slog.Any("error", err))
		}
	}()

	info, isRun, err := staging.ParseRunArgs(args)
	if err != nil {
		return 0, err //nolint:wrapcheck
	}

	var added []hypervisor.PortForward

	if isRun && len(info.Forwards) > 0 {
		added, err = d.addForwards(ctx, info.Forwards)
		if err != nil {
			return 0, err
		}

		args, err = staging.RewritePublish(args)
		if err != nil {
			d.removeForwards(ctx, added)
			return 0, err //nolint:wrapcheck
		}
	}

	code, output, err := d.runCommand(ctx, d.command(args), stdio, interactive)

	if syncErr := share.SyncBack(context.WithoutCancel(ctx), volumes); syncErr != nil {
		err = errors.Join(err, syncErr)
	}

	switch {
	case len(added) == 0:
	case err != nil || code != 0 || !info.Detached:
		d.removeForwards(ctx, added)
	default:
		d.registerForwards(info, output, added)
	}

	if targets, ok := staging.RemovalTargets(args); ok && err == nil && code == 0 {
		d.releaseForwards(ctx, targets)
	}

	return code, err
}

// command returns the guest command for the runtime arguments.
func (d *Daemon) command(args []string) protocol.Command {
	return protocol.Command{Args: append([]string{string(d.runtime)}, args...)}
}

func (d *Daemon) runCommand(
	ctx context.Context,
	cmd protocol.Command,
	stdio hypervisor.IO,
	interactive bool,
) (int, []byte, error) {
	if interactive {
		code, err := d.Interactive(ctx, cmd, stdio.Stdin, stdio.Stdout)
		return code, nil, err
	}

	response, err := d.Send(ctx, cmd)
	if err != nil {
		return 0, nil, err
	}

	if _, err := stdio.Stdout.Write(response.Output); err != nil {
		return response.ExitCode, response.Output, fmt.Errorf("write output: %w", err)
	}

	return response.ExitCode, response.Output, nil
}

func (d *Daemon) forwarder() (hypervisor.DynamicForwarder, *hypervisor.Instance, error) {
	forwarder, ok := d.orch.Backend.(hypervisor.DynamicForwarder)
	if !ok {
		return nil, nil, nil
	}

	inst, err := d.Status()
	if err != nil {
		return nil, nil, err
	}

	return forwarder, inst, nil
}

// addForwards adds the forwards to the running guest. Forwards already
// added are removed again if one fails.
func (d *Daemon) addForwards(
	ctx context.Context,
	forwards []hypervisor.PortForward,
) ([]hypervisor.PortForward, error) {
	forwarder, inst, err := d.forwarder()
	if err != nil {
		return nil, err
	}

	if forwarder == nil {
		slog.Warn("Hypervisor can not add port forwards to a running guest",
			slog.String("hypervisor", d.orch.Backend.Name()))

		return nil, nil
	}

	var added []hypervisor.PortForward

	for _, forward := range forwards {
		if err := forwarder.AddPortForward(ctx, inst, forward); err != nil {
			d.removeForwards(ctx, added)
			return nil, fmt.Errorf("add port forward %s: %w", forward, err)
		}

		slog.Debug("Port forward added", slog.String("forward", forward.String()))

		added = append(added, forward)
	}

	d.saveInstance(inst)

	return added, nil
}

func (d *Daemon) removeForwards(ctx context.Context, forwards []hypervisor.PortForward) {
	if len(forwards) == 0 {
		return
	}

	forwarder, inst, err := d.forwarder()
	if err != nil || forwarder == nil {
		return
	}

	ctx = context.WithoutCancel(ctx)

	for _, forward := range forwards {
		if err := forwarder.RemovePortForward(ctx, inst, forward); err != nil {
			slog.Warn("Failed to remove port forward",
				slog.String("forward", forward.String()),
				slog.Any("error", err))
		}
	}

	d.saveInstance(inst)
}

// registerForwards records the forwards of a detached container. Without
// container name the ID printed by the runtime is used.
func (d *Daemon) registerForwards(
	info staging.RunInfo,
	output []byte,
	forwards []hypervisor.PortForward,
) {
	container := info.Name
	if container == "" {
		lines := strings.Fields(string(output))
		if len(lines) > 0 {
			container = lines[len(lines)-1]
		}
	}

	if container == "" {
		slog.Warn("Unknown container, port forwards are removed with the daemon only")
		return
	}

	entries := make([]staging.RegistryEntry, 0, len(forwards))
	for _, forward := range forwards {
		entries = append(entries, staging.RegistryEntry{Forward: forward, Container: container})
	}

	if err := d.layout.Registry().Add(entries...); err != nil {
		slog.Warn("Failed to record port forwards", slog.Any("error", err))
	}
}

// releaseForwards removes the forwards of the stopped or removed containers.
// Targets may be given as ID prefix.
func (d *Daemon) releaseForwards(ctx context.Context, targets []string) {
	registry := d.layout.Registry()

	entries, err := registry.Load()
	if err != nil {
		slog.Warn("Failed to read port forward registry", slog.Any("error", err))
		return
	}

	var containers []string

	for _, entry := range entries {
		for _, target := range targets {
			if strings.HasPrefix(entry.Container, target) &&
				!slices.Contains(containers, entry.Container) {
				containers = append(containers, entry.Container)
			}
		}
	}

	for _, container := range containers {
		removed, err := registry.RemoveContainer(container)
		if err != nil {
			slog.Warn("Failed to update port forward registry", slog.Any("error", err))
			continue
		}

		forwards := make([]hypervisor.PortForward, 0, len(removed))
		for _, entry := range removed {
			forwards = append(forwards, entry.Forward)
		}

		d.removeForwards(ctx, forwards)
	}
}

func (d *Daemon) saveInstance(inst *hypervisor.Instance) {
	if err := d.layout.WriteInstance(inst); err != nil {
		slog.Warn("Failed to persist instance", slog.Any("error", err))
	}
}
