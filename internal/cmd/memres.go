// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/aibor/vcontainer/internal/hypervisor"
	"github.com/aibor/vcontainer/internal/orchestrator"
)

func (a *app) memresCommand() *cobra.Command {
	memres := &cobra.Command{
		Use:   "memres",
		Short: "Manage the memory resident daemon guest",
		Args:  cobra.NoArgs,
	}

	var publish []string

	start := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon guest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.memresStart(cmd.Context(), publish)
		},
	}
	start.Flags().StringArrayVarP(&publish, "publish", "p", nil,
		"forward host port to guest port, like 8080:80. Flag may be used more than once.")

	restart := &cobra.Command{
		Use:   "restart",
		Short: "Stop and start the daemon guest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.memresStop(cmd.Context()); err != nil {
				return err
			}

			return a.memresStart(cmd.Context(), publish)
		},
	}
	restart.Flags().StringArrayVarP(&publish, "publish", "p", nil,
		"forward host port to guest port, like 8080:80. Flag may be used more than once.")

	memres.AddCommand(
		start,
		restart,
		&cobra.Command{
			Use:   "stop",
			Short: "Stop the daemon guest",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.memresStop(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the status of the daemon guest",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				return a.memresStatus()
			},
		},
		&cobra.Command{
			Use:    "watchdog",
			Short:  "Stop the daemon guest once it is idle",
			Hidden: true,
			Args:   cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.daemon(a.orchestrator()).Watch(cmd.Context(), a.cfg.IdleTimeout)
			},
		},
	)

	return memres
}

func (a *app) daemon(orch *orchestrator.Orchestrator) *orchestrator.Daemon {
	return orch.Daemon(a.cfg.StateDir, a.cfg.Runtime)
}

func parseForwards(specs []string) ([]hypervisor.PortForward, error) {
	forwards := make([]hypervisor.PortForward, 0, len(specs))

	for _, spec := range specs {
		forward, err := hypervisor.ParsePortForward(spec)
		if err != nil {
			return nil, fmt.Errorf("publish %s: %w", spec, err)
		}

		forwards = append(forwards, forward)
	}

	return forwards, nil
}

func (a *app) memresStart(ctx context.Context, publish []string) error {
	forwards, err := parseForwards(publish)
	if err != nil {
		return err
	}

	sess := a.session(nil)
	sess.Forwards = forwards

	inst, err := a.daemon(a.orchestrator()).Start(ctx, sess)
	if err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	fmt.Fprintf(a.stdio.Stdout, "Daemon started (%s, pid %d)\n", inst.Hypervisor, inst.PID)

	for _, forward := range inst.Forwards {
		fmt.Fprintf(a.stdio.Stdout, "Forwarding %s\n", forward)
	}

	return nil
}

func (a *app) memresStop(ctx context.Context) error {
	daemon := a.daemon(a.orchestrator())

	_, err := daemon.Status()
	running := err == nil

	if err := daemon.Stop(ctx); err != nil {
		return fmt.Errorf("stop daemon: %w", err)
	}

	if running {
		fmt.Fprintln(a.stdio.Stdout, "Daemon stopped")
	} else {
		fmt.Fprintln(a.stdio.Stdout, "Daemon not running")
	}

	return nil
}

func (a *app) memresStatus() error {
	daemon := a.daemon(a.orchestrator())

	inst, err := daemon.Status()
	if errors.Is(err, orchestrator.ErrDaemonNotRunning) {
		fmt.Fprintf(a.stdio.Stdout, "Daemon not running (%s)\n", a.cfg.StateDir)
		return nil
	} else if err != nil {
		return err
	}

	out := a.stdio.Stdout

	fmt.Fprintf(out, "Daemon running (%s)\n", a.cfg.StateDir)
	fmt.Fprintf(out, "  Hypervisor: %s, pid %d\n", inst.Hypervisor, inst.PID)
	fmt.Fprintf(out, "  Channel:    %s\n", inst.Channel)
	fmt.Fprintf(out, "  Uptime:     %s\n", time.Since(inst.StartedAt).Round(time.Second))

	if last, err := daemon.Layout().LastActivity(); err == nil {
		fmt.Fprintf(out, "  Idle:       %s\n", time.Since(last).Round(time.Second))
	} else {
		slog.Debug("No activity record", slog.Any("error", err))
	}

	for _, forward := range inst.Forwards {
		fmt.Fprintf(out, "  Forward:    %s\n", forward)
	}

	return nil
}
