// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/aibor/vcontainer/internal/config"
	"github.com/aibor/vcontainer/internal/hypervisor"
	"github.com/aibor/vcontainer/internal/orchestrator"
	"github.com/aibor/vcontainer/internal/sys"
)

// IO provides input and output details for the command.
type IO struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// app is the state of a single invocation.
type app struct {
	stdio IO

	// argv0 is the name the binary was invoked as. It selects runtime and
	// architecture by convention.
	argv0 string

	// home overrides the home directory.
	home string

	exec       sys.Executor
	newBackend func(cfg *config.Config, exec sys.Executor) hypervisor.Backend

	// spawn starts the detached watchdog. Defaults to re-executing the
	// binary.
	spawn func(stateDir string) (int, error)

	cfg *config.Config
}

func newApp(argv0 string, stdio IO) *app {
	a := &app{
		stdio:      stdio,
		argv0:      argv0,
		exec:       sys.HostExecutor{},
		newBackend: newBackend,
	}

	a.spawn = a.spawnWatchdog

	return a
}

// name is the tool name used in messages.
func (a *app) name() string {
	return filepath.Base(a.argv0)
}

// loadConfig resolves the configuration from the parsed flags and sets up
// logging accordingly.
func (a *app) loadConfig(cmd *cobra.Command) error {
	cfg, err := config.Load(config.Source{
		ProcessName: a.argv0,
		Flags:       cmd.Flags(),
		Home:        a.home,
	})
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	setupLogging(a.stdio.Stderr, cfg.Verbose, cfg.Debug)

	a.cfg = cfg

	return nil
}

func (a *app) orchestrator() *orchestrator.Orchestrator {
	return &orchestrator.Orchestrator{
		Backend:       a.newBackend(a.cfg, a.exec),
		Exec:          a.exec,
		Agent:         a.cfg.Agent,
		SpawnWatchdog: a.spawn,
	}
}

// session returns the guest session for the configuration.
func (a *app) session(args []string) orchestrator.Session {
	cfg := a.cfg

	return orchestrator.Session{
		Arch:               cfg.Arch,
		Runtime:            cfg.Runtime,
		Args:               args,
		StateDir:           cfg.StateDir,
		Network:            cfg.Network,
		Timeout:            cfg.Timeout,
		IdleTimeout:        cfg.IdleTimeout,
		Registry:           cfg.Registry,
		InsecureRegistries: cfg.InsecureRegistries,
		Memory:             cfg.Memory,
		SMP:                cfg.SMP,
		NoKVM:              cfg.NoKVM,
		KeepLogs:           cfg.KeepLogs,
	}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   a.name() + " [flags] <runtime command> [args...]",
		Short: "Run container runtime commands in a guest of any architecture",
		Long: `Runs docker or podman commands in a QEMU or Xen guest of the target
architecture. Images and containers persist in a state image per
architecture. A memory resident daemon guest serves commands without boot
delay; without it, each command boots a one shot guest.

Start the daemon and list images:
  vdkr memres start
  vdkr images

Run a container of another architecture:
  vdkr-aarch64 vrun alpine uname -m`,
		Args:              cobra.ArbitraryArgs,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return a.loadConfig(cmd) },
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}

			return a.runtimeCommand(cmd.Context(), args)
		},
	}

	// Arguments after the runtime command belong to the guest runtime.
	root.Flags().SetInterspersed(false)
	root.CompletionOptions.DisableDefaultCmd = true
	root.Version = version()
	root.SetVersionTemplate("Version: {{.Version}}\n")

	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		a.memresCommand(),
		a.vrunCommand(),
		a.vimportCommand(),
		a.vstorageCommand(),
		a.vconfigCommand(),
	)

	return root
}

func version() string {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return ErrReadBuildInfo.Error()
	}

	return buildInfo.Main.Version
}

// Run is the main entry point for the CLI command. argv0 is the name the
// binary is invoked as, args are the arguments after it.
func Run(ctx context.Context, argv0 string, args []string, stdio IO) int {
	return newApp(argv0, stdio).execute(ctx, args)
}

func (a *app) execute(ctx context.Context, args []string) int {
	setupLogging(a.stdio.Stderr, false, false)

	root := a.rootCommand()
	root.SetArgs(args)
	root.SetIn(a.stdio.Stdin)
	root.SetOut(a.stdio.Stdout)
	root.SetErr(a.stdio.Stderr)

	err := root.ExecuteContext(ctx)

	return handleRunError(err, a.stdio.Stderr, a.name())
}
