// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/aibor/vcontainer/internal/config"
	"github.com/aibor/vcontainer/internal/hypervisor"
	"github.com/aibor/vcontainer/internal/qemu"
	"github.com/aibor/vcontainer/internal/sys"
	"github.com/aibor/vcontainer/internal/xen"
)

func newBackend(cfg *config.Config, exec sys.Executor) hypervisor.Backend {
	if cfg.Hypervisor == config.HypervisorXen {
		return xen.New(xen.Config{
			BlobDir: cfg.BlobDir,
			Verbose: cfg.Verbose,
			Exec:    exec,
		})
	}

	return qemu.New(qemu.Config{
		BlobDir: cfg.BlobDir,
		Channel: cfg.Channel,
		Verbose: cfg.Verbose,
		Exec:    exec,
	})
}

// watchdogArgs are the arguments of the watchdog process. They carry the
// configuration explicitly, so the watchdog does not depend on the name it
// is started as.
func (a *app) watchdogArgs(stateDir string) []string {
	cfg := a.cfg

	args := []string{
		"--" + config.KeyRuntime, cfg.Runtime.String(),
		"--" + config.KeyArch, cfg.Arch.String(),
		"--" + config.KeyHypervisor, cfg.Hypervisor.String(),
		"--" + config.KeyBlobDir, cfg.BlobDir,
		"--" + config.KeyStateDir, stateDir,
		"--" + config.KeyIdleTimeout, strconv.Itoa(int(cfg.IdleTimeout.Seconds())),
	}

	if cfg.Channel != "" {
		args = append(args, "--"+config.KeyChannel, string(cfg.Channel))
	}

	if cfg.Debug {
		args = append(args, "--"+config.KeyDebug)
	}

	return append(args, "memres", "watchdog")
}

// spawnWatchdog starts the watchdog for the state directory as detached
// process in its own session, so it outlives the invoking shell.
func (a *app) spawnWatchdog(stateDir string) (int, error) {
	executable, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("find executable: %w", err)
	}

	//nolint:gosec
	cmd := exec.Command(executable, a.watchdogArgs(stateDir)...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start watchdog: %w", err)
	}

	pid := cmd.Process.Pid

	if err := cmd.Process.Release(); err != nil {
		return 0, fmt.Errorf("release watchdog: %w", err)
	}

	return pid, nil
}
