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

	"github.com/google/uuid"

	"github.com/aibor/vcontainer/internal/artifact"
	"github.com/aibor/vcontainer/internal/config"
	"github.com/aibor/vcontainer/internal/hypervisor"
	"github.com/aibor/vcontainer/internal/initramfs"
	"github.com/aibor/vcontainer/internal/protocol"
	"github.com/aibor/vcontainer/internal/sys"
)

// Defaults of the [Orchestrator].
const (
	DefaultReadyTimeout  = 120 * time.Second
	DefaultReadyInterval = time.Second
	DefaultPollInterval  = time.Second
	DefaultGracefulWait  = 10 * time.Second
	DefaultStartTimeout  = 30 * time.Second

	workDirPrefix = "vcontainer-"
	initramfsName = "initramfs.cpio.gz"
	consoleName   = "console.log"
)

// Session is the configuration of a single guest.
type Session struct {
	Arch    sys.Arch
	Runtime config.Runtime

	// Args is the guest command line, like "docker images". One shot
	// sessions run it on boot.
	Args []string

	// Input is a host path made available to the command as input disk.
	Input string

	Output protocol.OutputType

	// StateDir is the directory of the persistent state image. The guest
	// runs without state disk if empty.
	StateDir string

	Network  bool
	Forwards []hypervisor.PortForward

	// Interactive one shot sessions run in the foreground with the guest
	// console connected to the standard streams.
	Interactive bool

	// Timeout bounds one shot sessions.
	Timeout time.Duration

	// IdleTimeout of the daemon guest.
	IdleTimeout time.Duration

	Registry           string
	InsecureRegistries []string

	Memory uint64
	SMP    uint64
	NoKVM  bool

	// KeepLogs keeps the console log of successful sessions as well.
	KeepLogs bool
}

// Orchestrator boots guests on a [hypervisor.Backend].
type Orchestrator struct {
	Backend hypervisor.Backend

	// Exec runs host tools for building disk images.
	Exec sys.Executor

	// Agent is the guest agent binary added to the base initramfs. If
	// empty, the base initramfs must bring its own.
	Agent string

	// TempDir is the parent of session work directories. Defaults to
	// [os.TempDir].
	TempDir string

	ReadyTimeout  time.Duration
	ReadyInterval time.Duration
	PollInterval  time.Duration
	GracefulWait  time.Duration
	StartTimeout  time.Duration

	// SpawnWatchdog starts the detached idle watchdog process for a state
	// directory and returns its PID. No watchdog is started if nil.
	SpawnWatchdog func(stateDir string) (int, error)
}

func durationOr(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}

	return fallback
}

// workDir creates a new session work directory.
func (o *Orchestrator) workDir() (string, error) {
	parent := o.TempDir
	if parent == "" {
		parent = os.TempDir()
	}

	dir := filepath.Join(parent, workDirPrefix+uuid.NewString())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create work directory: %w", err)
	}

	return dir, nil
}

// prepared is a session ready to be started.
type prepared struct {
	spec   hypervisor.StartSpec
	params protocol.BootParams
}

// prepare builds everything the guest needs: the blobs, the disks and the
// boot parameters. Work files are created in workDir.
func (o *Orchestrator) prepare(
	ctx context.Context,
	sess Session,
	workDir string,
) (*prepared, error) {
	blobs, err := o.Backend.SetupArch(sess.Arch)
	if err != nil {
		return nil, fmt.Errorf("set up %s: %w", sess.Arch, err)
	}

	if o.Agent != "" {
		path := filepath.Join(workDir, initramfsName)
		if err := initramfs.Build(path, blobs.Initramfs, o.Agent, sess.Arch); err != nil {
			return nil, fmt.Errorf("build initramfs: %w", err)
		}

		blobs.Initramfs = path
	}

	params := protocol.BootParams{
		Input:              protocol.InputNone,
		Output:             sess.Output,
		State:              protocol.StateNone,
		Network:            sess.Network,
		Interactive:        sess.Interactive,
		Registry:           sess.Registry,
		InsecureRegistries: sess.InsecureRegistries,
	}

	disks := hypervisor.Disks{Rootfs: blobs.Rootfs}
	preparer := artifact.Preparer{Exec: o.Exec, WorkDir: workDir}

	if sess.Input != "" {
		disks.Input, params.Input, err = preparer.InputDisk(ctx, sess.Input, sess.Arch)
		if err != nil {
			return nil, fmt.Errorf("prepare input: %w", err)
		}
	}

	if sess.StateDir != "" {
		disks.State, err = preparer.EnsureStateImage(ctx, sess.StateDir, string(sess.Runtime))
		if err != nil {
			return nil, fmt.Errorf("prepare state: %w", err)
		}

		params.State = protocol.StateDisk
	}

	diskOpts, err := o.Backend.BuildDiskOptions(disks)
	if err != nil {
		return nil, fmt.Errorf("disk options: %w", err)
	}

	netOpts, err := o.Backend.BuildNetworkOptions(sess.Network, sess.Forwards)
	if err != nil {
		return nil, fmt.Errorf("network options: %w", err)
	}

	spec := hypervisor.StartSpec{
		Name:         workDirPrefix + uuid.NewString()[:8],
		Blobs:        blobs,
		Options:      append(diskOpts, netOpts...),
		Memory:       sess.Memory,
		SMP:          sess.SMP,
		Accelerate:   o.Backend.CheckAcceleration(sess.NoKVM),
		Forwards:     sess.Forwards,
		RunDir:       workDir,
		LogFile:      filepath.Join(workDir, consoleName),
		StartTimeout: durationOr(o.StartTimeout, DefaultStartTimeout),
	}

	if !spec.Accelerate {
		slog.Info("Hardware acceleration not available, guest runs emulated",
			slog.String("arch", sess.Arch.String()))
	}

	return &prepared{spec: spec, params: params}, nil
}

// kernelArgs finalizes the boot parameters into the start spec.
func (p *prepared) kernelArgs(runtime config.Runtime) {
	p.spec.KernelArgs = append(p.spec.KernelArgs, p.params.KernelArgs(runtime.Prefix())...)
}

// keepLog moves the console log out of the work directory before it is
// removed and returns its new path.
func (o *Orchestrator) keepLog(logFile string) string {
	if logFile == "" || !sys.FileExists(logFile) {
		return ""
	}

	parent := o.TempDir
	if parent == "" {
		parent = os.TempDir()
	}

	kept := filepath.Join(parent, filepath.Base(filepath.Dir(logFile))+".log")

	if err := os.Rename(logFile, kept); err != nil {
		slog.Warn("Failed to keep console log",
			slog.String("path", logFile),
			slog.Any("error", err))

		return ""
	}

	return kept
}

// withBootLog attaches the kept console log to boot errors.
func withBootLog(err error, logFile string) error {
	var bootErr *BootError
	if errors.As(err, &bootErr) {
		bootErr.LogFile = logFile
		return err
	}

	if logFile == "" {
		return err
	}

	return fmt.Errorf("%w (console log: %s)", err, logFile)
}
