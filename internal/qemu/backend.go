// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package qemu

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/aibor/vcontainer/internal/hypervisor"
	"github.com/aibor/vcontainer/internal/protocol"
	"github.com/aibor/vcontainer/internal/sys"
)

const (
	backendName = "qemu"

	qmpSocketName    = "qmp.sock"
	daemonSocketName = "daemon.sock"
	channelChardevID = "vcchan"
	netdevID         = "net0"

	// DefaultStopTimeout is the time a guest gets to power off gracefully.
	DefaultStopTimeout = 10 * time.Second

	killTimeout  = 5 * time.Second
	pollInterval = 100 * time.Millisecond

	// Guest CIDs 0 to 2 are reserved.
	minGuestCID = 3
)

// ErrStillRunning is returned if the QEMU process survived SIGKILL.
var ErrStillRunning = errors.New("qemu process still running")

// Config is the static configuration of a [Backend].
type Config struct {
	// BlobDir is the base directory of the guest blobs.
	BlobDir string

	// Executable, Machine, CPU and TransportType override the architecture
	// defaults of [MachineSpec.AddDefaultsFor].
	Executable    string
	Machine       string
	CPU           string
	TransportType TransportType

	// Channel selects virtio-serial or vsock for the command channel.
	Channel protocol.ChannelKind

	// StopTimeout bounds the graceful stop. Defaults to
	// [DefaultStopTimeout].
	StopTimeout time.Duration

	// Verbose increases guest kernel logging.
	Verbose bool

	// Exec is used to look up the QEMU binary. Defaults to
	// [sys.HostExecutor].
	Exec sys.Executor
}

// Backend is the QEMU [hypervisor.Backend].
type Backend struct {
	cfg Config

	arch      sys.Arch
	machine   MachineSpec
	transport TransportType

	mu    sync.Mutex
	procs map[int]*process
}

// process is a QEMU process started by this backend. It is reaped by a
// goroutine, so it does not linger as zombie.
type process struct {
	done chan struct{}
	err  error
}

var (
	_ hypervisor.Backend          = (*Backend)(nil)
	_ hypervisor.DynamicForwarder = (*Backend)(nil)
)

// New creates a new QEMU [Backend].
func New(cfg Config) *Backend {
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}

	if cfg.Exec == nil {
		cfg.Exec = sys.HostExecutor{}
	}

	return &Backend{
		cfg:   cfg,
		procs: make(map[int]*process),
	}
}

// Name implements [hypervisor.Backend].
func (*Backend) Name() string {
	return backendName
}

// SetupArch implements [hypervisor.Backend].
func (b *Backend) SetupArch(arch sys.Arch) (hypervisor.Blobs, error) {
	machine := MachineSpec{
		Executable:    b.cfg.Executable,
		Machine:       b.cfg.Machine,
		CPU:           b.cfg.CPU,
		TransportType: b.cfg.TransportType,
		Verbose:       b.cfg.Verbose,
	}

	if err := machine.AddDefaultsFor(arch); err != nil {
		return hypervisor.Blobs{}, err
	}

	if err := machine.Validate(); err != nil {
		return hypervisor.Blobs{}, err
	}

	if _, err := b.cfg.Exec.LookPath(machine.Executable); err != nil {
		return hypervisor.Blobs{}, &CommandError{
			Err: fmt.Errorf("find %s: %w", machine.Executable, err),
		}
	}

	blobs := hypervisor.BlobPaths(b.cfg.BlobDir, arch)
	blobs.ConsoleDevice = machine.TransportType.ConsoleDeviceName(0)

	if err := blobs.Check(); err != nil {
		return hypervisor.Blobs{}, err //nolint:wrapcheck
	}

	b.arch = arch
	b.machine = machine
	b.transport = machine.TransportType

	slog.Debug("QEMU architecture set up",
		slog.String("arch", arch.String()),
		slog.String("executable", machine.Executable),
		slog.String("machine", machine.Machine),
		slog.String("transport", string(machine.TransportType)),
	)

	return blobs, nil
}

// CheckAcceleration implements [hypervisor.Backend].
func (b *Backend) CheckAcceleration(disable bool) bool {
	if disable || b.arch == "" {
		return false
	}

	return b.arch.KVMAvailable()
}

// BuildDiskOptions implements [hypervisor.Backend].
func (b *Backend) BuildDiskOptions(disks hypervisor.Disks) (hypervisor.Options, error) {
	if b.arch == "" {
		return nil, hypervisor.ErrArchNotSetUp
	}

	var args []Argument

	for _, disk := range disks.Layout() {
		if disk.Path == "" {
			return nil, fmt.Errorf("disk slot %d: %w", disk.Slot, sys.ErrEmptyPath)
		}

		id := fmt.Sprintf("disk%d", disk.Slot)

		drive := []string{
			"file=" + escapeValue(disk.Path),
			"if=none",
			"id=" + id,
			"format=raw",
		}
		if disk.ReadOnly {
			drive = append(drive, "readonly=on")
		}

		args = append(args,
			RepeatableArg("drive", drive...),
			RepeatableArg("device", b.transport.device("virtio-blk"), "drive="+id),
		)
	}

	return options(args...), nil
}

// BuildNetworkOptions implements [hypervisor.Backend].
func (b *Backend) BuildNetworkOptions(
	enabled bool,
	forwards []hypervisor.PortForward,
) (hypervisor.Options, error) {
	if b.arch == "" {
		return nil, hypervisor.ErrArchNotSetUp
	}

	if !enabled {
		return nil, nil
	}

	netdev := []string{"user", "id=" + netdevID}
	for _, forward := range forwards {
		netdev = append(netdev, "hostfwd="+hostfwdRule(forward))
	}

	return options(
		RepeatableArg("netdev", netdev...),
		RepeatableArg("device", b.transport.device("virtio-net"), "netdev="+netdevID),
	), nil
}

// BuildShareOptions implements [hypervisor.Backend].
func (b *Backend) BuildShareOptions(
	hostDir, tag string,
	extra ...string,
) (hypervisor.Options, error) {
	if b.arch == "" {
		return nil, hypervisor.ErrArchNotSetUp
	}

	if hostDir == "" {
		return nil, fmt.Errorf("share %s: %w", tag, sys.ErrEmptyPath)
	}

	id := "fs" + tag

	fsdev := []string{
		"local",
		"id=" + id,
		"path=" + escapeValue(hostDir),
		"security_model=mapped-xattr",
	}
	fsdev = append(fsdev, extra...)

	return options(
		RepeatableArg("fsdev", fsdev...),
		RepeatableArg("device", b.transport.device("virtio-9p"), "fsdev="+id, "mount_tag="+tag),
	), nil
}

// BuildDaemonChannelOptions implements [hypervisor.Backend].
func (b *Backend) BuildDaemonChannelOptions(
	runDir string,
) (hypervisor.Options, protocol.Endpoint, error) {
	if b.arch == "" {
		return nil, protocol.Endpoint{}, hypervisor.ErrArchNotSetUp
	}

	switch b.cfg.Channel {
	case protocol.ChannelVsock:
		cid := guestCID(runDir)
		endpoint := protocol.Endpoint{
			Kind: protocol.ChannelVsock,
			CID:  cid,
			Port: protocol.VsockPort,
		}
		opts := options(RepeatableArg("device",
			b.transport.device("vhost-vsock"),
			"guest-cid="+strconv.FormatUint(uint64(cid), 10),
		))

		return opts, endpoint, nil
	case "", protocol.ChannelVirtio:
		socket := filepath.Join(runDir, daemonSocketName)
		if err := sys.RemoveIfExists(socket); err != nil {
			return nil, protocol.Endpoint{}, err //nolint:wrapcheck
		}

		endpoint := protocol.Endpoint{
			Kind: protocol.ChannelVirtio,
			Path: socket,
		}
		opts := options(
			RepeatableArg("chardev",
				"socket",
				"id="+channelChardevID,
				"path="+escapeValue(socket),
				"server=on",
				"wait=off",
			),
			RepeatableArg("device",
				"virtserialport",
				"chardev="+channelChardevID,
				"name="+protocol.VirtioPortName,
			),
		)

		return opts, endpoint, nil
	default:
		return nil, protocol.Endpoint{}, fmt.Errorf("%w for qemu: %s",
			protocol.ErrUnknownChannel, b.cfg.Channel)
	}
}

// StartBackground implements [hypervisor.Backend].
//
// The QEMU process runs in its own session, so it survives the calling
// process. Console and QEMU output go to the log file.
func (b *Backend) StartBackground(
	ctx context.Context,
	spec hypervisor.StartSpec,
) (*hypervisor.Instance, error) {
	var qmpSocket string

	if spec.RunDir != "" {
		qmpSocket = filepath.Join(spec.RunDir, qmpSocketName)
		if err := sys.RemoveIfExists(qmpSocket); err != nil {
			return nil, err //nolint:wrapcheck
		}
	}

	executable, args, err := b.command(spec, qmpSocket)
	if err != nil {
		return nil, err
	}

	logPath := spec.LogFile
	if logPath == "" {
		logPath = os.DevNull
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	//nolint:gosec
	cmd := exec.Command(executable, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	slog.Debug("Start QEMU", slog.String("command", cmd.String()))

	if err := cmd.Start(); err != nil {
		return nil, &CommandError{Err: err}
	}

	proc := b.track(cmd)

	inst := &hypervisor.Instance{
		ID:            strconv.Itoa(cmd.Process.Pid),
		PID:           cmd.Process.Pid,
		Hypervisor:    backendName,
		Channel:       spec.Channel,
		ControlSocket: qmpSocket,
		LogFile:       spec.LogFile,
		Forwards:      spec.Forwards,
		StartedAt:     time.Now(),
	}

	if qmpSocket != "" && spec.StartTimeout > 0 {
		if err := b.waitStarted(ctx, proc, qmpSocket, spec.StartTimeout); err != nil {
			_ = b.Destroy(context.WithoutCancel(ctx), inst)
			return nil, err
		}
	}

	return inst, nil
}

// StartForeground implements [hypervisor.Backend].
func (b *Backend) StartForeground(
	ctx context.Context,
	spec hypervisor.StartSpec,
	stdio hypervisor.IO,
) error {
	executable, args, err := b.command(spec, "")
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, executable, args...)
	cmd.Stdin = stdio.Stdin
	cmd.Stdout = stdio.Stdout
	cmd.Stderr = stdio.Stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(unix.SIGTERM)
	}
	cmd.WaitDelay = b.cfg.StopTimeout

	slog.Debug("Run QEMU", slog.String("command", cmd.String()))

	if err := cmd.Run(); err != nil {
		cmdErr := &CommandError{Err: err}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			cmdErr.ExitCode = exitErr.ExitCode()
		}

		return cmdErr
	}

	return nil
}

// IsRunning implements [hypervisor.Backend].
func (b *Backend) IsRunning(inst *hypervisor.Instance) bool {
	if inst == nil || inst.PID <= 0 {
		return false
	}

	b.mu.Lock()
	proc, tracked := b.procs[inst.PID]
	b.mu.Unlock()

	if tracked {
		select {
		case <-proc.done:
			return false
		default:
			return true
		}
	}

	return sys.ProcessAlive(inst.PID)
}

// WaitExit implements [hypervisor.Backend].
func (b *Backend) WaitExit(
	ctx context.Context,
	inst *hypervisor.Instance,
	timeout time.Duration,
) bool {
	return hypervisor.PollUntil(ctx, pollInterval, timeout, func() bool {
		return !b.IsRunning(inst)
	})
}

// Stop implements [hypervisor.Backend].
//
// It requests an ACPI power down via QMP first, then sends SIGTERM. Each step
// gets half of the stop timeout. If QEMU is still running, it is killed.
func (b *Backend) Stop(ctx context.Context, inst *hypervisor.Instance) error {
	if !b.IsRunning(inst) {
		b.cleanup(inst)
		return nil
	}

	wait := b.cfg.StopTimeout / 2 //nolint:mnd

	if inst.ControlSocket != "" {
		err := withQMP(ctx, inst.ControlSocket, func(c *qmpClient) error {
			_, err := c.execute("system_powerdown", nil)
			return err
		})
		if err != nil {
			slog.Debug("QMP power down failed", slog.Any("error", err))
		} else if b.WaitExit(ctx, inst, wait) {
			b.cleanup(inst)
			return nil
		}
	}

	if err := sys.Signal(inst.PID, unix.SIGTERM); err != nil {
		return fmt.Errorf("terminate qemu: %w", err)
	}

	if b.WaitExit(ctx, inst, wait) {
		b.cleanup(inst)
		return nil
	}

	slog.Warn("Guest did not stop in time, killing it",
		slog.Int("pid", inst.PID))

	return b.Destroy(ctx, inst)
}

// Destroy implements [hypervisor.Backend].
func (b *Backend) Destroy(ctx context.Context, inst *hypervisor.Instance) error {
	defer b.cleanup(inst)

	if !b.IsRunning(inst) {
		return nil
	}

	if err := sys.Signal(inst.PID, unix.SIGKILL); err != nil {
		return fmt.Errorf("kill qemu: %w", err)
	}

	if !b.WaitExit(ctx, inst, killTimeout) {
		return fmt.Errorf("%w: pid %d", ErrStillRunning, inst.PID)
	}

	return nil
}

// SetupPortForwards implements [hypervisor.Backend]. Forwards are part of
// the network options, so there is nothing to do.
func (*Backend) SetupPortForwards(
	_ context.Context,
	_ *hypervisor.Instance,
	_ []hypervisor.PortForward,
) error {
	return nil
}

// CleanupPortForwards implements [hypervisor.Backend]. Forwards vanish with
// the QEMU process.
func (*Backend) CleanupPortForwards(_ context.Context, _ *hypervisor.Instance) error {
	return nil
}

// IdleShutdown implements [hypervisor.Backend].
func (b *Backend) IdleShutdown(ctx context.Context, inst *hypervisor.Instance) error {
	return b.Stop(ctx, inst)
}

// AddPortForward implements [hypervisor.DynamicForwarder].
func (b *Backend) AddPortForward(
	ctx context.Context,
	inst *hypervisor.Instance,
	forward hypervisor.PortForward,
) error {
	return b.hostfwd(ctx, inst, "hostfwd_add "+netdevID+" "+hostfwdRule(forward))
}

// RemovePortForward implements [hypervisor.DynamicForwarder].
func (b *Backend) RemovePortForward(
	ctx context.Context,
	inst *hypervisor.Instance,
	forward hypervisor.PortForward,
) error {
	rule := fmt.Sprintf("%s:%s:%d", forward.Proto(), forward.HostAddr, forward.HostPort)
	return b.hostfwd(ctx, inst, "hostfwd_remove "+netdevID+" "+rule)
}

func (b *Backend) hostfwd(ctx context.Context, inst *hypervisor.Instance, cmdline string) error {
	if !b.IsRunning(inst) {
		return hypervisor.ErrNotRunning
	}

	if inst.ControlSocket == "" {
		return fmt.Errorf("%w: no control socket", ErrNoNetwork)
	}

	slog.Debug("Change port forward", slog.String("command", cmdline))

	return withQMP(ctx, inst.ControlSocket, func(c *qmpClient) error {
		return c.humanMonitorCommand(cmdline)
	})
}

// command returns the executable and the arguments for the guest.
func (b *Backend) command(spec hypervisor.StartSpec, qmpSocket string) (string, []string, error) {
	if b.arch == "" {
		return "", nil, hypervisor.ErrArchNotSetUp
	}

	machine := b.machine
	machine.Kernel = spec.Blobs.Kernel
	machine.Initramfs = spec.Blobs.Initramfs
	machine.SMP = spec.SMP
	machine.Memory = spec.Memory
	machine.NoKVM = !spec.Accelerate
	machine.QMPSocket = qmpSocket
	machine.KernelArgs = spec.KernelArgs

	extra, err := parseOptions(spec.Options)
	if err != nil {
		return "", nil, err
	}

	machine.ExtraArgs = extra

	args, err := machine.Arguments()
	if err != nil {
		return "", nil, err
	}

	return machine.Executable, args, nil
}

func (b *Backend) track(cmd *exec.Cmd) *process {
	proc := &process{done: make(chan struct{})}

	b.mu.Lock()
	b.procs[cmd.Process.Pid] = proc
	b.mu.Unlock()

	go func() {
		proc.err = cmd.Wait()
		close(proc.done)
	}()

	return proc
}

// waitStarted waits for the QMP socket to appear. It fails early if QEMU
// exits, e.g. due to invalid arguments.
func (b *Backend) waitStarted(
	ctx context.Context,
	proc *process,
	socket string,
	timeout time.Duration,
) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if sys.FileExists(socket) {
			return nil
		}

		select {
		case <-proc.done:
			return &CommandError{Err: fmt.Errorf("exited during start: %w", proc.err)}
		case <-ctx.Done():
			return fmt.Errorf("%w: no control socket", hypervisor.ErrStartTimeout)
		case <-ticker.C:
		}
	}
}

func (b *Backend) cleanup(inst *hypervisor.Instance) {
	if inst == nil {
		return
	}

	if inst.ControlSocket != "" {
		_ = sys.RemoveIfExists(inst.ControlSocket)
	}

	b.mu.Lock()
	delete(b.procs, inst.PID)
	b.mu.Unlock()
}

func hostfwdRule(forward hypervisor.PortForward) string {
	return fmt.Sprintf("%s:%s:%d-:%d",
		forward.Proto(), forward.HostAddr, forward.HostPort, forward.GuestPort)
}

// escapeValue escapes commas, which separate QEMU option values.
func escapeValue(value string) string {
	return strings.ReplaceAll(value, ",", ",,")
}

// guestCID derives a stable vsock CID from the run directory, so separate
// instances do not collide.
func guestCID(runDir string) uint32 {
	hash := fnv.New32a()
	_, _ = hash.Write([]byte(runDir))

	return minGuestCID + hash.Sum32()%(1<<16)
}
