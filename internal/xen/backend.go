// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package xen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/aibor/vcontainer/internal/hypervisor"
	"github.com/aibor/vcontainer/internal/protocol"
	"github.com/aibor/vcontainer/internal/sys"
)

const (
	backendName = "xen"

	// ConsoleDevice is the guest console. The command channel is the next
	// PV console.
	ConsoleDevice = "hvc0"

	// DefaultBridge is the bridge guest interfaces are attached to.
	DefaultBridge = "xenbr0"

	// DefaultStopTimeout is the time a guest gets to shut down gracefully.
	DefaultStopTimeout = 30 * time.Second

	// DefaultARPTimeout bounds the guest address discovery.
	DefaultARPTimeout = 60 * time.Second

	pollInterval       = 250 * time.Millisecond
	defaultStartupWait = 30 * time.Second
)

var diskNames = []string{"xvda", "xvdb", "xvdc"}

// Config is the static configuration of a [Backend].
type Config struct {
	// BlobDir is the base directory of the guest blobs.
	BlobDir string

	// DomainName is the name of the domain. A random one is generated if
	// empty.
	DomainName string

	// Bridge for the guest network interface. Defaults to [DefaultBridge].
	Bridge string

	// ARPTable defaults to [DefaultARPTable].
	ARPTable string

	ARPTimeout  time.Duration
	StopTimeout time.Duration

	// ConsoleCommand is started detached to copy the domain console into
	// the log file. Defaults to "xl console".
	ConsoleCommand []string

	// Verbose increases guest kernel logging.
	Verbose bool

	// Exec runs xl, xenstore-read and iptables. Defaults to
	// [sys.HostExecutor].
	Exec sys.Executor
}

// Backend is the Xen [hypervisor.Backend].
type Backend struct {
	cfg  Config
	arch sys.Arch
	mac  string
}

var (
	_ hypervisor.Backend          = (*Backend)(nil)
	_ hypervisor.DynamicForwarder = (*Backend)(nil)
)

// New creates a new Xen [Backend].
func New(cfg Config) *Backend {
	if cfg.DomainName == "" {
		cfg.DomainName = "vcontainer-" + uuid.NewString()[:8]
	}

	if cfg.Bridge == "" {
		cfg.Bridge = DefaultBridge
	}

	if cfg.ARPTable == "" {
		cfg.ARPTable = DefaultARPTable
	}

	if cfg.ARPTimeout == 0 {
		cfg.ARPTimeout = DefaultARPTimeout
	}

	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}

	if cfg.ConsoleCommand == nil {
		cfg.ConsoleCommand = []string{"xl", "console"}
	}

	if cfg.Exec == nil {
		cfg.Exec = sys.HostExecutor{}
	}

	return &Backend{cfg: cfg}
}

// Name implements [hypervisor.Backend].
func (*Backend) Name() string {
	return backendName
}

// DomainName returns the name of the domain.
func (b *Backend) DomainName() string {
	return b.cfg.DomainName
}

// SetupArch implements [hypervisor.Backend].
func (b *Backend) SetupArch(arch sys.Arch) (hypervisor.Blobs, error) {
	switch arch {
	case sys.AMD64, sys.ARM64:
	default:
		return hypervisor.Blobs{}, sys.ErrArchNotSupported
	}

	if !arch.IsNative() {
		return hypervisor.Blobs{}, fmt.Errorf("%w: %s", ErrNativeOnly, arch)
	}

	if _, err := b.cfg.Exec.LookPath("xl"); err != nil {
		return hypervisor.Blobs{}, fmt.Errorf("find xl: %w", err)
	}

	blobs := hypervisor.BlobPaths(b.cfg.BlobDir, arch)
	blobs.ConsoleDevice = ConsoleDevice

	if err := blobs.Check(); err != nil {
		return hypervisor.Blobs{}, err //nolint:wrapcheck
	}

	b.arch = arch

	return blobs, nil
}

// CheckAcceleration implements [hypervisor.Backend]. It selects PVH over PV
// guests.
func (b *Backend) CheckAcceleration(disable bool) bool {
	return !disable && b.arch != "" && b.arch.IsNative()
}

// BuildDiskOptions implements [hypervisor.Backend].
func (b *Backend) BuildDiskOptions(disks hypervisor.Disks) (hypervisor.Options, error) {
	if b.arch == "" {
		return nil, hypervisor.ErrArchNotSetUp
	}

	layout := disks.Layout()
	if len(layout) > len(diskNames) {
		return nil, fmt.Errorf("%w: %d", hypervisor.ErrTooManyDisks, len(layout))
	}

	opts := make(hypervisor.Options, 0, len(layout))

	for _, disk := range layout {
		if disk.Path == "" {
			return nil, fmt.Errorf("disk slot %d: %w", disk.Slot, sys.ErrEmptyPath)
		}

		access := "rw"
		if disk.ReadOnly {
			access = "ro"
		}

		opts = append(opts, option("disk",
			"format=raw",
			"vdev="+diskNames[disk.Slot],
			"access="+access,
			"target="+disk.Path,
		))
	}

	return opts, nil
}

// BuildNetworkOptions implements [hypervisor.Backend]. Forwards are
// installed after boot by [Backend.SetupPortForwards].
func (b *Backend) BuildNetworkOptions(
	enabled bool,
	_ []hypervisor.PortForward,
) (hypervisor.Options, error) {
	if b.arch == "" {
		return nil, hypervisor.ErrArchNotSetUp
	}

	if !enabled {
		b.mac = ""
		return nil, nil
	}

	b.mac = GuestMAC(b.cfg.DomainName)

	return hypervisor.Options{
		option("vif", "mac="+b.mac, "bridge="+b.cfg.Bridge),
	}, nil
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

	values := []string{"tag=" + tag, "security_model=none", "path=" + hostDir}

	return hypervisor.Options{option("p9", append(values, extra...)...)}, nil
}

// BuildDaemonChannelOptions implements [hypervisor.Backend]. The PTY path
// of the endpoint is only known after start.
func (b *Backend) BuildDaemonChannelOptions(
	_ string,
) (hypervisor.Options, protocol.Endpoint, error) {
	if b.arch == "" {
		return nil, protocol.Endpoint{}, hypervisor.ErrArchNotSetUp
	}

	opts := hypervisor.Options{
		option("channel", "name="+protocol.VirtioPortName, "connection=pty"),
	}

	return opts, protocol.Endpoint{Kind: protocol.ChannelHVC}, nil
}

// StartBackground implements [hypervisor.Backend].
//
// The domain is created paused, so the console logger attaches before the
// guest writes anything.
func (b *Backend) StartBackground(
	ctx context.Context,
	spec hypervisor.StartSpec,
) (*hypervisor.Instance, error) {
	name, cfgPath, err := b.writeConfig(spec)
	if err != nil {
		return nil, err
	}

	if _, err := b.cfg.Exec.Run(ctx, "xl", "create", "-p", cfgPath); err != nil {
		return nil, fmt.Errorf("create domain: %w", err)
	}

	inst := &hypervisor.Instance{
		ID:         name,
		Hypervisor: backendName,
		Channel:    spec.Channel,
		LogFile:    spec.LogFile,
		GuestMAC:   b.mac,
		Forwards:   spec.Forwards,
		StartedAt:  time.Now(),
	}

	fail := func(err error) (*hypervisor.Instance, error) {
		_ = b.Destroy(context.WithoutCancel(ctx), inst)
		return nil, err
	}

	if spec.LogFile != "" {
		if err := b.startConsoleLogger(name, spec.LogFile); err != nil {
			return fail(err)
		}
	}

	if _, err := b.cfg.Exec.Run(ctx, "xl", "unpause", name); err != nil {
		return fail(fmt.Errorf("unpause domain: %w", err))
	}

	if inst.Channel.Kind == protocol.ChannelHVC {
		timeout := spec.StartTimeout
		if timeout == 0 {
			timeout = defaultStartupWait
		}

		pty, err := b.channelPTY(ctx, name, timeout)
		if err != nil {
			return fail(err)
		}

		inst.Channel.Path = pty
	}

	slog.Debug("Xen domain started",
		slog.String("domain", name),
		slog.String("channel", inst.Channel.String()))

	return inst, nil
}

// StartForeground implements [hypervisor.Backend].
func (b *Backend) StartForeground(
	ctx context.Context,
	spec hypervisor.StartSpec,
	stdio hypervisor.IO,
) error {
	name, cfgPath, err := b.writeConfig(spec)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, "xl", "create", "-c", cfgPath)
	cmd.Stdin = stdio.Stdin
	cmd.Stdout = stdio.Stdout
	cmd.Stderr = stdio.Stderr
	cmd.WaitDelay = b.cfg.StopTimeout

	slog.Debug("Run Xen domain", slog.String("command", cmd.String()))

	runErr := cmd.Run()

	// The domain outlives the console if xl got canceled.
	inst := &hypervisor.Instance{ID: name}
	if b.IsRunning(inst) {
		if err := b.Destroy(context.WithoutCancel(ctx), inst); err != nil {
			slog.Warn("Destroy domain", slog.Any("error", err))
		}
	}

	if runErr != nil {
		return fmt.Errorf("xl create: %w", runErr)
	}

	return nil
}

// IsRunning implements [hypervisor.Backend].
func (b *Backend) IsRunning(inst *hypervisor.Instance) bool {
	if inst == nil || inst.ID == "" {
		return false
	}

	_, err := b.domid(context.Background(), inst.ID)

	return err == nil
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
func (b *Backend) Stop(ctx context.Context, inst *hypervisor.Instance) error {
	if !b.IsRunning(inst) {
		return nil
	}

	if _, err := b.cfg.Exec.Run(ctx, "xl", "shutdown", inst.ID); err != nil {
		slog.Debug("Graceful domain shutdown failed", slog.Any("error", err))
	} else if b.WaitExit(ctx, inst, b.cfg.StopTimeout) {
		return nil
	}

	slog.Warn("Domain did not stop in time, destroying it",
		slog.String("domain", inst.ID))

	return b.Destroy(ctx, inst)
}

// Destroy implements [hypervisor.Backend].
func (b *Backend) Destroy(ctx context.Context, inst *hypervisor.Instance) error {
	if !b.IsRunning(inst) {
		return nil
	}

	if _, err := b.cfg.Exec.Run(ctx, "xl", "destroy", inst.ID); err != nil {
		return fmt.Errorf("destroy domain: %w", err)
	}

	return nil
}

// SetupPortForwards implements [hypervisor.Backend].
func (b *Backend) SetupPortForwards(
	ctx context.Context,
	inst *hypervisor.Instance,
	forwards []hypervisor.PortForward,
) error {
	if len(forwards) == 0 {
		return nil
	}

	guest, err := b.guestAddress(ctx, inst)
	if err != nil {
		return err
	}

	if err := b.applyNAT(ctx, "-A", guest, forwards); err != nil {
		return err
	}

	inst.Forwards = forwards

	return nil
}

// CleanupPortForwards implements [hypervisor.Backend].
func (b *Backend) CleanupPortForwards(ctx context.Context, inst *hypervisor.Instance) error {
	if len(inst.Forwards) == 0 || inst.GuestAddress == "" {
		return nil
	}

	err := b.applyNAT(ctx, "-D", inst.GuestAddress, inst.Forwards)
	inst.Forwards = nil

	return err
}

// IdleShutdown implements [hypervisor.Backend].
func (b *Backend) IdleShutdown(ctx context.Context, inst *hypervisor.Instance) error {
	return errors.Join(
		b.CleanupPortForwards(ctx, inst),
		b.Stop(ctx, inst),
	)
}

// AddPortForward implements [hypervisor.DynamicForwarder].
func (b *Backend) AddPortForward(
	ctx context.Context,
	inst *hypervisor.Instance,
	forward hypervisor.PortForward,
) error {
	if !b.IsRunning(inst) {
		return hypervisor.ErrNotRunning
	}

	guest, err := b.guestAddress(ctx, inst)
	if err != nil {
		return err
	}

	if err := b.applyNAT(ctx, "-A", guest, []hypervisor.PortForward{forward}); err != nil {
		return err
	}

	inst.Forwards = append(inst.Forwards, forward)

	return nil
}

// RemovePortForward implements [hypervisor.DynamicForwarder].
func (b *Backend) RemovePortForward(
	ctx context.Context,
	inst *hypervisor.Instance,
	forward hypervisor.PortForward,
) error {
	if inst.GuestAddress == "" {
		return fmt.Errorf("%w: %s", hypervisor.ErrNoGuestAddress, inst.ID)
	}

	err := b.applyNAT(ctx, "-D", inst.GuestAddress, []hypervisor.PortForward{forward})

	for idx, existing := range inst.Forwards {
		if existing.HostPort == forward.HostPort && existing.Proto() == forward.Proto() {
			inst.Forwards = append(inst.Forwards[:idx], inst.Forwards[idx+1:]...)
			break
		}
	}

	return err
}

func (b *Backend) guestAddress(ctx context.Context, inst *hypervisor.Instance) (string, error) {
	if inst.GuestAddress != "" {
		return inst.GuestAddress, nil
	}

	if inst.GuestMAC == "" {
		return "", fmt.Errorf("%w: guest has no network", hypervisor.ErrNoGuestAddress)
	}

	addr, err := b.discoverAddress(ctx, inst.GuestMAC)
	if err != nil {
		return "", err
	}

	inst.GuestAddress = addr.String()

	return inst.GuestAddress, nil
}

// writeConfig renders the domain configuration into the run directory.
func (b *Backend) writeConfig(spec hypervisor.StartSpec) (string, string, error) {
	if b.arch == "" {
		return "", "", hypervisor.ErrArchNotSetUp
	}

	name := spec.Name
	if name == "" {
		name = b.cfg.DomainName
	}

	domainType := "pv"
	if spec.Accelerate {
		domainType = "pvh"
	}

	extra := []string{"console=" + ConsoleDevice, "panic=-1"}
	if b.cfg.Verbose {
		extra = append(extra, "debug")
	} else {
		extra = append(extra, "quiet")
	}

	domain := DomainConfig{
		Name:    name,
		Type:    domainType,
		Kernel:  spec.Blobs.Kernel,
		Ramdisk: spec.Blobs.Initramfs,
		Extra:   append(extra, spec.KernelArgs...),
		Memory:  spec.Memory,
		VCPUs:   max(spec.SMP, 1),
		Options: spec.Options,
	}

	content, err := domain.Render()
	if err != nil {
		return "", "", err
	}

	runDir := spec.RunDir
	if runDir == "" {
		runDir = os.TempDir()
	}

	cfgPath := filepath.Join(runDir, name+".cfg")
	if err := os.WriteFile(cfgPath, content, 0o600); err != nil {
		return "", "", fmt.Errorf("write domain config: %w", err)
	}

	return name, cfgPath, nil
}

func (b *Backend) domid(ctx context.Context, name string) (int, error) {
	out, err := b.cfg.Exec.Run(ctx, "xl", "domid", name)
	if err != nil {
		return 0, fmt.Errorf("domid: %w", err)
	}

	domid, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0, fmt.Errorf("parse domid: %w", err)
	}

	return domid, nil
}

// channelPTY reads the host PTY of the command channel from xenstore. The
// channel is the second PV console of the domain.
func (b *Backend) channelPTY(ctx context.Context, name string, timeout time.Duration) (string, error) {
	domid, err := b.domid(ctx, name)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("/local/domain/%d/device/console/1/tty", domid)

	var pty string

	found := hypervisor.PollUntil(ctx, pollInterval, timeout, func() bool {
		out, err := b.cfg.Exec.Run(ctx, "xenstore-read", key)
		if err != nil {
			return false
		}

		pty = strings.TrimSpace(string(out))

		return pty != ""
	})
	if !found {
		return "", fmt.Errorf("%w: %s", ErrNoChannel, key)
	}

	return pty, nil
}

// startConsoleLogger copies the domain console into the log file. The
// logger runs in its own session and ends with the domain.
func (b *Backend) startConsoleLogger(name, logPath string) error {
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	args := append(append([]string(nil), b.cfg.ConsoleCommand[1:]...), name)

	//nolint:gosec
	cmd := exec.Command(b.cfg.ConsoleCommand[0], args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start console logger: %w", err)
	}

	// Reap the logger if it ends while this process still runs.
	go func() { _ = cmd.Wait() }()

	return nil
}
