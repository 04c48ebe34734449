// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package orchestrator_test

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aibor/vcontainer/internal/agent"
	"github.com/aibor/vcontainer/internal/hypervisor"
	"github.com/aibor/vcontainer/internal/orchestrator"
	"github.com/aibor/vcontainer/internal/protocol"
	"github.com/aibor/vcontainer/internal/sys"
)

var errNoTerminal = errors.New("no terminal")

type runResult struct {
	output string
	code   int
}

// scriptRunner answers guest commands by their space joined command line.
// Unknown commands succeed without output.
type scriptRunner struct {
	mu      sync.Mutex
	results map[string]runResult
	calls   []string

	// onRun is called for each command before it is answered.
	onRun func(cmdline string)
}

func (r *scriptRunner) set(cmdline string, result runResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.results == nil {
		r.results = map[string]runResult{}
	}

	r.results[cmdline] = result
}

func (r *scriptRunner) Run(
	_ context.Context,
	args []string,
	stdout, _ io.Writer,
) (int, error) {
	cmdline := strings.Join(args, " ")

	r.mu.Lock()
	r.calls = append(r.calls, cmdline)
	result := r.results[cmdline]
	onRun := r.onRun
	r.mu.Unlock()

	if onRun != nil {
		onRun(cmdline)
	}

	_, _ = io.WriteString(stdout, result.output)

	return result.code, nil
}

func (*scriptRunner) StartTerminal(context.Context, []string) (agent.Terminal, error) {
	return nil, errNoTerminal
}

func (r *scriptRunner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.calls...)
}

type fakeGuest struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (g *fakeGuest) exited() bool {
	select {
	case <-g.done:
		return true
	default:
		return false
	}
}

// fakeBackend runs daemon guests as in-process agents serving the channel
// socket. One shot guests write their console log with console.
type fakeBackend struct {
	runner *scriptRunner

	// console writes the console log of one shot guests.
	console func(w io.Writer) error

	// foreground runs interactive one shot guests.
	foreground func(stdio hypervisor.IO) error

	// keepRunning one shot guests until stopped.
	keepRunning bool

	// noAgent lets daemon guests exit right away.
	noAgent bool

	mu       sync.Mutex
	guests   map[string]*fakeGuest
	specs    []hypervisor.StartSpec
	shareDir string
	stopped  []string
	forwards []hypervisor.PortForward
	nextID   int
}

var (
	_ hypervisor.Backend          = (*fakeBackend)(nil)
	_ hypervisor.DynamicForwarder = (*fakeBackend)(nil)
)

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()

	backend := &fakeBackend{
		runner: &scriptRunner{},
		guests: map[string]*fakeGuest{},
	}

	t.Cleanup(backend.shutdownAll)

	return backend
}

func (*fakeBackend) Name() string { return "fake" }

func (*fakeBackend) SetupArch(sys.Arch) (hypervisor.Blobs, error) {
	return hypervisor.Blobs{
		Kernel:        "/blobs/bzImage",
		Initramfs:     "/blobs/initramfs.cpio.gz",
		Rootfs:        "/blobs/rootfs.img",
		ConsoleDevice: "ttyS0",
	}, nil
}

func (*fakeBackend) CheckAcceleration(disable bool) bool { return !disable }

func (*fakeBackend) BuildDiskOptions(disks hypervisor.Disks) (hypervisor.Options, error) {
	var opts hypervisor.Options
	for _, disk := range disks.Layout() {
		opts = append(opts, "disk="+disk.Path)
	}

	return opts, nil
}

func (*fakeBackend) BuildNetworkOptions(
	enabled bool,
	_ []hypervisor.PortForward,
) (hypervisor.Options, error) {
	if !enabled {
		return nil, nil
	}

	return hypervisor.Options{"net"}, nil
}

func (b *fakeBackend) BuildShareOptions(hostDir, tag string, _ ...string) (hypervisor.Options, error) {
	b.mu.Lock()
	b.shareDir = hostDir
	b.mu.Unlock()

	return hypervisor.Options{"share=" + tag}, nil
}

func (*fakeBackend) BuildDaemonChannelOptions(runDir string) (hypervisor.Options, protocol.Endpoint, error) {
	return hypervisor.Options{"channel"}, protocol.Endpoint{
		Kind: protocol.ChannelVirtio,
		Path: filepath.Join(runDir, "d.sock"),
	}, nil
}

func (b *fakeBackend) StartBackground(
	_ context.Context,
	spec hypervisor.StartSpec,
) (*hypervisor.Instance, error) {
	b.mu.Lock()
	b.nextID++
	id := strconv.Itoa(b.nextID)
	b.specs = append(b.specs, spec)
	shareDir := b.shareDir
	b.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	guest := &fakeGuest{cancel: cancel, done: make(chan struct{})}

	switch {
	case spec.Channel.Path != "" && !b.noAgent:
		if err := b.serve(ctx, guest, spec.Channel.Path, shareDir); err != nil {
			cancel()
			return nil, err
		}
	case spec.Channel.Path == "" && b.console != nil:
		if err := b.writeConsole(spec.LogFile); err != nil {
			cancel()
			return nil, err
		}

		fallthrough
	default:
		go func() {
			defer close(guest.done)

			if b.keepRunning {
				<-ctx.Done()
			}
		}()
	}

	b.mu.Lock()
	b.guests[id] = guest
	b.mu.Unlock()

	return &hypervisor.Instance{
		ID:         id,
		Hypervisor: "fake",
		PID:        os.Getpid(),
		Channel:    spec.Channel,
		LogFile:    spec.LogFile,
		Forwards:   spec.Forwards,
		StartedAt:  time.Now(),
	}, nil
}

func (b *fakeBackend) writeConsole(path string) error {
	file, err := openAppend(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return b.console(file)
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func (b *fakeBackend) serve(ctx context.Context, guest *fakeGuest, path, shareDir string) error {
	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return err
	}

	conn := agent.NewListenerConn(listener)
	guestAgent := &agent.Agent{
		Runner:        b.runner,
		Runtime:       "docker",
		ShareDir:      shareDir,
		RetryInterval: 10 * time.Millisecond,
	}

	go func() {
		defer close(guest.done)
		defer conn.Close()

		_ = guestAgent.Serve(ctx, conn)
	}()

	return nil
}

func (b *fakeBackend) StartForeground(
	_ context.Context,
	spec hypervisor.StartSpec,
	stdio hypervisor.IO,
) error {
	b.mu.Lock()
	b.specs = append(b.specs, spec)
	b.mu.Unlock()

	return b.foreground(stdio)
}

func (b *fakeBackend) guest(inst *hypervisor.Instance) (*fakeGuest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	guest, exists := b.guests[inst.ID]

	return guest, exists
}

func (b *fakeBackend) IsRunning(inst *hypervisor.Instance) bool {
	guest, exists := b.guest(inst)
	return exists && !guest.exited()
}

func (b *fakeBackend) WaitExit(ctx context.Context, inst *hypervisor.Instance, timeout time.Duration) bool {
	return hypervisor.PollUntil(ctx, 5*time.Millisecond, timeout, func() bool {
		return !b.IsRunning(inst)
	})
}

func (b *fakeBackend) Stop(_ context.Context, inst *hypervisor.Instance) error {
	b.mu.Lock()
	b.stopped = append(b.stopped, inst.ID)
	b.mu.Unlock()

	if guest, exists := b.guest(inst); exists {
		guest.cancel()
		<-guest.done
	}

	return nil
}

func (b *fakeBackend) Destroy(ctx context.Context, inst *hypervisor.Instance) error {
	return b.Stop(ctx, inst)
}

func (*fakeBackend) SetupPortForwards(context.Context, *hypervisor.Instance, []hypervisor.PortForward) error {
	return nil
}

func (*fakeBackend) CleanupPortForwards(context.Context, *hypervisor.Instance) error {
	return nil
}

func (b *fakeBackend) IdleShutdown(ctx context.Context, inst *hypervisor.Instance) error {
	return b.Stop(ctx, inst)
}

func (b *fakeBackend) AddPortForward(
	_ context.Context,
	inst *hypervisor.Instance,
	forward hypervisor.PortForward,
) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.forwards = append(b.forwards, forward)
	inst.Forwards = append(inst.Forwards, forward)

	return nil
}

func (b *fakeBackend) RemovePortForward(
	_ context.Context,
	inst *hypervisor.Instance,
	forward hypervisor.PortForward,
) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for idx, existing := range b.forwards {
		if existing.HostPort == forward.HostPort {
			b.forwards = append(b.forwards[:idx], b.forwards[idx+1:]...)
			break
		}
	}

	for idx, existing := range inst.Forwards {
		if existing.HostPort == forward.HostPort && existing.Proto() == forward.Proto() {
			inst.Forwards = append(inst.Forwards[:idx], inst.Forwards[idx+1:]...)
			break
		}
	}

	return nil
}

func (b *fakeBackend) Forwards() []hypervisor.PortForward {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]hypervisor.PortForward(nil), b.forwards...)
}

func (b *fakeBackend) Specs() []hypervisor.StartSpec {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]hypervisor.StartSpec(nil), b.specs...)
}

func (b *fakeBackend) Stopped() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]string(nil), b.stopped...)
}

func (b *fakeBackend) shutdownAll() {
	b.mu.Lock()
	guests := make([]*fakeGuest, 0, len(b.guests))
	for _, guest := range b.guests {
		guests = append(guests, guest)
	}
	b.mu.Unlock()

	for _, guest := range guests {
		guest.cancel()
		<-guest.done
	}
}

func newOrchestrator(t *testing.T, backend *fakeBackend) *orchestrator.Orchestrator {
	t.Helper()

	return &orchestrator.Orchestrator{
		Backend:       backend,
		Exec:          &sys.FakeExecutor{},
		TempDir:       t.TempDir(),
		ReadyTimeout:  5 * time.Second,
		ReadyInterval: 10 * time.Millisecond,
		PollInterval:  10 * time.Millisecond,
		GracefulWait:  time.Second,
		StartTimeout:  time.Second,
	}
}

func requireKernelArg(t *testing.T, spec hypervisor.StartSpec, arg string) {
	t.Helper()
	require.Contains(t, spec.KernelArgs, arg)
}
