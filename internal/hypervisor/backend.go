// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package hypervisor

import (
	"context"
	"io"
	"time"

	"github.com/aibor/vcontainer/internal/protocol"
	"github.com/aibor/vcontainer/internal/sys"
)

// Options is an ordered list of backend specific tokens, like QEMU command
// line arguments or Xen domain configuration lines.
type Options []string

// StartSpec is everything needed to start a guest.
type StartSpec struct {
	// Name identifies the guest, e.g. as Xen domain name.
	Name string

	Blobs   Blobs
	Options Options

	// KernelArgs are appended to the backend's own kernel arguments.
	KernelArgs []string

	Memory     uint64
	SMP        uint64
	Accelerate bool

	// Channel is the command channel endpoint as returned by
	// [Backend.BuildDaemonChannelOptions]. Empty for one shot guests.
	Channel protocol.Endpoint

	// Forwards are the port forwards declared before boot.
	Forwards []PortForward

	// RunDir holds runtime files like sockets and the domain configuration.
	RunDir string

	// LogFile receives the guest console output of background guests.
	LogFile string

	// StartTimeout bounds the time until the guest is started. It does not
	// include the guest boot.
	StartTimeout time.Duration
}

// Instance is a running guest. It is persisted in the state directory, so
// it must remain serializable.
type Instance struct {
	// ID is the hypervisor assigned identifier: the PID for QEMU, the domain
	// name for Xen.
	ID string `json:"id"`

	// PID of the host process, if any.
	PID int `json:"pid,omitempty"`

	Hypervisor string            `json:"hypervisor"`
	Channel    protocol.Endpoint `json:"channel"`

	// ControlSocket is the QEMU QMP socket.
	ControlSocket string `json:"control_socket,omitempty"`

	LogFile string `json:"log_file,omitempty"`

	// GuestMAC and GuestAddress are used for NAT based port forwards.
	GuestMAC     string `json:"guest_mac,omitempty"`
	GuestAddress string `json:"guest_address,omitempty"`

	Forwards  []PortForward `json:"forwards,omitempty"`
	StartedAt time.Time     `json:"started_at"`
}

// IO are the standard streams connected to a foreground guest.
type IO struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Backend is implemented by each hypervisor.
type Backend interface {
	// Name returns the hypervisor name.
	Name() string

	// SetupArch selects the target architecture and returns its blobs.
	// Must be called before any other method besides Name.
	SetupArch(arch sys.Arch) (Blobs, error)

	// CheckAcceleration returns true if hardware acceleration can be used.
	CheckAcceleration(disable bool) bool

	BuildDiskOptions(disks Disks) (Options, error)
	BuildNetworkOptions(enabled bool, forwards []PortForward) (Options, error)
	BuildShareOptions(hostDir, tag string, extra ...string) (Options, error)
	BuildDaemonChannelOptions(runDir string) (Options, protocol.Endpoint, error)

	// StartBackground starts the guest detached from the calling process.
	StartBackground(ctx context.Context, spec StartSpec) (*Instance, error)

	// StartForeground runs the guest with its console connected to stdio
	// and blocks until it exits.
	StartForeground(ctx context.Context, spec StartSpec, stdio IO) error

	IsRunning(inst *Instance) bool

	// WaitExit waits up to timeout for the guest to exit and returns true
	// if it did.
	WaitExit(ctx context.Context, inst *Instance, timeout time.Duration) bool

	// Stop stops the guest gracefully and destroys it if it does not exit
	// in time.
	Stop(ctx context.Context, inst *Instance) error

	// Destroy stops the guest immediately.
	Destroy(ctx context.Context, inst *Instance) error

	SetupPortForwards(ctx context.Context, inst *Instance, forwards []PortForward) error
	CleanupPortForwards(ctx context.Context, inst *Instance) error

	// IdleShutdown stops an idle guest, best effort.
	IdleShutdown(ctx context.Context, inst *Instance) error
}

// DynamicForwarder is implemented by backends that can add port forwards
// to running guests.
type DynamicForwarder interface {
	AddPortForward(ctx context.Context, inst *Instance, forward PortForward) error
	RemovePortForward(ctx context.Context, inst *Instance, forward PortForward) error
}
