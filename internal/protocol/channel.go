// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package protocol

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/mdlayher/vsock"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// Guest side addresses of the command channel.
const (
	// VirtioPortName is the name of the virtio-serial port. The guest opens
	// it as "/dev/virtio-ports/<name>".
	VirtioPortName = "vcontainer.cmd"

	// HVCDevice is the Xen PV console carrying the channel in the guest.
	HVCDevice = "/dev/hvc1"

	// VsockPort is the port the guest listens on for vsock channels.
	VsockPort uint32 = 1024
)

// Conn is a bidirectional command channel connection.
type Conn interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}

var (
	_ Conn = (net.Conn)(nil)
	_ Conn = (*os.File)(nil)
)

// Endpoint is the host side address of a command channel.
type Endpoint struct {
	// Kind of the channel.
	Kind ChannelKind `json:"kind"`

	// Path is the Unix socket path for [ChannelVirtio] and the PTY device
	// path for [ChannelHVC].
	Path string `json:"path,omitempty"`

	// CID and Port address [ChannelVsock] endpoints.
	CID  uint32 `json:"cid,omitempty"`
	Port uint32 `json:"port,omitempty"`
}

// String returns a human readable representation for logs.
func (e Endpoint) String() string {
	if e.Kind == ChannelVsock {
		return fmt.Sprintf("%s:%d:%d", e.Kind, e.CID, e.Port)
	}

	return fmt.Sprintf("%s:%s", e.Kind, e.Path)
}

// DialConn opens a connection to the given endpoint.
func DialConn(ctx context.Context, endpoint Endpoint) (Conn, error) {
	switch endpoint.Kind {
	case ChannelVirtio:
		var dialer net.Dialer

		conn, err := dialer.DialContext(ctx, "unix", endpoint.Path)
		if err != nil {
			return nil, fmt.Errorf("dial socket: %w", err)
		}

		return conn, nil
	case ChannelHVC:
		return openPTY(endpoint.Path)
	case ChannelVsock:
		conn, err := vsock.Dial(endpoint.CID, endpoint.Port, nil)
		if err != nil {
			return nil, fmt.Errorf("dial vsock: %w", err)
		}

		return conn, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, endpoint.Kind)
	}
}

// openPTY opens the host side of a PTY backed console and switches it into
// raw mode, so the requests are neither echoed nor line edited.
func openPTY(path string) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open pty: %w", err)
	}

	// File.Fd would switch the file into blocking mode and break read
	// deadlines, so go through the raw connection.
	rawConn, err := file.SyscallConn()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("pty raw conn: %w", err)
	}

	var rawErr error

	err = rawConn.Control(func(fd uintptr) {
		_, rawErr = term.MakeRaw(int(fd))
	})
	if err == nil {
		err = rawErr
	}

	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("set pty raw mode: %w", err)
	}

	return file, nil
}

// Guest view of the shared directory, exported by the host with 9p.
const (
	// ShareTag is the 9p mount tag of the shared directory.
	ShareTag = "vcshare"

	// ShareMountPoint is where the guest mounts the shared directory.
	ShareMountPoint = "/mnt/share"

	// InputMountPoint is where one shot guests mount the input disk. It is
	// the substitution for [InputPlaceholder] of the boot command.
	InputMountPoint = "/mnt/input"

	// ShareInputDir is the directory below the share holding the input of
	// daemon commands. It is the substitution for [InputPlaceholder] of
	// input-needed requests.
	ShareInputDir = "input"

	// VolumesDir is the directory below the share holding staged volumes.
	VolumesDir = "volumes"

	// ContainersRunningMarker is the file below the share that exists while
	// at least one container runs in the guest.
	ContainersRunningMarker = ".status/containers-running"
)
