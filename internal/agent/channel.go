// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mdlayher/vsock"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/aibor/vcontainer/internal/protocol"
)

// VirtioPortsDir lists the virtio-serial ports with their names. Without
// udev there are no /dev/virtio-ports links, so the port device is looked up
// here.
const VirtioPortsDir = "/sys/class/virtio-ports"

// OpenChannel opens the guest side of the command channel.
func OpenChannel(kind protocol.ChannelKind) (protocol.Conn, error) {
	switch kind {
	case "", protocol.ChannelVirtio:
		device, err := FindVirtioPort(VirtioPortsDir, protocol.VirtioPortName)
		if err != nil {
			return nil, err
		}

		return openDevice(device, false)
	case protocol.ChannelHVC:
		return openDevice(protocol.HVCDevice, true)
	case protocol.ChannelVsock:
		listener, err := vsock.Listen(protocol.VsockPort, nil)
		if err != nil {
			return nil, fmt.Errorf("listen vsock: %w", err)
		}

		return NewListenerConn(listener), nil
	default:
		return nil, fmt.Errorf("%w: %s", protocol.ErrUnknownChannel, kind)
	}
}

// FindVirtioPort returns the device path of the virtio-serial port with the
// given name.
func FindVirtioPort(portsDir, name string) (string, error) {
	entries, err := os.ReadDir(portsDir)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPortNotFound, err)
	}

	for _, entry := range entries {
		portName, err := os.ReadFile(filepath.Join(portsDir, entry.Name(), "name"))
		if err != nil {
			continue
		}

		if strings.TrimSpace(string(portName)) == name {
			return "/dev/" + entry.Name(), nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrPortNotFound, name)
}

// openDevice opens a character device as channel. Consoles are switched into
// raw mode, so requests are neither echoed nor line edited.
func openDevice(path string, console bool) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if !console {
		return file, nil
	}

	rawConn, err := file.SyscallConn()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("console raw conn: %w", err)
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
		return nil, fmt.Errorf("set console raw mode: %w", err)
	}

	return file, nil
}

// deadlineListener is a [net.Listener] with accept deadline, like
// [vsock.Listener] and [net.UnixListener].
type deadlineListener interface {
	net.Listener
	SetDeadline(t time.Time) error
}

// ListenerConn is a [protocol.Conn] on top of a listener. Each connection of
// the host is one session: once the host closed it, reads return
// [io.EOF] and the next read accepts a new connection.
type ListenerConn struct {
	listener deadlineListener

	mu       sync.Mutex
	conn     net.Conn
	deadline time.Time
}

var _ protocol.Conn = (*ListenerConn)(nil)

// NewListenerConn creates a new [ListenerConn].
func NewListenerConn(listener deadlineListener) *ListenerConn {
	return &ListenerConn{listener: listener}
}

// Read implements [io.Reader].
func (c *ListenerConn) Read(data []byte) (int, error) {
	conn, err := c.current()
	if err != nil {
		return 0, err
	}

	n, err := conn.Read(data)
	if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
		c.drop(conn)
	}

	return n, err //nolint:wrapcheck
}

// Write implements [io.Writer].
func (c *ListenerConn) Write(data []byte) (int, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return 0, ErrNoConnection
	}

	return conn.Write(data) //nolint:wrapcheck
}

// SetReadDeadline implements [protocol.Conn]. It applies to accepting new
// connections as well.
func (c *ListenerConn) SetReadDeadline(deadline time.Time) error {
	c.mu.Lock()
	c.deadline = deadline
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return fmt.Errorf("set connection deadline: %w", err)
		}
	}

	if err := c.listener.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set listener deadline: %w", err)
	}

	return nil
}

// Close closes the current connection and the listener.
func (c *ListenerConn) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	return c.listener.Close() //nolint:wrapcheck
}

func (c *ListenerConn) current() (net.Conn, error) {
	c.mu.Lock()
	conn, deadline := c.conn, c.deadline
	c.mu.Unlock()

	if conn != nil {
		return conn, nil
	}

	if err := c.listener.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set listener deadline: %w", err)
	}

	conn, err := c.listener.Accept()
	if err != nil {
		return nil, fmt.Errorf("accept: %w", err)
	}

	c.mu.Lock()
	deadline = c.deadline
	c.conn = conn
	c.mu.Unlock()

	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set connection deadline: %w", err)
	}

	return conn, nil
}

func (c *ListenerConn) drop(conn net.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()

	_ = conn.Close()
}
