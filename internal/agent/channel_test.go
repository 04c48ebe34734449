// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent_test

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aibor/vcontainer/internal/agent"
	"github.com/aibor/vcontainer/internal/protocol"
)

func TestFindVirtioPort(t *testing.T) {
	portsDir := t.TempDir()

	for entry, name := range map[string]string{
		"vport0p1": "org.qemu.guest_agent.0",
		"vport1p1": protocol.VirtioPortName,
	} {
		dir := filepath.Join(portsDir, entry)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "name"), []byte(name+"\n"), 0o600))
	}

	t.Run("found", func(t *testing.T) {
		device, err := agent.FindVirtioPort(portsDir, protocol.VirtioPortName)
		require.NoError(t, err)
		assert.Equal(t, "/dev/vport1p1", device)
	})

	t.Run("unknown name", func(t *testing.T) {
		_, err := agent.FindVirtioPort(portsDir, "other")
		require.ErrorIs(t, err, agent.ErrPortNotFound)
	})

	t.Run("no ports", func(t *testing.T) {
		_, err := agent.FindVirtioPort(filepath.Join(portsDir, "missing"), "other")
		require.ErrorIs(t, err, agent.ErrPortNotFound)
	})
}

func TestListenerConnSessions(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "channel.sock")

	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: socket, Net: "unix"})
	require.NoError(t, err)

	conn := agent.NewListenerConn(listener)
	t.Cleanup(func() { _ = conn.Close() })

	errCh := make(chan error, 1)

	go func() {
		errCh <- (&agent.Agent{
			Runner:        &fakeRunner{},
			RetryInterval: 10 * time.Millisecond,
		}).Serve(t.Context(), conn)
	}()

	endpoint := protocol.Endpoint{Kind: protocol.ChannelVirtio, Path: socket}

	// Each client connection is a session of its own.
	first, err := protocol.Dial(t.Context(), endpoint)
	require.NoError(t, err)
	require.NoError(t, first.Ping(t.Context()))
	require.NoError(t, first.Close())

	second, err := protocol.Dial(t.Context(), endpoint)
	require.NoError(t, err)
	require.NoError(t, second.Ping(t.Context()))
	require.NoError(t, second.Shutdown(t.Context()))
	require.NoError(t, second.Close())

	require.NoError(t, <-errCh)
}

func TestListenerConnWriteWithoutConnection(t *testing.T) {
	listener, err := net.ListenUnix("unix", &net.UnixAddr{
		Name: filepath.Join(t.TempDir(), "channel.sock"),
		Net:  "unix",
	})
	require.NoError(t, err)

	conn := agent.NewListenerConn(listener)
	t.Cleanup(func() { _ = conn.Close() })

	_, err = conn.Write([]byte("x"))
	require.ErrorIs(t, err, agent.ErrNoConnection)

	require.NoError(t, conn.SetReadDeadline(time.Now()))

	_, err = conn.Read(make([]byte, 1))
	require.ErrorIs(t, err, os.ErrDeadlineExceeded)
}
