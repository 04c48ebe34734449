// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package orchestrator_test

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aibor/vcontainer/internal/hypervisor"
	"github.com/aibor/vcontainer/internal/orchestrator"
	"github.com/aibor/vcontainer/internal/protocol"
	"github.com/aibor/vcontainer/internal/staging"
)

func TestLayoutInstance(t *testing.T) {
	layout := orchestrator.Layout{Dir: t.TempDir()}

	_, err := layout.ReadInstance()
	require.ErrorIs(t, err, orchestrator.ErrDaemonNotRunning)

	inst := &hypervisor.Instance{
		ID:         "4242",
		PID:        4242,
		Hypervisor: "qemu",
		Channel: protocol.Endpoint{
			Kind: protocol.ChannelVirtio,
			Path: "/run/daemon.sock",
		},
		Forwards:  []hypervisor.PortForward{hypervisor.MustParsePortForward("8080:80")},
		StartedAt: time.Unix(1700000000, 0).UTC(),
	}

	require.NoError(t, layout.WriteInstance(inst))

	read, err := layout.ReadInstance()
	require.NoError(t, err)
	assert.Equal(t, inst, read)

	pid, err := os.ReadFile(layout.PIDFile())
	require.NoError(t, err)
	assert.Equal(t, "4242\n", string(pid))

	require.NoError(t, layout.Touch())
	require.NoError(t, layout.Registry().Add(staging.RegistryEntry{
		Forward:   hypervisor.MustParsePortForward("8080:80"),
		Container: "web",
	}))

	require.NoError(t, layout.Clear())

	for _, path := range []string{
		layout.ChannelFile(),
		layout.PIDFile(),
		layout.ActivityFile(),
		layout.Registry().Path,
	} {
		assert.NoFileExists(t, path)
	}
}

func TestLayoutActivity(t *testing.T) {
	layout := orchestrator.Layout{Dir: t.TempDir()}

	_, err := layout.LastActivity()
	require.Error(t, err)

	before := time.Now().Truncate(time.Second)

	require.NoError(t, layout.Touch())

	last, err := layout.LastActivity()
	require.NoError(t, err)
	assert.False(t, last.Before(before))

	old := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	require.NoError(t, os.WriteFile(layout.ActivityFile(), []byte(old), 0o644))

	last, err = layout.LastActivity()
	require.NoError(t, err)
	assert.InDelta(t, time.Hour.Seconds(), time.Since(last).Seconds(), 5)
}

func TestLayoutLock(t *testing.T) {
	layout := orchestrator.Layout{Dir: t.TempDir()}

	unlock, err := layout.Lock(t.Context())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()

	_, err = layout.Lock(ctx)
	require.ErrorIs(t, err, orchestrator.ErrLocked)

	unlock()

	unlock, err = layout.Lock(t.Context())
	require.NoError(t, err)
	unlock()
}
