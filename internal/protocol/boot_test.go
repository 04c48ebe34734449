// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package protocol_test

import (
	"strings"
	"testing"
	"time"

	"github.com/aibor/vcontainer/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootParamsKernelArgs(t *testing.T) {
	params := protocol.BootParams{
		Command:            "WyJkb2NrZXIiLCJwcyJd",
		Input:              protocol.InputOCI,
		Output:             protocol.OutputTar,
		Network:            true,
		IdleTimeout:        30 * time.Minute,
		Share:              true,
		Channel:            protocol.ChannelVirtio,
		Registry:           "10.0.2.2:5000/yocto",
		InsecureRegistries: []string{"10.0.2.2:5000", "reg.local"},
	}

	expected := []string{
		"docker_cmd=WyJkb2NrZXIiLCJwcyJd",
		"docker_input=oci",
		"docker_output=tar",
		"docker_state=none",
		"docker_network=1",
		"docker_daemon=0",
		"docker_idle_timeout=1800",
		"docker_interactive=0",
		"docker_9p=1",
		"docker_channel=virtio",
		"docker_registry=10.0.2.2:5000/yocto",
		"docker_insecure_registry=10.0.2.2:5000",
		"docker_insecure_registry=reg.local",
	}

	assert.Equal(t, expected, params.KernelArgs("docker"))
}

func TestParseBootParams(t *testing.T) {
	expected := protocol.BootParams{
		Input:       protocol.InputNone,
		Output:      protocol.OutputText,
		State:       protocol.StateDisk,
		Network:     true,
		Daemon:      true,
		IdleTimeout: 10 * time.Second,
		Share:       true,
		Channel:     protocol.ChannelHVC,
	}

	cmdline := "console=hvc0 quiet docker_daemon=1 " +
		strings.Join(expected.KernelArgs("podman"), " ") +
		" panic=-1\n"

	actual, err := protocol.ParseBootParams("podman", cmdline)
	require.NoError(t, err)
	assert.Equal(t, expected, actual)
}

func TestParseBootParamsInvalid(t *testing.T) {
	_, err := protocol.ParseBootParams("docker", "docker_idle_timeout=soon")
	require.Error(t, err)

	_, err = protocol.ParseBootParams("docker", "docker_output=zip")
	require.ErrorIs(t, err, protocol.ErrUnknownOutputType)
}
