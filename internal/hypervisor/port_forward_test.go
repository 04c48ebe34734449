// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package hypervisor_test

import (
	"testing"

	"github.com/aibor/vcontainer/internal/hypervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePortForward(t *testing.T) {
	tests := []struct {
		spec        string
		expected    hypervisor.PortForward
		expectedErr error
	}{
		{
			spec: "8080:80",
			expected: hypervisor.PortForward{
				HostPort:      8080,
				GuestPort:     8080,
				ContainerPort: 80,
				Protocol:      "tcp",
			},
		},
		{
			spec: "5353:53/UDP",
			expected: hypervisor.PortForward{
				HostPort:      5353,
				GuestPort:     5353,
				ContainerPort: 53,
				Protocol:      "udp",
			},
		},
		{
			spec: "127.0.0.1:2222:22",
			expected: hypervisor.PortForward{
				HostAddr:      "127.0.0.1",
				HostPort:      2222,
				GuestPort:     2222,
				ContainerPort: 22,
				Protocol:      "tcp",
			},
		},
		{spec: "80", expectedErr: hypervisor.ErrInvalidPortForward},
		{spec: "0:80", expectedErr: hypervisor.ErrInvalidPortForward},
		{spec: "70000:80", expectedErr: hypervisor.ErrInvalidPortForward},
		{spec: "8080:80/sctp", expectedErr: hypervisor.ErrInvalidPortForward},
		{spec: "host:8080:80", expectedErr: hypervisor.ErrInvalidPortForward},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			actual, err := hypervisor.ParsePortForward(tt.spec)
			require.ErrorIs(t, err, tt.expectedErr)
			assert.Equal(t, tt.expected, actual)
		})
	}
}

func TestPortForwardString(t *testing.T) {
	forward := hypervisor.MustParsePortForward("127.0.0.1:8080:80")

	assert.Equal(t, "127.0.0.1:8080:80/tcp", forward.String())
	assert.Equal(t, "8080:80/tcp", forward.GuestSpec())
	assert.Equal(t, forward, hypervisor.MustParsePortForward(forward.String()))
}
