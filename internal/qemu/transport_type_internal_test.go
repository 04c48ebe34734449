// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package qemu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransportType_device(t *testing.T) {
	tests := []struct {
		transport TransportType
		base      string
		expected  string
	}{
		{TransportTypeISA, "virtio-blk", "virtio-blk-pci"},
		{TransportTypePCI, "virtio-blk", "virtio-blk-pci"},
		{TransportTypeMMIO, "virtio-blk", "virtio-blk-device"},
		{TransportTypeISA, "virtio-serial", "virtio-serial-pci"},
		{TransportTypeMMIO, "virtio-serial", "virtio-serial-device"},
		{TransportTypePCI, "vhost-vsock", "vhost-vsock-pci"},
		{TransportTypeMMIO, "vhost-vsock", "vhost-vsock-device"},
		{TransportTypePCI, "virtio-9p", "virtio-9p-pci"},
		{TransportTypeMMIO, "virtio-net", "virtio-net-device"},
	}

	for _, tt := range tests {
		t.Run(string(tt.transport)+"/"+tt.base, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.transport.device(tt.base))
		})
	}
}

func TestTransportType_consoleArgs(t *testing.T) {
	tests := []struct {
		transport TransportType
		expected  []Argument
	}{
		{
			transport: TransportTypeISA,
			expected:  []Argument{RepeatableArg("serial", "chardev:console")},
		},
		{
			transport: TransportTypePCI,
			expected:  []Argument{RepeatableArg("device", "virtconsole,chardev=console")},
		},
		{
			transport: TransportTypeMMIO,
			expected:  []Argument{RepeatableArg("device", "virtconsole,chardev=console")},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.transport), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.transport.consoleArgs("console"))
		})
	}
}
