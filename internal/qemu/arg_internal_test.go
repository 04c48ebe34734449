// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package qemu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aibor/vcontainer/internal/hypervisor"
)

func TestArgument_Equal(t *testing.T) {
	tests := []struct {
		name  string
		a     Argument
		b     Argument
		equal bool
	}{
		{
			name:  "both empty",
			equal: true,
		},
		{
			name: "one empty",
			a:    UniqueArg("t"),
		},
		{
			name:  "same unique name",
			a:     UniqueArg("t", "5"),
			b:     UniqueArg("t", "6"),
			equal: true,
		},
		{
			name: "same repeatable name",
			a:    RepeatableArg("t", "5"),
			b:    RepeatableArg("t", "6"),
		},
		{
			name:  "same repeatable name and value",
			a:     RepeatableArg("t", "5"),
			b:     RepeatableArg("t", "5"),
			equal: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.equal, tt.a.Equal(tt.b))
		})
	}
}

func TestBuildArgumentStrings(t *testing.T) {
	t.Run("builds", func(t *testing.T) {
		args := []Argument{
			UniqueArg("kernel", "vmlinuz"),
			RepeatableArg("device", "virtio-blk-pci", "drive=disk0"),
			UniqueArg("no-reboot"),
		}

		actual, err := BuildArgumentStrings(args)
		require.NoError(t, err)

		expected := []string{
			"-kernel", "vmlinuz",
			"-device", "virtio-blk-pci,drive=disk0",
			"-no-reboot",
		}
		assert.Equal(t, expected, actual)
	})

	t.Run("collision", func(t *testing.T) {
		args := []Argument{
			UniqueArg("kernel", "vmlinuz"),
			UniqueArg("kernel", "bsd"),
		}

		_, err := BuildArgumentStrings(args)
		require.ErrorIs(t, err, ErrArgumentCollision)
	})
}

func TestParseOptions(t *testing.T) {
	tests := []struct {
		name        string
		opts        hypervisor.Options
		expected    []Argument
		expectedErr error
	}{
		{
			name: "empty",
		},
		{
			name: "mixed",
			opts: hypervisor.Options{
				"-device", "virtio-net-pci,netdev=net0",
				"-snapshot",
				"-qmp", "unix:/tmp/qmp.sock",
			},
			expected: []Argument{
				RepeatableArg("device", "virtio-net-pci,netdev=net0"),
				UniqueArg("snapshot"),
				UniqueArg("qmp", "unix:/tmp/qmp.sock"),
			},
		},
		{
			name:        "value without name",
			opts:        hypervisor.Options{"virtio-net-pci"},
			expectedErr: &ArgumentError{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actual, err := parseOptions(tt.opts)
			require.ErrorIs(t, err, tt.expectedErr)

			if tt.expectedErr == nil {
				assert.ElementsMatch(t, tt.expected, actual)
			}
		})
	}
}

func TestOptionsRoundTrip(t *testing.T) {
	args := []Argument{
		RepeatableArg("fsdev", "local", "id=fsshare", "path=/tmp/share"),
		UniqueArg("nographic"),
	}

	parsed, err := parseOptions(options(args...))
	require.NoError(t, err)
	assert.Equal(t, args, parsed)
}
