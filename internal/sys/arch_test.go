// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sys_test

import (
	"testing"

	"github.com/aibor/vcontainer/internal/sys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArch(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    sys.Arch
		expectedErr error
	}{
		{
			name:     "go amd64",
			input:    "amd64",
			expected: sys.AMD64,
		},
		{
			name:     "kernel x86_64",
			input:    "x86_64",
			expected: sys.AMD64,
		},
		{
			name:     "kernel aarch64",
			input:    "aarch64",
			expected: sys.ARM64,
		},
		{
			name:     "upper case",
			input:    "AARCH64",
			expected: sys.ARM64,
		},
		{
			name:     "riscv64",
			input:    "riscv64",
			expected: sys.RISCV64,
		},
		{
			name:        "unknown",
			input:       "mips",
			expectedErr: sys.ErrArchNotSupported,
		},
		{
			name:        "empty",
			expectedErr: sys.ErrArchNotSupported,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actual, err := sys.ParseArch(tt.input)
			require.ErrorIs(t, err, tt.expectedErr)
			assert.Equal(t, tt.expected, actual)
		})
	}
}

func TestArch_KernelName(t *testing.T) {
	assert.Equal(t, "x86_64", sys.AMD64.KernelName())
	assert.Equal(t, "aarch64", sys.ARM64.KernelName())
	assert.Equal(t, "riscv64", sys.RISCV64.KernelName())
}

func TestArch_Set(t *testing.T) {
	var arch sys.Arch

	require.NoError(t, arch.Set("aarch64"))
	assert.Equal(t, sys.ARM64, arch)
	assert.Equal(t, "arch", arch.Type())

	require.Error(t, arch.Set("sparc"))
	assert.Equal(t, sys.ARM64, arch, "value must not change on error")
}

func TestArch_KVMAvailable_ForeignArch(t *testing.T) {
	foreign := sys.ARM64
	if sys.Native == sys.ARM64 {
		foreign = sys.AMD64
	}

	assert.False(t, foreign.KVMAvailable())
}
