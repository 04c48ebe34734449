// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package protocol_test

import (
	"strings"
	"testing"

	"github.com/aibor/vcontainer/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandValidate(t *testing.T) {
	tests := []struct {
		name        string
		cmd         protocol.Command
		expectedErr error
	}{
		{
			name:        "empty",
			expectedErr: protocol.ErrEmptyCommand,
		},
		{
			name:        "empty program",
			cmd:         protocol.Command{Args: []string{""}},
			expectedErr: protocol.ErrEmptyCommand,
		},
		{
			name: "conflicting modes",
			cmd: protocol.Command{
				Args:        []string{"docker", "load"},
				NeedsInput:  true,
				Interactive: true,
			},
			expectedErr: protocol.ErrConflictingModes,
		},
		{
			name: "valid",
			cmd:  protocol.Command{Args: []string{"docker", "ps"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate()
			assert.ErrorIs(t, err, tt.expectedErr)
		})
	}
}

func TestParseRequest(t *testing.T) {
	args := []string{"docker", "run", "--rm", "alpine", "sh", "-c", "echo 'a b' | wc -c"}

	tests := []struct {
		name     string
		cmd      protocol.Command
		expected protocol.Request
	}{
		{
			name: "plain",
			cmd:  protocol.Command{Args: args},
			expected: protocol.Request{
				Kind:    protocol.RequestCommand,
				Command: protocol.Command{Args: args},
			},
		},
		{
			name: "needs input",
			cmd:  protocol.Command{Args: args, NeedsInput: true},
			expected: protocol.Request{
				Kind:    protocol.RequestCommand,
				Command: protocol.Command{Args: args, NeedsInput: true},
			},
		},
		{
			name: "interactive",
			cmd:  protocol.Command{Args: args, Interactive: true},
			expected: protocol.Request{
				Kind:    protocol.RequestCommand,
				Command: protocol.Command{Args: args, Interactive: true},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, err := tt.cmd.RequestLine()
			require.NoError(t, err)
			assert.NotContains(t, line, "\n")

			actual, err := protocol.ParseRequest(line + "\n")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, actual)
		})
	}
}

func TestParseRequestSentinels(t *testing.T) {
	ping, err := protocol.ParseRequest(protocol.MarkerPing)
	require.NoError(t, err)
	assert.Equal(t, protocol.RequestPing, ping.Kind)

	shutdown, err := protocol.ParseRequest(" " + protocol.MarkerShutdown + "\r\n")
	require.NoError(t, err)
	assert.Equal(t, protocol.RequestShutdown, shutdown.Kind)
}

func TestParseRequestInvalid(t *testing.T) {
	tests := []struct {
		name        string
		line        string
		expectedErr error
	}{
		{
			name:        "garbage",
			line:        "docker ps",
			expectedErr: protocol.ErrDecode,
		},
		{
			name:        "not a list",
			line:        protocol.EncodeString([]byte(`{"a":1}`)),
			expectedErr: protocol.ErrDecode,
		},
		{
			name:        "empty list",
			line:        protocol.EncodeString([]byte(`[]`)),
			expectedErr: protocol.ErrEmptyCommand,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := protocol.ParseRequest(tt.line)
			assert.ErrorIs(t, err, tt.expectedErr)
		})
	}
}

func TestSubstituteInput(t *testing.T) {
	args := []string{"docker", "load", "-i", "{INPUT}/image.tar"}

	actual := protocol.SubstituteInput(args, "/mnt/share/input")

	assert.Equal(t, []string{"docker", "load", "-i", "/mnt/share/input/image.tar"}, actual)
	assert.True(t, strings.HasPrefix(args[3], "{INPUT}"), "original must not change")
}
