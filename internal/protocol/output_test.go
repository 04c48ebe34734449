// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package protocol_test

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/aibor/vcontainer/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor(t *testing.T) {
	var encoded bytes.Buffer

	_, err := protocol.Encode(&encoded, strings.NewReader("tar archive content"))
	require.NoError(t, err)

	encodedLines := strings.Split(strings.TrimSpace(encoded.String()), "\n")

	tests := []struct {
		name             string
		output           protocol.OutputType
		input            []string
		assertDone       assert.BoolAssertionFunc
		expectedOutput   string
		expectedCode     int
		expectedArtifact string
		expectedErr      error
	}{
		{
			name:   "text",
			output: protocol.OutputText,
			input: []string{
				"[    0.123456] virtio_blk virtio1: [vda] 2048 512-byte logical blocks",
				"===OUTPUT_START===",
				"hello from container",
				"===OUTPUT_END===",
				"===EXIT_CODE=3===",
			},
			assertDone:     assert.True,
			expectedOutput: "hello from container\n",
			expectedCode:   3,
		},
		{
			name:   "tar",
			output: protocol.OutputTar,
			input: append(append([]string{
				"===OUTPUT_START===",
				"===TAR_START===",
			}, encodedLines...), "===TAR_END==="),
			assertDone:       assert.True,
			expectedArtifact: "tar archive content",
		},
		{
			name:   "storage ignores tar markers",
			output: protocol.OutputStorage,
			input: []string{
				"===TAR_START===",
				"===TAR_END===",
			},
			assertDone:  assert.False,
			expectedErr: protocol.ErrMalformedResponse,
		},
		{
			name:   "error block",
			output: protocol.OutputTar,
			input: []string{
				"===ERROR===",
				"docker save failed",
				"===END===",
			},
			assertDone:  assert.True,
			expectedErr: &protocol.GuestError{},
		},
		{
			name:   "error block aborting storage artifact",
			output: protocol.OutputStorage,
			input: []string{
				"===STORAGE_START===",
				"aGVsbG8=",
				"===ERROR===",
				"archive storage: read /var/lib/docker: permission denied",
				"===END===",
			},
			assertDone:  assert.True,
			expectedErr: &protocol.GuestError{},
		},
		{
			name:   "kernel panic",
			output: protocol.OutputText,
			input: []string{
				"[    0.578502] Kernel panic - not syncing: Attempted to kill init! exitcode=0x00000100",
			},
			assertDone:  assert.True,
			expectedErr: protocol.ErrGuestPanic,
		},
		{
			name:   "oom",
			output: protocol.OutputText,
			input: []string{
				"[    0.378083] Out of memory: Killed process 116 (dockerd)",
			},
			assertDone:  assert.True,
			expectedErr: protocol.ErrGuestOom,
		},
		{
			name:   "text without exit code",
			output: protocol.OutputText,
			input: []string{
				"===OUTPUT_START===",
				"foo",
				"===OUTPUT_END===",
			},
			assertDone:  assert.False,
			expectedErr: protocol.ErrMalformedResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			monitor, err := protocol.NewMonitor(tt.output)
			require.NoError(t, err)

			for _, line := range tt.input {
				if monitor.Feed(line + "\r\n") {
					break
				}
			}

			tt.assertDone(t, monitor.Done())

			result, err := monitor.Result()
			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expectedOutput, string(result.Output))
			assert.Equal(t, tt.expectedCode, result.ExitCode)
			assert.Equal(t, tt.expectedArtifact, string(result.Artifact))
		})
	}
}

func TestMonitorArtifactAbortedMessage(t *testing.T) {
	monitor, err := protocol.NewMonitor(protocol.OutputStorage)
	require.NoError(t, err)

	for _, line := range []string{
		"===STORAGE_START===",
		"aGVsbG8=",
		"===ERROR===",
		"archive storage: disk full",
		"===END===",
	} {
		monitor.Feed(line + "\n")
	}

	require.True(t, monitor.Done())

	_, err = monitor.Result()

	var guestErr *protocol.GuestError
	require.ErrorAs(t, err, &guestErr)
	assert.Equal(t, "archive storage: disk full\n", guestErr.Message)
}

func TestMonitorFailedArtifactWrite(t *testing.T) {
	var console bytes.Buffer

	writer := protocol.NewResponseWriter(&console)
	src := io.MultiReader(
		strings.NewReader(strings.Repeat("storage content ", 1000)),
		iotest.ErrReader(errors.New("read /var/lib/docker: input/output error")),
	)

	err := writer.WriteArtifact(protocol.MarkerStorageStart, protocol.MarkerStorageEnd, src)
	require.Error(t, err)
	require.NoError(t, writer.WriteError(err))

	monitor, err := protocol.NewMonitor(protocol.OutputStorage)
	require.NoError(t, err)

	scanner := bufio.NewScanner(&console)
	for scanner.Scan() {
		if monitor.Feed(scanner.Text()) {
			break
		}
	}

	require.True(t, monitor.Done())

	_, err = monitor.Result()

	var guestErr *protocol.GuestError
	require.ErrorAs(t, err, &guestErr)
	assert.Contains(t, guestErr.Message, "input/output error")
}

func TestNewMonitorUnknownOutput(t *testing.T) {
	_, err := protocol.NewMonitor("zip")
	assert.ErrorIs(t, err, protocol.ErrUnknownOutputType)
}

func TestOutputTypeSet(t *testing.T) {
	var output protocol.OutputType

	require.NoError(t, output.Set("storage"))
	assert.Equal(t, protocol.OutputStorage, output)
	assert.ErrorIs(t, output.Set("zip"), protocol.ErrUnknownOutputType)
}
