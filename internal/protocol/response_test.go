// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package protocol_test

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/aibor/vcontainer/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadResponse(t *testing.T) {
	tests := []struct {
		name             string
		input            []string
		expectedResponse *protocol.Response
		expectedErr      error
	}{
		{
			name: "success",
			input: []string{
				"===OUTPUT_START===",
				"CONTAINER ID   IMAGE",
				"===OUTPUT_END===",
				"===EXIT_CODE=0===",
				"===END===",
			},
			expectedResponse: &protocol.Response{
				Output: []byte("CONTAINER ID   IMAGE\n"),
			},
		},
		{
			name: "non-zero exit code",
			input: []string{
				"===OUTPUT_START===",
				"Error: No such container: foo",
				"===OUTPUT_END===",
				"===EXIT_CODE=1===",
				"===END===",
			},
			expectedResponse: &protocol.Response{
				Output:   []byte("Error: No such container: foo\n"),
				ExitCode: 1,
			},
		},
		{
			name: "empty output with stale pong and crlf",
			input: []string{
				"===PONG===\r",
				"",
				"===OUTPUT_START===\r",
				"===OUTPUT_END===\r",
				"===EXIT_CODE=0===\r",
				"===END===\r",
			},
			expectedResponse: &protocol.Response{
				Output: []byte{},
			},
		},
		{
			name: "marker text inside output",
			input: []string{
				"===OUTPUT_START===",
				"echo ===END===",
				"===OUTPUT_END===",
				"===EXIT_CODE=0===",
				"===END===",
			},
			expectedResponse: &protocol.Response{
				Output: []byte("echo ===END===\n"),
			},
		},
		{
			name: "guest error",
			input: []string{
				"===ERROR===",
				"decode payload: illegal base64 data",
				"===END===",
			},
			expectedErr: &protocol.GuestError{},
		},
		{
			name: "shutting down",
			input: []string{
				"===SHUTTING_DOWN===",
			},
			expectedErr: protocol.ErrShutdown,
		},
		{
			name: "garbage before start",
			input: []string{
				"hello",
			},
			expectedErr: protocol.ErrMalformedResponse,
		},
		{
			name: "missing exit code",
			input: []string{
				"===OUTPUT_START===",
				"===OUTPUT_END===",
				"===END===",
			},
			expectedErr: protocol.ErrMalformedResponse,
		},
		{
			name: "closed mid response",
			input: []string{
				"===OUTPUT_START===",
				"partial",
			},
			expectedErr: protocol.ErrMalformedResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := strings.Join(tt.input, "\n") + "\n"
			reader := bufio.NewReader(strings.NewReader(input))

			actual, err := protocol.ReadResponse(reader)
			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expectedResponse.ExitCode, actual.ExitCode)
			assert.Equal(t, string(tt.expectedResponse.Output), string(actual.Output))
		})
	}
}

func TestReadResponseGuestErrorMessage(t *testing.T) {
	input := "===ERROR===\nno such file\n===END===\n"

	_, err := protocol.ReadResponse(bufio.NewReader(strings.NewReader(input)))

	var guestErr *protocol.GuestError

	require.ErrorAs(t, err, &guestErr)
	assert.Equal(t, "no such file\n", guestErr.Message)
}

func TestResponseWriterRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	writer := protocol.NewResponseWriter(&buf)

	require.NoError(t, writer.WriteMarker(protocol.MarkerPong))
	require.NoError(t, writer.WriteResult([]byte("line without newline"), 2))
	require.NoError(t, writer.WriteError(errors.New("broken")))

	reader := bufio.NewReader(&buf)

	response, err := protocol.ReadResponse(reader)
	require.NoError(t, err)
	assert.Equal(t, "line without newline\n", string(response.Output))
	assert.Equal(t, 2, response.ExitCode)
	assert.ErrorIs(t, response.Err(), protocol.ExitError(0))

	_, err = protocol.ReadResponse(reader)
	assert.ErrorIs(t, err, &protocol.GuestError{})
}
