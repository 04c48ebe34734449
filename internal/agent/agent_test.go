// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent_test

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aibor/vcontainer/internal/agent"
	"github.com/aibor/vcontainer/internal/protocol"
)

// serve runs the agent on one end of a pipe and returns a client for the
// other end. The returned channel receives the result of [agent.Agent.Serve].
func serve(t *testing.T, a *agent.Agent) (*protocol.Client, net.Conn, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(t.Context())
	hostConn, guestConn := net.Pipe()
	errCh := make(chan error, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		errCh <- a.Serve(ctx, guestConn)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
		_ = hostConn.Close()
		_ = guestConn.Close()
	})

	client := protocol.NewClient(hostConn)
	client.ResponseTimeout = 5 * time.Second

	return client, hostConn, errCh
}

func TestServePing(t *testing.T) {
	client, _, errCh := serve(t, &agent.Agent{Runner: &fakeRunner{}})

	require.NoError(t, client.Ping(t.Context()))
	require.NoError(t, client.Ping(t.Context()))
	require.NoError(t, client.Shutdown(t.Context()))
	require.NoError(t, <-errCh)
}

func TestServeCommand(t *testing.T) {
	tests := []struct {
		name         string
		result       fakeResult
		expectedOut  string
		expectedCode int
		expectedErr  error
	}{
		{
			name:        "success",
			result:      fakeResult{output: "hello\n"},
			expectedOut: "hello\n",
		},
		{
			name:         "exit code",
			result:       fakeResult{output: "oops\n", code: 125},
			expectedOut:  "oops\n",
			expectedCode: 125,
		},
		{
			name:        "not runnable",
			result:      fakeResult{err: assert.AnError},
			expectedErr: &protocol.GuestError{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{results: map[string]fakeResult{
				"docker run hello": tt.result,
			}}
			client, _, errCh := serve(t, &agent.Agent{Runner: runner})

			response, err := client.Send(t.Context(), protocol.Command{
				Args: []string{"docker", "run", "hello"},
			})
			if tt.expectedErr != nil {
				require.ErrorIs(t, err, tt.expectedErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expectedOut, string(response.Output))
				assert.Equal(t, tt.expectedCode, response.ExitCode)
			}

			require.NoError(t, client.Shutdown(t.Context()))
			require.NoError(t, <-errCh)
		})
	}
}

func TestServeInvalidRequest(t *testing.T) {
	client, hostConn, errCh := serve(t, &agent.Agent{Runner: &fakeRunner{}})

	_, err := hostConn.Write([]byte("not base64 at all!\n"))
	require.NoError(t, err)

	_, err = protocol.ReadResponse(bufio.NewReader(hostConn))
	require.ErrorIs(t, err, &protocol.GuestError{})

	require.NoError(t, client.Shutdown(t.Context()))
	require.NoError(t, <-errCh)
}

func TestServeInput(t *testing.T) {
	shareDir := t.TempDir()
	inputDir := filepath.Join(shareDir, protocol.ShareInputDir)
	inputFile := filepath.Join(inputDir, "image.tar")
	loadCmd := "docker load -i " + inputFile

	runner := &fakeRunner{results: map[string]fakeResult{
		loadCmd: {output: "Loaded image: alpine:latest\n"},
	}}
	client, _, errCh := serve(t, &agent.Agent{
		Runner:   runner,
		ShareDir: shareDir,
	})

	cmd := protocol.Command{
		Args:       []string{"docker", "load", "-i", protocol.InputPlaceholder + "/image.tar"},
		NeedsInput: true,
	}

	t.Run("missing", func(t *testing.T) {
		_, err := client.Send(t.Context(), cmd)
		require.ErrorIs(t, err, &protocol.GuestError{})
		assert.ErrorContains(t, err, agent.ErrNoInput.Error())
	})

	t.Run("staged", func(t *testing.T) {
		require.NoError(t, os.MkdirAll(inputDir, 0o755))
		require.NoError(t, os.WriteFile(inputFile, []byte("tar"), 0o600))

		response, err := client.Send(t.Context(), cmd)
		require.NoError(t, err)
		assert.Equal(t, "Loaded image: alpine:latest\n", string(response.Output))

		// Requests are handled in order, so the input is cleared once the
		// ping is answered.
		require.NoError(t, client.Ping(t.Context()))

		entries, err := os.ReadDir(inputDir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	require.NoError(t, client.Shutdown(t.Context()))
	require.NoError(t, <-errCh)

	assert.Contains(t, runner.Calls(), strings.Fields(loadCmd))
}

func TestServeIdleTimeout(t *testing.T) {
	_, hostConn, errCh := serve(t, &agent.Agent{
		Runner:      &fakeRunner{},
		IdleTimeout: 50 * time.Millisecond,
	})

	line, err := protocol.ReadLine(bufio.NewReader(hostConn))
	require.NoError(t, err)
	assert.Equal(t, protocol.MarkerIdleShutdown, line)
	require.ErrorIs(t, <-errCh, protocol.ErrIdleTimeout)
}

func TestServeIdleTimeoutContainersRunning(t *testing.T) {
	runner := &fakeRunner{}
	runner.setResult("docker ps -q", fakeResult{output: "4f2a\n"})

	_, hostConn, errCh := serve(t, &agent.Agent{
		Runner:      runner,
		Runtime:     "docker",
		IdleTimeout: 50 * time.Millisecond,
	})

	select {
	case err := <-errCh:
		require.FailNow(t, "serve returned while containers run", err)
	case <-time.After(200 * time.Millisecond):
	}

	runner.setResult("docker ps -q", fakeResult{})

	line, err := protocol.ReadLine(bufio.NewReader(hostConn))
	require.NoError(t, err)
	assert.Equal(t, protocol.MarkerIdleShutdown, line)
	require.ErrorIs(t, <-errCh, protocol.ErrIdleTimeout)
}

func TestServeCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	hostConn, guestConn := net.Pipe()

	t.Cleanup(func() {
		_ = hostConn.Close()
		_ = guestConn.Close()
	})

	errCh := make(chan error, 1)

	go func() {
		errCh <- (&agent.Agent{Runner: &fakeRunner{}}).Serve(ctx, guestConn)
	}()

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
}

func TestServeContainersMarker(t *testing.T) {
	shareDir := t.TempDir()
	marker := filepath.Join(shareDir, protocol.ContainersRunningMarker)

	runner := &fakeRunner{results: map[string]fakeResult{
		"docker ps -q": {output: "4f2a1c\n"},
	}}
	client, _, errCh := serve(t, &agent.Agent{
		Runner:   runner,
		Runtime:  "docker",
		ShareDir: shareDir,
	})

	_, err := client.Send(t.Context(), protocol.Command{
		Args: []string{"docker", "run", "-d", "nginx"},
	})
	require.NoError(t, err)
	require.NoError(t, client.Ping(t.Context()))
	assert.FileExists(t, marker)

	runner.mu.Lock()
	runner.results["docker ps -q"] = fakeResult{}
	runner.mu.Unlock()

	_, err = client.Send(t.Context(), protocol.Command{
		Args: []string{"docker", "stop", "4f2a1c"},
	})
	require.NoError(t, err)
	require.NoError(t, client.Ping(t.Context()))
	assert.NoFileExists(t, marker)

	require.NoError(t, client.Shutdown(t.Context()))
	require.NoError(t, <-errCh)
}

func TestServePullFallback(t *testing.T) {
	tests := []struct {
		name         string
		results      map[string]fakeResult
		expectedOut  string
		expectedCode int
	}{
		{
			name: "fallback succeeds",
			results: map[string]fakeResult{
				"docker pull mirror.local/alpine": {output: "not found\n", code: 1},
				"docker pull alpine":              {output: "pulled\n"},
			},
			expectedOut: "pulled\n",
		},
		{
			name: "fallback fails",
			results: map[string]fakeResult{
				"docker pull mirror.local/alpine": {output: "not found\n", code: 1},
				"docker pull alpine":              {output: "denied\n", code: 2},
			},
			expectedOut:  "not found\n",
			expectedCode: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _, errCh := serve(t, &agent.Agent{
				Runner:   &fakeRunner{results: tt.results},
				Registry: "mirror.local",
			})

			response, err := client.Send(t.Context(), protocol.Command{
				Args: []string{"docker", "pull", "mirror.local/alpine"},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.expectedOut, string(response.Output))
			assert.Equal(t, tt.expectedCode, response.ExitCode)

			require.NoError(t, client.Shutdown(t.Context()))
			require.NoError(t, <-errCh)
		})
	}
}

func TestServeInteractive(t *testing.T) {
	runner := &fakeRunner{
		terminal: func([]string) (agent.Terminal, error) {
			return newEchoTerminal(3), nil
		},
	}
	client, _, errCh := serve(t, &agent.Agent{Runner: runner})

	var stdout bytes.Buffer

	code, err := client.Interactive(t.Context(),
		protocol.Command{Args: []string{"docker", "run", "-it", "alpine", "sh"}},
		strings.NewReader("ls\n"),
		&stdout,
	)
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Contains(t, stdout.String(), "got ls\n")

	require.NoError(t, client.Shutdown(t.Context()))
	require.NoError(t, <-errCh)
}
