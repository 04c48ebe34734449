// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	code   int
	stdout string
	stderr string
}

// execute runs the CLI as "vdkr-x86_64" with the given home directory.
func execute(t *testing.T, home string, args ...string) result {
	t.Helper()

	var stdout, stderr bytes.Buffer

	a := newApp("vdkr-x86_64", IO{
		Stdin:  strings.NewReader(""),
		Stdout: &stdout,
		Stderr: &stderr,
	})
	a.home = home
	a.spawn = func(string) (int, error) {
		t.Fatal("watchdog spawned")
		return 0, nil
	}

	code := a.execute(t.Context(), args)

	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func TestRunVconfig(t *testing.T) {
	home := t.TempDir()

	res := execute(t, home, "vconfig", "memory", "4096")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "memory = 4096\n", res.stdout)
	assert.FileExists(t, filepath.Join(home, ".vdkr", "config.yaml"))

	res = execute(t, home, "vconfig", "memory")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "4096\n", res.stdout)

	res = execute(t, home, "vconfig")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "memory: 4096\n")
	assert.Contains(t, res.stdout, "smp: \"\"\n")

	res = execute(t, home, "vconfig", "show")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "memory: 4096\n")
	assert.Contains(t, res.stdout, "smp: 2\n")
	assert.Contains(t, res.stdout, "arch: x86_64\n")

	res = execute(t, home, "vconfig", "--reset", "memory")
	require.Equal(t, 0, res.code, res.stderr)

	res = execute(t, home, "vconfig", "memory")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "2048\n", res.stdout)

	t.Run("unknown key", func(t *testing.T) {
		res := execute(t, home, "vconfig", "colour", "blue")
		assert.Equal(t, 1, res.code)
		assert.Contains(t, res.stderr, "Error [vdkr-x86_64]: unknown configuration key: colour")
	})

	t.Run("invalid value", func(t *testing.T) {
		res := execute(t, home, "vconfig", "memory", "12")
		assert.Equal(t, 1, res.code)
		assert.Contains(t, res.stderr, "Error [vdkr-x86_64]:")
	})
}

func TestRunVstorage(t *testing.T) {
	home := t.TempDir()
	baseDir := filepath.Join(home, ".vdkr")

	res := execute(t, home, "vstorage", "path")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, filepath.Join(baseDir, "x86_64")+"\n", res.stdout)

	res = execute(t, home, "vstorage", "path", "arm64")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, filepath.Join(baseDir, "aarch64")+"\n", res.stdout)

	res = execute(t, home, "vstorage")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "No vdkr storage in "+baseDir+"\n", res.stdout)

	stateDir := filepath.Join(baseDir, "aarch64")
	require.NoError(t, os.MkdirAll(stateDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(stateDir, "docker-state.img"), make([]byte, 2048), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(baseDir, "blobs"), 0o755))

	res = execute(t, home, "vstorage", "list")
	require.Equal(t, 0, res.code, res.stderr)

	lines := strings.Split(strings.TrimSpace(res.stdout), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, []string{"NAME", "ARCH", "SIZE", "DAEMON", "PATH"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"aarch64", "aarch64", "2.0", "KiB", "stopped", stateDir}, strings.Fields(lines[1]))

	res = execute(t, home, "vstorage", "clean", "aarch64")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "Removed "+stateDir+"\n", res.stdout)
	assert.NoDirExists(t, stateDir)

	res = execute(t, home, "vstorage", "clean", "aarch64")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "Nothing to clean in "+stateDir+"\n", res.stdout)
}

func TestRunMemresStatus(t *testing.T) {
	home := t.TempDir()

	res := execute(t, home, "memres", "status")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "Daemon not running ("+filepath.Join(home, ".vdkr", "x86_64")+")\n", res.stdout)

	res = execute(t, home, "memres", "stop")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "Daemon not running\n", res.stdout)
}

func TestRunOneShotVolumesRequireDaemon(t *testing.T) {
	home := t.TempDir()

	res := execute(t, home, "--no-daemon", "run", "--rm", "-v", "/src:/src", "alpine")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "Hint: start the daemon")
}

func TestRunHelp(t *testing.T) {
	res := execute(t, t.TempDir())
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "memres")
	assert.Contains(t, res.stdout, "vstorage")
}
