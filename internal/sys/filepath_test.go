// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sys_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aibor/vcontainer/internal/sys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAbsolutePath(t *testing.T) {
	_, err := sys.AbsolutePath("")
	require.ErrorIs(t, err, sys.ErrEmptyPath)

	abs, err := sys.AbsolutePath("relative/file")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(abs))
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	require.NoError(t, sys.WriteFileAtomic(path, []byte("first"), 0o600))
	require.NoError(t, sys.WriteFileAtomic(path, []byte("second"), 0o600))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(content))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must be gone")
}

func TestRemoveIfExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")

	require.NoError(t, sys.RemoveIfExists(path))
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	assert.True(t, sys.FileExists(path))
	require.NoError(t, sys.RemoveIfExists(path))
	assert.False(t, sys.FileExists(path))
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	assert.True(t, sys.DirExists(dir))
	assert.False(t, sys.FileExists(dir))
	assert.True(t, sys.FileExists(file))
	assert.False(t, sys.DirExists(file))
	assert.False(t, sys.DirExists(filepath.Join(dir, "missing")))
}
