// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package initramfs_test

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/cavaliergopher/cpio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aibor/vcontainer/internal/initramfs"
	"github.com/aibor/vcontainer/internal/sys"
)

func readEntries(t *testing.T, reader io.Reader) map[string]string {
	t.Helper()

	entries := map[string]string{}
	archive := cpio.NewReader(reader)

	for {
		hdr, err := archive.Next()
		if errors.Is(err, io.EOF) {
			return entries
		}

		require.NoError(t, err)

		switch hdr.Mode &^ cpio.ModePerm {
		case cpio.TypeSymlink:
			entries[hdr.Name] = "-> " + hdr.Linkname
		case cpio.TypeDir:
			entries[hdr.Name] = "dir"
		default:
			body, err := io.ReadAll(archive)
			require.NoError(t, err)

			entries[hdr.Name] = string(body)
		}
	}
}

func TestWriteOverlay(t *testing.T) {
	testFS := fstest.MapFS{"agent": &fstest.MapFile{Data: []byte("agent binary")}}

	agent, err := testFS.Open("agent")
	require.NoError(t, err)

	var buf bytes.Buffer

	require.NoError(t, initramfs.WriteOverlay(&buf, agent))

	assert.Equal(t, map[string]string{
		"init":                 "agent binary",
		"sbin":                 "dir",
		"sbin/vcontainer-init": "-> /init",
	}, readEntries(t, &buf))
}

func TestValidateAgent(t *testing.T) {
	self, err := os.Executable()
	require.NoError(t, err)

	t.Run("not elf", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "script")
		require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))

		err := initramfs.ValidateAgent(path, sys.Native)
		require.ErrorIs(t, err, initramfs.ErrNotELFFile)
	})

	t.Run("empty file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty")
		require.NoError(t, os.WriteFile(path, nil, 0o755))

		err := initramfs.ValidateAgent(path, sys.Native)
		require.ErrorIs(t, err, initramfs.ErrNotELFFile)
	})

	t.Run("truncated header", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "truncated")
		require.NoError(t, os.WriteFile(path, []byte("\x7fELF\x02\x01\x01"), 0o755))

		err := initramfs.ValidateAgent(path, sys.Native)
		require.ErrorIs(t, err, initramfs.ErrNotELFFile)
	})

	t.Run("foreign arch", func(t *testing.T) {
		foreign := sys.RISCV64
		if sys.Native == sys.RISCV64 {
			foreign = sys.AMD64
		}

		err := initramfs.ValidateAgent(self, foreign)
		require.ErrorIs(t, err, initramfs.ErrArchMismatch)
	})

	t.Run("missing", func(t *testing.T) {
		err := initramfs.ValidateAgent(filepath.Join(t.TempDir(), "nope"), sys.Native)
		require.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestBuild(t *testing.T) {
	self, err := os.Executable()
	require.NoError(t, err)

	if err := initramfs.ValidateAgent(self, sys.Native); errors.Is(err, initramfs.ErrNotStatic) {
		t.Skip("test binary is dynamically linked")
	}

	dir := t.TempDir()
	base := filepath.Join(dir, "base.cpio")

	var baseArchive bytes.Buffer

	writer := initramfs.NewCPIOWriter(&baseArchive)
	require.NoError(t, writer.WriteDirectory("etc"))
	require.NoError(t, writer.Close())

	// Unaligned base to check the padding.
	require.NoError(t, os.WriteFile(base, append(baseArchive.Bytes(), 0), 0o644))

	dst := filepath.Join(dir, "initramfs.cpio")
	require.NoError(t, initramfs.Build(dst, base, self, sys.Native))

	content, err := os.ReadFile(dst)
	require.NoError(t, err)

	overlayStart := baseArchive.Len() + 4
	require.Greater(t, len(content), overlayStart)
	assert.Equal(t, make([]byte, 4), content[baseArchive.Len():overlayStart])

	entries := readEntries(t, bytes.NewReader(content[overlayStart:]))
	assert.Equal(t, "-> /init", entries["sbin/vcontainer-init"])
	assert.Contains(t, entries, "init")
}
