// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package artifact_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aibor/vcontainer/internal/artifact"
	"github.com/aibor/vcontainer/internal/protocol"
	"github.com/aibor/vcontainer/internal/sys"
)

// mkfsHook records the content directory tree passed to mkfs.ext4 at the
// time of the call.
func mkfsHook(t *testing.T, trees *[]map[string]string) func(string, []string) error {
	t.Helper()

	return func(name string, args []string) error {
		if name != "mkfs.ext4" {
			return nil
		}

		for idx, arg := range args {
			if arg == "-d" {
				*trees = append(*trees, listTree(t, args[idx+1]))
			}
		}

		return nil
	}
}

func TestPreparer_InputDisk(t *testing.T) {
	tests := []struct {
		name         string
		setup        func(t *testing.T) string
		expectedType protocol.InputType
		expectedTree map[string]string
	}{
		{
			name: "directory",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeTree(t, dir, map[string]string{"data/file": "content"})

				return dir
			},
			expectedType: protocol.InputDir,
			expectedTree: map[string]string{"data/file": "content"},
		},
		{
			name: "tarball",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeTree(t, dir, map[string]string{"image.tar.gz": "gz"})

				return filepath.Join(dir, "image.tar.gz")
			},
			expectedType: protocol.InputTar,
			expectedTree: map[string]string{"image.tar.gz": "gz"},
		},
		{
			name: "single file",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeTree(t, dir, map[string]string{"config.json": "{}"})

				return filepath.Join(dir, "config.json")
			},
			expectedType: protocol.InputDir,
			expectedTree: map[string]string{"config.json": "{}"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var trees []map[string]string

			exec := &sys.FakeExecutor{Hook: mkfsHook(t, &trees)}
			preparer := artifact.Preparer{Exec: exec, WorkDir: t.TempDir()}

			image, inputType, err := preparer.InputDisk(t.Context(), tt.setup(t), sys.AMD64)
			require.NoError(t, err)

			assert.Equal(t, tt.expectedType, inputType)
			assert.Equal(t, filepath.Join(preparer.WorkDir, artifact.InputImageName), image)
			assert.FileExists(t, image)
			require.Len(t, trees, 1)
			assert.Equal(t, tt.expectedTree, trees[0])
		})
	}

	t.Run("multi arch oci", func(t *testing.T) {
		layout := multiArchLayout(t)

		var trees []map[string]string

		exec := &sys.FakeExecutor{Hook: mkfsHook(t, &trees)}
		preparer := artifact.Preparer{Exec: exec, WorkDir: t.TempDir()}

		_, inputType, err := preparer.InputDisk(t.Context(), layout.dir, sys.ARM64)
		require.NoError(t, err)
		assert.Equal(t, protocol.InputOCI, inputType)

		require.Len(t, trees, 1)
		assert.Contains(t, trees[0], "oci-layout")
		assert.Contains(t, trees[0], "index.json")

		var blobs int

		for name := range trees[0] {
			if strings.HasPrefix(name, "blobs/") {
				blobs++
			}
		}

		assert.Equal(t, 3, blobs)
	})

	t.Run("missing platform", func(t *testing.T) {
		layout := multiArchLayout(t)
		preparer := artifact.Preparer{Exec: &sys.FakeExecutor{}, WorkDir: t.TempDir()}

		_, _, err := preparer.InputDisk(t.Context(), layout.dir, sys.RISCV64)
		require.ErrorIs(t, err, &artifact.PlatformError{})
	})

	t.Run("missing input", func(t *testing.T) {
		preparer := artifact.Preparer{Exec: &sys.FakeExecutor{}, WorkDir: t.TempDir()}

		_, _, err := preparer.InputDisk(t.Context(), filepath.Join(t.TempDir(), "nope"), sys.AMD64)
		require.ErrorIs(t, err, os.ErrNotExist)
	})
}
