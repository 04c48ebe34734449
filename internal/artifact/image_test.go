// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package artifact_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aibor/vcontainer/internal/artifact"
	"github.com/aibor/vcontainer/internal/sys"
)

func TestImageSize(t *testing.T) {
	tests := []struct {
		name     string
		content  int64
		expected int64
	}{
		{name: "empty", content: 0, expected: 64 * artifact.MiB},
		{name: "small", content: artifact.MiB, expected: 64*artifact.MiB + artifact.MiB + artifact.MiB/2},
		{name: "large", content: 1000 * artifact.MiB, expected: 1564 * artifact.MiB},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, artifact.ImageSize(tt.content))
		})
	}
}

func TestImportSize(t *testing.T) {
	assert.Equal(t, 456*artifact.MiB, artifact.ImportSize(100*artifact.MiB))
}

func TestFilesystem_Create(t *testing.T) {
	t.Run("populated", func(t *testing.T) {
		exec := &sys.FakeExecutor{}
		image := filepath.Join(t.TempDir(), "disk.img")

		err := artifact.Filesystem{Exec: exec}.Create(t.Context(), image, "data", 10*artifact.MiB, "/src")
		require.NoError(t, err)

		info, err := os.Stat(image)
		require.NoError(t, err)
		assert.Equal(t, 10*artifact.MiB, info.Size())
		assert.Equal(t, []string{"mkfs.ext4 -q -F -L data -d /src " + image}, exec.Calls())
	})

	t.Run("mkfs fails", func(t *testing.T) {
		exec := &sys.FakeExecutor{
			Results: map[string]sys.FakeResult{
				"mkfs.ext4": {Err: errors.New("exit status 1")},
			},
		}
		image := filepath.Join(t.TempDir(), "disk.img")

		err := artifact.Filesystem{Exec: exec}.Create(t.Context(), image, "data", artifact.MiB, "")
		require.ErrorAs(t, err, new(*sys.ExecError))
		assert.NoFileExists(t, image)
	})
}
