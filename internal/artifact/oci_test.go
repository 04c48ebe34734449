// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package artifact_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aibor/vcontainer/internal/artifact"
)

type testLayout struct {
	t   *testing.T
	dir string
}

func newTestLayout(t *testing.T) *testLayout {
	t.Helper()

	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		ocispec.ImageLayoutFile: `{"imageLayoutVersion":"1.0.0"}`,
	})

	return &testLayout{t: t, dir: dir}
}

func (l *testLayout) blob(mediaType string, data []byte) ocispec.Descriptor {
	l.t.Helper()

	dgst := digest.FromBytes(data)
	path := filepath.Join(l.dir, "blobs", dgst.Algorithm().String(), dgst.Encoded())
	require.NoError(l.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(l.t, os.WriteFile(path, data, 0o644))

	return ocispec.Descriptor{MediaType: mediaType, Digest: dgst, Size: int64(len(data))}
}

func (l *testLayout) jsonBlob(mediaType string, v any) ocispec.Descriptor {
	l.t.Helper()

	data, err := json.Marshal(v)
	require.NoError(l.t, err)

	return l.blob(mediaType, data)
}

// image adds config, layer and manifest blobs and returns the manifest
// descriptor with platform set.
func (l *testLayout) image(arch string) ocispec.Descriptor {
	l.t.Helper()

	config := l.jsonBlob(ocispec.MediaTypeImageConfig, ocispec.Image{
		Platform: ocispec.Platform{Architecture: arch, OS: "linux"},
	})
	layer := l.blob(ocispec.MediaTypeImageLayer, []byte("layer-"+arch))

	manifest := l.jsonBlob(ocispec.MediaTypeImageManifest, ocispec.Manifest{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageManifest,
		Config:    config,
		Layers:    []ocispec.Descriptor{layer},
	})
	manifest.Platform = &ocispec.Platform{Architecture: arch, OS: "linux"}

	return manifest
}

func (l *testLayout) index(manifests ...ocispec.Descriptor) ocispec.Index {
	return ocispec.Index{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageIndex,
		Manifests: manifests,
	}
}

func (l *testLayout) writeIndex(manifests ...ocispec.Descriptor) {
	l.t.Helper()

	data, err := json.Marshal(l.index(manifests...))
	require.NoError(l.t, err)
	require.NoError(l.t, os.WriteFile(filepath.Join(l.dir, ocispec.ImageIndexFile), data, 0o644))
}

func multiArchLayout(t *testing.T) *testLayout {
	t.Helper()

	layout := newTestLayout(t)
	layout.writeIndex(layout.image("arm64"), layout.image("amd64"))

	return layout
}

func TestNormalizeArch(t *testing.T) {
	assert.Equal(t, "arm64", artifact.NormalizeArch("aarch64"))
	assert.Equal(t, "amd64", artifact.NormalizeArch("x86_64"))
	assert.Equal(t, "riscv64", artifact.NormalizeArch("riscv64"))
}

func TestIsImageIndex(t *testing.T) {
	t.Run("multi arch", func(t *testing.T) {
		layout := multiArchLayout(t)

		assert.True(t, artifact.IsOCILayout(layout.dir))

		multi, err := artifact.IsImageIndex(layout.dir)
		require.NoError(t, err)
		assert.True(t, multi)
	})

	t.Run("single arch", func(t *testing.T) {
		layout := newTestLayout(t)
		manifest := layout.image("amd64")
		manifest.Platform = nil
		layout.writeIndex(manifest)

		multi, err := artifact.IsImageIndex(layout.dir)
		require.NoError(t, err)
		assert.False(t, multi)
	})

	t.Run("missing index", func(t *testing.T) {
		layout := newTestLayout(t)

		assert.False(t, artifact.IsOCILayout(layout.dir))

		_, err := artifact.IsImageIndex(layout.dir)
		require.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("garbled index", func(t *testing.T) {
		layout := newTestLayout(t)
		writeTree(t, layout.dir, map[string]string{ocispec.ImageIndexFile: "{manifests"})

		_, err := artifact.IsImageIndex(layout.dir)
		require.ErrorIs(t, err, artifact.ErrInvalidManifest)
	})

	t.Run("empty index", func(t *testing.T) {
		layout := newTestLayout(t)
		layout.writeIndex()

		_, err := artifact.IsImageIndex(layout.dir)
		require.ErrorIs(t, err, artifact.ErrInvalidManifest)
	})
}

func TestSelectPlatform(t *testing.T) {
	layout := multiArchLayout(t)

	t.Run("aarch64", func(t *testing.T) {
		desc, err := artifact.SelectPlatform(layout.dir, "aarch64")
		require.NoError(t, err)
		assert.Equal(t, "arm64", desc.Platform.Architecture)
	})

	t.Run("x86_64", func(t *testing.T) {
		desc, err := artifact.SelectPlatform(layout.dir, "x86_64")
		require.NoError(t, err)
		assert.Equal(t, "amd64", desc.Platform.Architecture)
	})

	t.Run("missing platform", func(t *testing.T) {
		_, err := artifact.SelectPlatform(layout.dir, "riscv64")

		var platformErr *artifact.PlatformError

		require.ErrorAs(t, err, &platformErr)
		assert.Equal(t, "riscv64", platformErr.Arch)
		assert.Equal(t, []string{"arm64", "amd64"}, platformErr.Platforms)
	})

	t.Run("nested index", func(t *testing.T) {
		nested := newTestLayout(t)
		inner := nested.jsonBlob(ocispec.MediaTypeImageIndex,
			nested.index(nested.image("arm64"), nested.image("amd64")))
		nested.writeIndex(inner)

		multi, err := artifact.IsImageIndex(nested.dir)
		require.NoError(t, err)
		assert.True(t, multi)

		platforms, err := artifact.Platforms(nested.dir)
		require.NoError(t, err)
		assert.Equal(t, []string{"arm64", "amd64"}, platforms)

		desc, err := artifact.SelectPlatform(nested.dir, "amd64")
		require.NoError(t, err)
		assert.Equal(t, "amd64", desc.Platform.Architecture)
	})
}

func TestExtractPlatform(t *testing.T) {
	t.Run("single manifest", func(t *testing.T) {
		layout := multiArchLayout(t)

		desc, err := artifact.SelectPlatform(layout.dir, "aarch64")
		require.NoError(t, err)

		dst := filepath.Join(t.TempDir(), "oci")
		require.NoError(t, artifact.ExtractPlatform(layout.dir, dst, desc))

		assert.True(t, artifact.IsOCILayout(dst))

		data, err := os.ReadFile(filepath.Join(dst, ocispec.ImageIndexFile))
		require.NoError(t, err)

		var index ocispec.Index

		require.NoError(t, json.Unmarshal(data, &index))
		require.Len(t, index.Manifests, 1)
		assert.Equal(t, desc.Digest, index.Manifests[0].Digest)

		blobs, err := os.ReadDir(filepath.Join(dst, "blobs", "sha256"))
		require.NoError(t, err)
		assert.Len(t, blobs, 3, "manifest, config and layer")

		layer := digest.FromBytes([]byte("layer-arm64"))
		assert.FileExists(t, filepath.Join(dst, "blobs", "sha256", layer.Encoded()))
	})

	t.Run("garbled manifest", func(t *testing.T) {
		layout := newTestLayout(t)
		manifest := layout.blob(ocispec.MediaTypeImageManifest, []byte("not json"))
		manifest.Platform = &ocispec.Platform{Architecture: "amd64", OS: "linux"}
		layout.writeIndex(manifest)

		dst := filepath.Join(t.TempDir(), "oci")

		err := artifact.ExtractPlatform(layout.dir, dst, manifest)
		require.ErrorIs(t, err, artifact.ErrInvalidManifest)
		assert.NoDirExists(t, dst)
	})

	t.Run("corrupt blob", func(t *testing.T) {
		layout := multiArchLayout(t)

		layer := digest.FromBytes([]byte("layer-amd64"))
		writeTree(t, layout.dir, map[string]string{
			filepath.Join("blobs", "sha256", layer.Encoded()): "tampered",
		})

		desc, err := artifact.SelectPlatform(layout.dir, "amd64")
		require.NoError(t, err)

		dst := filepath.Join(t.TempDir(), "oci")

		err = artifact.ExtractPlatform(layout.dir, dst, desc)
		require.ErrorIs(t, err, artifact.ErrInvalidManifest)
		assert.NoDirExists(t, dst)
	})
}
