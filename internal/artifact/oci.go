// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package artifact

import (
	_ "crypto/sha256" // Register digest algorithm.
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/opencontainers/go-digest"
	"github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// maxIndexDepth limits how many nested indexes are followed.
const maxIndexDepth = 8

// NormalizeArch returns the OCI architecture name for the given kernel
// style name. Unknown names are returned as is.
func NormalizeArch(arch string) string {
	switch arch {
	case "aarch64":
		return "arm64"
	case "x86_64":
		return "amd64"
	default:
		return arch
	}
}

// IsOCILayout reports whether dir is an OCI image layout.
func IsOCILayout(dir string) bool {
	for _, name := range []string{ocispec.ImageLayoutFile, ocispec.ImageIndexFile} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || !info.Mode().IsRegular() {
			return false
		}
	}

	return true
}

func blobPath(layout string, dgst digest.Digest) string {
	return filepath.Join(layout, ocispec.ImageBlobsDir, dgst.Algorithm().String(), dgst.Encoded())
}

func decodeJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}

	if len(data) == 0 {
		return fmt.Errorf("%w: %s is empty", ErrInvalidManifest, filepath.Base(path))
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidManifest, filepath.Base(path), err)
	}

	return nil
}

func readIndex(path string) (ocispec.Index, error) {
	var index ocispec.Index

	if err := decodeJSON(path, &index); err != nil {
		return index, err
	}

	if len(index.Manifests) == 0 {
		return index, fmt.Errorf("%w: %s has no manifests", ErrInvalidManifest, filepath.Base(path))
	}

	for _, desc := range index.Manifests {
		if err := desc.Digest.Validate(); err != nil {
			return index, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
		}
	}

	return index, nil
}

func isIndexDescriptor(desc ocispec.Descriptor) bool {
	return desc.MediaType == ocispec.MediaTypeImageIndex
}

// IsImageIndex reports whether the layout's index.json is a multi
// architecture image index. That is the case if any entry carries platform
// information or refers to another index.
func IsImageIndex(dir string) (bool, error) {
	index, err := readIndex(filepath.Join(dir, ocispec.ImageIndexFile))
	if err != nil {
		return false, err
	}

	return slices.ContainsFunc(index.Manifests, func(desc ocispec.Descriptor) bool {
		return desc.Platform != nil || isIndexDescriptor(desc)
	}), nil
}

// walkManifests calls fn for all image manifest descriptors of the layout,
// following nested indexes. It stops if fn returns false.
func walkManifests(dir string, fn func(ocispec.Descriptor) bool) error {
	var walk func(path string, depth int) (bool, error)

	walk = func(path string, depth int) (bool, error) {
		if depth > maxIndexDepth {
			return false, fmt.Errorf("%w: indexes nested too deep", ErrInvalidManifest)
		}

		index, err := readIndex(path)
		if err != nil {
			return false, err
		}

		for _, desc := range index.Manifests {
			if isIndexDescriptor(desc) {
				cont, err := walk(blobPath(dir, desc.Digest), depth+1)
				if err != nil || !cont {
					return cont, err
				}

				continue
			}

			if !fn(desc) {
				return false, nil
			}
		}

		return true, nil
	}

	_, err := walk(filepath.Join(dir, ocispec.ImageIndexFile), 0)

	return err
}

func linuxPlatform(desc ocispec.Descriptor) bool {
	return desc.Platform != nil &&
		(desc.Platform.OS == "" || desc.Platform.OS == "linux") &&
		desc.Platform.Architecture != "unknown"
}

// Platforms returns the architectures the layout has manifests for.
func Platforms(dir string) ([]string, error) {
	var platforms []string

	err := walkManifests(dir, func(desc ocispec.Descriptor) bool {
		if linuxPlatform(desc) && !slices.Contains(platforms, desc.Platform.Architecture) {
			platforms = append(platforms, desc.Platform.Architecture)
		}

		return true
	})
	if err != nil {
		return nil, err
	}

	return platforms, nil
}

// SelectPlatform returns the manifest descriptor for the architecture. The
// architecture is normalized with [NormalizeArch]. A [PlatformError] is
// returned if there is none.
func SelectPlatform(dir, arch string) (ocispec.Descriptor, error) {
	want := NormalizeArch(arch)

	var (
		selected ocispec.Descriptor
		found    bool
	)

	err := walkManifests(dir, func(desc ocispec.Descriptor) bool {
		if linuxPlatform(desc) && desc.Platform.Architecture == want {
			selected, found = desc, true
			return false
		}

		return true
	})
	if err != nil {
		return selected, err
	}

	if !found {
		platforms, _ := Platforms(dir)
		return selected, &PlatformError{Arch: want, Platforms: platforms}
	}

	return selected, nil
}

// ExtractPlatform writes a single architecture layout to dst containing only
// the given manifest with its config and layer blobs. All blobs are
// verified against their digests. On error, dst is removed so no partial
// layout is left.
func ExtractPlatform(src, dst string, desc ocispec.Descriptor) (err error) {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("create layout: %w", err)
	}

	defer func() {
		if err != nil {
			_ = os.RemoveAll(dst)
		}
	}()

	manifestPath := blobPath(src, desc.Digest)

	var manifest ocispec.Manifest
	if err := decodeJSON(manifestPath, &manifest); err != nil {
		return err
	}

	if manifest.Config.Digest == "" {
		return fmt.Errorf("%w: manifest %s has no config", ErrInvalidManifest, desc.Digest)
	}

	blobs := append([]ocispec.Descriptor{desc, manifest.Config}, manifest.Layers...)
	for _, blob := range blobs {
		if err := copyBlob(src, dst, blob.Digest); err != nil {
			return err
		}
	}

	layout, err := json.Marshal(ocispec.ImageLayout{Version: ocispec.ImageLayoutVersion})
	if err != nil {
		return fmt.Errorf("encode layout: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dst, ocispec.ImageLayoutFile), layout, 0o644); err != nil {
		return fmt.Errorf("write layout: %w", err)
	}

	if desc.MediaType == "" {
		desc.MediaType = ocispec.MediaTypeImageManifest
	}

	index, err := json.Marshal(ocispec.Index{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageIndex,
		Manifests: []ocispec.Descriptor{desc},
	})
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dst, ocispec.ImageIndexFile), index, 0o644); err != nil {
		return fmt.Errorf("write index: %w", err)
	}

	return nil
}

func copyBlob(src, dst string, dgst digest.Digest) error {
	if err := dgst.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}

	source, err := os.Open(blobPath(src, dgst))
	if err != nil {
		return fmt.Errorf("open blob: %w", err)
	}
	defer source.Close()

	target := blobPath(dst, dgst)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create blob directory: %w", err)
	}

	file, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create blob: %w", err)
	}

	verifier := dgst.Verifier()

	_, err = io.Copy(io.MultiWriter(file, verifier), source)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		return fmt.Errorf("copy blob %s: %w", dgst, err)
	}

	if !verifier.Verified() {
		return fmt.Errorf("%w: blob %s does not match its digest", ErrInvalidManifest, dgst)
	}

	return nil
}
