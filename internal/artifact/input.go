// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aibor/vcontainer/internal/protocol"
	"github.com/aibor/vcontainer/internal/sys"
)

const (
	// InputImageName is the file name of input disk images.
	InputImageName = "input.img"

	inputLabel = "vcinput"
)

var tarSuffixes = []string{".tar", ".tar.gz", ".tgz"}

// Preparer builds the disk images for a session.
type Preparer struct {
	// Exec runs the e2fsprogs and FUSE tools.
	Exec sys.Executor

	// WorkDir is the session's temporary directory. Images and staging
	// directories are created in it.
	WorkDir string
}

func (p Preparer) filesystem() Filesystem {
	return Filesystem{Exec: p.Exec}
}

// InputDisk builds the input disk image for src and returns its path and the
// kind of its content.
//
// Directories are used as they are, unless they are an OCI layout. OCI
// layouts are copied with links dereferenced, and multi architecture image
// indexes are reduced to the manifest for arch. Tarballs and single files are
// staged into a directory first.
func (p Preparer) InputDisk(
	ctx context.Context,
	src string,
	arch sys.Arch,
) (string, protocol.InputType, error) {
	inputType, err := InputTypeOf(src)
	if err != nil {
		return "", "", err
	}

	var content string

	switch {
	case inputType == protocol.InputOCI:
		content, err = p.StageOCI(src, arch)
	case isDir(src):
		content = src
	default:
		content, err = p.stageFile(src)
	}

	if err != nil {
		return "", "", err
	}

	size, err := ContentSize(content)
	if err != nil {
		return "", "", fmt.Errorf("input size: %w", err)
	}

	image := filepath.Join(p.WorkDir, InputImageName)

	slog.Debug("Create input disk",
		slog.String("source", src),
		slog.String("type", string(inputType)),
		slog.Int64("size", ImageSize(size)))

	err = p.filesystem().Create(ctx, image, inputLabel, ImageSize(size), content)
	if err != nil {
		return "", "", err
	}

	return image, inputType, nil
}

// InputTypeOf returns the kind of input at src. OCI layouts are detected as
// [protocol.InputOCI], files with tar suffixes as [protocol.InputTar]. Other
// directories and files are [protocol.InputDir].
func InputTypeOf(src string) (protocol.InputType, error) {
	info, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("input: %w", err)
	}

	switch {
	case info.IsDir() && IsOCILayout(src):
		return protocol.InputOCI, nil
	case info.IsDir():
		return protocol.InputDir, nil
	case info.Mode().IsRegular() && IsTarball(src):
		return protocol.InputTar, nil
	case info.Mode().IsRegular():
		return protocol.InputDir, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedInput, src)
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// IsTarball reports whether the path has a tar archive suffix.
func IsTarball(path string) bool {
	for _, suffix := range tarSuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}

	return false
}

func (p Preparer) stagingDir(name string) (string, error) {
	dir, err := os.MkdirTemp(p.WorkDir, name+"-")
	if err != nil {
		return "", fmt.Errorf("create staging directory: %w", err)
	}

	return dir, nil
}

// stageFile copies the file into a fresh staging directory.
func (p Preparer) stageFile(src string) (string, error) {
	dir, err := p.stagingDir("file")
	if err != nil {
		return "", err
	}

	if err := CopyFile(src, filepath.Join(dir, filepath.Base(src))); err != nil {
		return "", fmt.Errorf("stage file: %w", err)
	}

	return dir, nil
}

// StageOCI copies the OCI layout into a staging directory in the work
// directory and returns its path. An image index is reduced to the manifest
// for the arch.
func (p Preparer) StageOCI(src string, arch sys.Arch) (string, error) {
	multi, err := IsImageIndex(src)
	if err != nil {
		return "", err
	}

	dir, err := p.stagingDir("oci")
	if err != nil {
		return "", err
	}

	if !multi {
		if err := CopyTree(src, dir); err != nil {
			return "", fmt.Errorf("stage layout: %w", err)
		}

		return dir, nil
	}

	desc, err := SelectPlatform(src, arch.KernelName())
	if err != nil {
		return "", err
	}

	slog.Info("Selected platform from image index",
		slog.String("arch", NormalizeArch(arch.KernelName())),
		slog.String("manifest", desc.Digest.String()))

	if err := ExtractPlatform(src, dir, desc); err != nil {
		return "", err
	}

	return dir, nil
}
