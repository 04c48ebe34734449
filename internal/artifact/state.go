// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package artifact

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aibor/vcontainer/internal/sys"
)

const (
	// LegacyStateImageName is the state image name used by older versions.
	LegacyStateImageName = "state.img"

	stateLabel = "vcstate"
)

var gzipMagic = []byte{0x1f, 0x8b}

// StateImageName returns the state image file name for the runtime.
func StateImageName(runtime string) string {
	return runtime + "-state.img"
}

// MigrateLegacy renames a legacy state image in dir to the runtime specific
// name. It does nothing if the new image already exists or there is no
// legacy image. It reports whether the image was migrated.
func MigrateLegacy(dir, runtime string) (bool, error) {
	current := filepath.Join(dir, StateImageName(runtime))
	legacy := filepath.Join(dir, LegacyStateImageName)

	if _, err := os.Stat(current); err == nil {
		return false, nil
	}

	if !sys.FileExists(legacy) {
		return false, nil
	}

	if err := os.Rename(legacy, current); err != nil {
		return false, fmt.Errorf("migrate state image: %w", err)
	}

	slog.Info("Migrated legacy state image",
		slog.String("from", legacy),
		slog.String("to", current))

	return true, nil
}

// EnsureStateImage returns the path of the state image in dir. A legacy
// image is migrated. If there is no image, an empty one of
// [DefaultStateSize] is created.
func (p Preparer) EnsureStateImage(ctx context.Context, dir, runtime string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create state directory: %w", err)
	}

	if _, err := MigrateLegacy(dir, runtime); err != nil {
		return "", err
	}

	image := filepath.Join(dir, StateImageName(runtime))
	if sys.FileExists(image) {
		return image, nil
	}

	slog.Debug("Create state image", slog.String("path", image))

	if err := p.filesystem().Create(ctx, image, stateLabel, DefaultStateSize, ""); err != nil {
		return "", err
	}

	return image, nil
}

// ImportState creates the state image at path from the exported tar. Plain
// and gzip compressed archives are accepted. The archive is written through
// a fuse2fs mount. If FUSE is not usable it is extracted to a staging
// directory the image is then built from.
func (p Preparer) ImportState(ctx context.Context, image, archive string) error {
	info, err := os.Stat(archive)
	if err != nil {
		return fmt.Errorf("state archive: %w", err)
	}

	size := ImportSize(info.Size())

	mounted, err := p.importMounted(ctx, image, archive, size)
	if mounted || err != nil {
		return err
	}

	slog.Warn("FUSE not available, import state through staging directory")

	staging, err := p.stagingDir("state")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	if err := extractArchive(archive, staging); err != nil {
		return err
	}

	return p.filesystem().Create(ctx, image, stateLabel, size, staging)
}

// importMounted imports the archive through a FUSE mount. It reports false
// without error if FUSE can not be used.
func (p Preparer) importMounted(ctx context.Context, image, archive string, size int64) (bool, error) {
	if err := p.filesystem().Create(ctx, image, stateLabel, size, ""); err != nil {
		return false, err
	}

	mountpoint, ok := p.mount(ctx, image, "fakeroot")
	if !ok {
		return false, nil
	}

	err := extractArchive(archive, mountpoint)
	if unmountErr := p.unmount(ctx, mountpoint); err == nil {
		err = unmountErr
	}

	if err != nil {
		_ = os.Remove(image)
		return true, fmt.Errorf("import state: %w", err)
	}

	return true, nil
}

func extractArchive(archive, dir string) error {
	file, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)

	var input io.Reader = reader

	magic, _ := reader.Peek(len(gzipMagic))
	if bytes.Equal(magic, gzipMagic) {
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return fmt.Errorf("decompress archive: %w", err)
		}
		defer gz.Close()

		input = gz
	}

	return ExtractTar(input, dir)
}

// ExportState writes the content of the state image as tar to writer. The
// image is read through a read-only fuse2fs mount, or dumped with debugfs if
// FUSE is not usable.
func (p Preparer) ExportState(ctx context.Context, image string, writer io.Writer) error {
	if !sys.FileExists(image) {
		return fmt.Errorf("%w: %s", ErrNoStateImage, image)
	}

	if mountpoint, ok := p.mount(ctx, image, "ro,fakeroot"); ok {
		err := WriteTar(writer, mountpoint)
		if unmountErr := p.unmount(ctx, mountpoint); err == nil {
			err = unmountErr
		}

		if err != nil {
			return fmt.Errorf("export state: %w", err)
		}

		return nil
	}

	slog.Warn("FUSE not available, export state with debugfs")

	staging, err := p.stagingDir("export")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	_, err = p.Exec.Run(ctx, "debugfs", "-R", "rdump / "+staging, image)
	if err != nil {
		return fmt.Errorf("dump state: %w", err)
	}

	if err := WriteTar(writer, staging); err != nil {
		return fmt.Errorf("export state: %w", err)
	}

	return nil
}

// mount mounts the image with fuse2fs in a fresh directory. It reports false
// if the tools are missing or the mount fails.
func (p Preparer) mount(ctx context.Context, image, options string) (string, bool) {
	for _, tool := range []string{"fuse2fs", "fusermount"} {
		if _, err := p.Exec.LookPath(tool); err != nil {
			slog.Debug("FUSE tool missing", slog.String("tool", tool))
			return "", false
		}
	}

	mountpoint, err := p.stagingDir("mnt")
	if err != nil {
		return "", false
	}

	if _, err := p.Exec.Run(ctx, "fuse2fs", "-o", options, image, mountpoint); err != nil {
		slog.Debug("FUSE mount failed", slog.Any("error", err))

		_ = os.Remove(mountpoint)

		return "", false
	}

	return mountpoint, true
}

// unmount unmounts the FUSE mount, lazily if regular unmounting fails, and
// removes the mountpoint.
func (p Preparer) unmount(ctx context.Context, mountpoint string) error {
	_, err := p.Exec.Run(ctx, "fusermount", "-u", mountpoint)
	if err != nil {
		slog.Debug("Unmount failed, retry lazy", slog.Any("error", err))

		_, lazyErr := p.Exec.Run(ctx, "fusermount", "-uz", mountpoint)
		if lazyErr != nil {
			return fmt.Errorf("unmount: %w", errors.Join(err, lazyErr))
		}
	}

	if err := os.Remove(mountpoint); err != nil {
		slog.Debug("Remove mountpoint", slog.Any("error", err))
	}

	return nil
}
