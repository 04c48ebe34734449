// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package artifact

import (
	"context"
	"fmt"
	"os"

	"github.com/aibor/vcontainer/internal/sys"
)

const (
	// MiB is one mebibyte.
	MiB int64 = 1 << 20

	// MinImageSize is the floor for images sized by their content.
	MinImageSize = 64 * MiB

	// ImageHeadroom is added to the scaled content size.
	ImageHeadroom = 64 * MiB

	// DefaultStateSize is the size of newly created state images.
	DefaultStateSize = 2048 * MiB

	// ImportHeadroom is added to twice the tar size for restored state
	// images, so the runtime has room to work after the import.
	ImportHeadroom = 256 * MiB
)

// ImageSize returns the image size for the given content size. File system
// metadata overhead is accounted for by scaling the content by 1.5.
func ImageSize(contentSize int64) int64 {
	size := contentSize + contentSize/2 + ImageHeadroom

	return max(size, MinImageSize)
}

// ImportSize returns the state image size for a tar of the given size.
func ImportSize(tarSize int64) int64 {
	return max(2*tarSize+ImportHeadroom, MinImageSize)
}

// Filesystem creates ext4 images with mkfs.ext4.
type Filesystem struct {
	Exec sys.Executor
}

// Create creates a sparse image file of the given size and formats it. If
// dir is not empty, the filesystem is populated with its content.
func (f Filesystem) Create(ctx context.Context, path, label string, size int64, dir string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create image: %w", err)
	}

	err = file.Truncate(size)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("size image: %w", err)
	}

	args := []string{"-q", "-F", "-L", label}
	if dir != "" {
		args = append(args, "-d", dir)
	}

	args = append(args, path)

	if _, err := f.Exec.Run(ctx, "mkfs.ext4", args...); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("format image: %w", err)
	}

	return nil
}
