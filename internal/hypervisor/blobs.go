// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package hypervisor

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aibor/vcontainer/internal/sys"
)

// Blob file names in the per architecture blob directory.
const (
	InitramfsFileName = "initramfs.cpio.gz"
	RootfsFileName    = "rootfs.img"
)

const blobHint = "build the guest blobs for the architecture or use --blob-dir"

// Blobs are the guest images for one architecture.
type Blobs struct {
	Kernel    string
	Initramfs string
	Rootfs    string

	// ConsoleDevice is the guest's console device name, like "ttyS0".
	ConsoleDevice string
}

// KernelFileName returns the name of the kernel image for the given
// architecture.
func KernelFileName(arch sys.Arch) string {
	if arch == sys.AMD64 {
		return "bzImage"
	}

	return "Image"
}

// BlobPaths returns the blob paths in the layout
// "<blobDir>/<arch>/{bzImage|Image,initramfs.cpio.gz,rootfs.img}".
func BlobPaths(blobDir string, arch sys.Arch) Blobs {
	dir := filepath.Join(blobDir, arch.KernelName())

	return Blobs{
		Kernel:    filepath.Join(dir, KernelFileName(arch)),
		Initramfs: filepath.Join(dir, InitramfsFileName),
		Rootfs:    filepath.Join(dir, RootfsFileName),
	}
}

// Check verifies all blob files are present.
func (b Blobs) Check() error {
	for _, path := range []string{b.Kernel, b.Initramfs, b.Rootfs} {
		info, err := os.Stat(path)
		if err != nil {
			return &BlobError{Path: path, Hint: blobHint, Err: err}
		}

		if !info.Mode().IsRegular() {
			return &BlobError{
				Path: path,
				Hint: blobHint,
				Err:  fmt.Errorf("%w: not a regular file", os.ErrInvalid),
			}
		}
	}

	return nil
}
