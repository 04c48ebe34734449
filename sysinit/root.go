// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sysinit

import (
	"fmt"
	"os"
	"path/filepath"
)

// Directories of the root file system switch below the initramfs.
const (
	lowerRootDir = "/.root/lower"
	upperRootDir = "/.root/rw"
	newRootDir   = "/.root/new"
)

// movedMountPoints are moved into the new root on [SwitchRoot].
var movedMountPoints = []string{"/dev", "/proc", "/sys"}

// SwitchRoot mounts the read-only root file system device with a writable
// tmpfs overlay and changes the root of the process into it.
//
// The initramfs stays in memory below the new root. The essential mount
// points are moved, so they must be mounted already. Everything mounted
// later lives in the new root.
func SwitchRoot(device string) error {
	if err := Mount(lowerRootDir, DiskMount(device, true)); err != nil {
		return fmt.Errorf("mount root device: %w", err)
	}

	if err := Mount(upperRootDir, MountOptions{FSType: FSTypeTmp}); err != nil {
		return fmt.Errorf("mount overlay tmpfs: %w", err)
	}

	upper := filepath.Join(upperRootDir, "upper")
	work := filepath.Join(upperRootDir, "work")

	overlay := MountOptions{
		FSType: FSTypeOverlay,
		Data: "lowerdir=" + lowerRootDir +
			",upperdir=" + upper +
			",workdir=" + work,
	}

	for _, dir := range []string{upper, work} {
		if err := os.MkdirAll(dir, defaultDirMode); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	if err := Mount(newRootDir, overlay); err != nil {
		return fmt.Errorf("mount overlay: %w", err)
	}

	for _, path := range movedMountPoints {
		target := filepath.Join(newRootDir, path)

		err := Mount(target, MountOptions{Source: path, Flags: MountMove})
		if err != nil {
			return fmt.Errorf("move mount: %w", err)
		}
	}

	return chroot(newRootDir)
}

// WithSwitchRoot returns a setup [Func] that wraps [SwitchRoot] and can be
// used with [Run].
func WithSwitchRoot(device string) Func {
	return func(_ *State) error {
		return SwitchRoot(device)
	}
}
