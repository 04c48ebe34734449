// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sysinit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// MountFlags are the flags of mount(2).
type MountFlags uintptr

// Mount flags used by the guest init.
const (
	MountReadOnly MountFlags = unix.MS_RDONLY
	MountMove     MountFlags = unix.MS_MOVE
	MountNoAtime  MountFlags = unix.MS_NOATIME
)

func mount(path, source, fsType string, flags MountFlags, data string) error {
	if source == "" {
		source = fsType
	}

	if err := unix.Mount(source, path, fsType, uintptr(flags), data); err != nil {
		return fmt.Errorf("mount %s: %w", path, err)
	}

	return nil
}

func unmount(path string) error {
	if err := unix.Unmount(path, unix.MNT_DETACH); err != nil {
		return fmt.Errorf("unmount %s: %w", path, err)
	}

	return nil
}

func chroot(path string) error {
	if err := unix.Chroot(path); err != nil {
		return fmt.Errorf("chroot %s: %w", path, err)
	}

	if err := unix.Chdir("/"); err != nil {
		return fmt.Errorf("chdir: %w", err)
	}

	return nil
}

func reboot() error {
	// Sync, so data written to disks survives the power off.
	unix.Sync()

	if err := unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART); err != nil {
		return fmt.Errorf("reboot: %w", err)
	}

	return nil
}

func sysctl(key, value string) error {
	path := filepath.Join("/proc/sys", strings.ReplaceAll(key, ".", "/"))

	if err := os.WriteFile(path, []byte(value), 0o600); err != nil {
		return fmt.Errorf("sysctl %s: %w", key, err)
	}

	return nil
}

func setenv(key, value string) error {
	if err := os.Setenv(key, value); err != nil {
		return fmt.Errorf("setenv %s: %w", key, err)
	}

	return nil
}

func getpid() int {
	return unix.Getpid()
}
