// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sysinit

import (
	"errors"
	"fmt"
	"log"
	"maps"
	"os"
	"slices"
	"time"
)

// FSType is a file system type.
type FSType string

// File system types mounted by the guest init.
const (
	FSTypeCgroup2 FSType = "cgroup2"
	FSTypeDevPts  FSType = "devpts"
	FSTypeDevTmp  FSType = "devtmpfs"
	FSTypeExt4    FSType = "ext4"
	FSTypeMqueue  FSType = "mqueue"
	FSTypeOverlay FSType = "overlay"
	FSTypeP9      FSType = "9p"
	FSTypeProc    FSType = "proc"
	FSTypeSys     FSType = "sysfs"
	FSTypeTmp     FSType = "tmpfs"

	defaultDirMode = 0o755
)

// essentialMountPoints are mounted by [Run] before anything else.
func essentialMountPoints() MountPoints {
	return MountPoints{
		"/dev":  {FSType: FSTypeDevTmp},
		"/proc": {FSType: FSTypeProc},
		"/sys":  {FSType: FSTypeSys},
	}
}

// SystemMountPoints returns the special file systems the container runtimes
// need, like cgroups and pseudo terminals.
func SystemMountPoints() MountPoints {
	return MountPoints{
		"/dev/mqueue":    {FSType: FSTypeMqueue, MayFail: true},
		"/dev/pts":       {FSType: FSTypeDevPts, Data: "ptmxmode=0666", MayFail: true},
		"/dev/shm":       {FSType: FSTypeTmp, MayFail: true},
		"/run":           {FSType: FSTypeTmp},
		"/sys/fs/cgroup": {FSType: FSTypeCgroup2},
		"/tmp":           {FSType: FSTypeTmp},
	}
}

// MountOptions contains parameters for a mount point.
type MountOptions struct {
	// FSType is the files system type.
	FSType FSType

	// Source is the source device to mount. If empty it is set to the
	// string of the type, as usual for pseudo file systems.
	Source string

	// Flags are optional mount flags as defined by mount(2).
	Flags MountFlags

	// Data are the file system specific options.
	Data string

	// MayFail determines if the mount operation may fail. If set to true, a
	// mount error does not fail a [MountAll] operation.
	MayFail bool
}

// MountPoints is a collection of mount points by path.
type MountPoints map[string]MountOptions

// DiskMount returns the [MountOptions] for an ext4 disk.
func DiskMount(device string, readOnly bool) MountOptions {
	opts := MountOptions{
		FSType: FSTypeExt4,
		Source: device,
		Flags:  MountNoAtime,
	}

	if readOnly {
		opts.Flags |= MountReadOnly
	}

	return opts
}

// ShareMount returns the [MountOptions] for the 9p share with the given tag.
// The transport is "virtio" for QEMU and "xen" for Xen guests.
func ShareMount(tag, transport string) MountOptions {
	return MountOptions{
		FSType: FSTypeP9,
		Source: tag,
		Data:   "trans=" + transport + ",version=9p2000.L,msize=512000,cache=none",
	}
}

// Mount mounts the file system at the given path.
//
// If path does not exist, it is created. An error is returned if this or the
// mount syscall fails.
func Mount(path string, opts MountOptions) error {
	if err := os.MkdirAll(path, defaultDirMode); err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}

	return mount(path, opts.Source, string(opts.FSType), opts.Flags, opts.Data)
}

// MountAll mounts the given set of file systems.
//
// The mounts are executed in lexicographic order of the paths, so parents
// are mounted before their children. If only optional mount points failed,
// it returns an [OptionalMountError] with all errors.
func MountAll(mountPoints MountPoints) error {
	var optionalErrs OptionalMountError

	for _, path := range slices.Sorted(maps.Keys(mountPoints)) {
		opts := mountPoints[path]

		if err := Mount(path, opts); err != nil {
			if !opts.MayFail {
				return err
			}

			optionalErrs = append(optionalErrs, err)
		}
	}

	if optionalErrs != nil {
		return optionalErrs
	}

	return nil
}

// WithMountPoints returns a setup [Func] that wraps [MountAll] and can be used
// with [Run].
//
// It logs optional mounts that failed.
func WithMountPoints(mountPoints MountPoints) Func {
	return func(_ *State) error {
		err := MountAll(mountPoints)

		var optionalErrs OptionalMountError
		if errors.As(err, &optionalErrs) {
			for _, err := range optionalErrs {
				log.Print("INFO optional mount failed: ", err.Error())
			}

			return nil
		}

		return err
	}
}

// WithMount returns a setup [Func] that mounts a single file system and
// unmounts it on cleanup.
func WithMount(path string, opts MountOptions) Func {
	return func(state *State) error {
		if err := Mount(path, opts); err != nil {
			return err
		}

		state.Cleanup(func() error {
			return unmount(path)
		})

		return nil
	}
}

// WaitForDevice waits until the device node exists. Devices of disks and
// consoles are created asynchronously by devtmpfs while the kernel probes
// them.
func WaitForDevice(path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s", ErrDeviceTimeout, path)
		}

		time.Sleep(50 * time.Millisecond)
	}
}
