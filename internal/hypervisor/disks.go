// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package hypervisor

// Disks are the disk images attached to a guest.
type Disks struct {
	// Rootfs is always attached read-only in slot 0.
	Rootfs string

	// Input disk, optional.
	Input string

	// State disk, optional.
	State string
}

// Disk is a disk image in a specific slot.
type Disk struct {
	Slot     int
	Path     string
	ReadOnly bool
}

// Layout returns the disks in slot order: slot 0 is the rootfs, slot 1 the
// input disk if present, otherwise the state disk, and slot 2 the state disk
// if both are present.
func (d Disks) Layout() []Disk {
	layout := []Disk{{Slot: 0, Path: d.Rootfs, ReadOnly: true}}

	for _, path := range []string{d.Input, d.State} {
		if path != "" {
			layout = append(layout, Disk{Slot: len(layout), Path: path})
		}
	}

	return layout
}
