// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package qemu

import (
	"fmt"
	"slices"
)

const (
	// TransportTypeISA is ISA legacy transport. The console is an ISA serial
	// port, all other devices still use virtio PCI.
	TransportTypeISA TransportType = "isa"
	// TransportTypePCI is VirtIO PCI transport. Requires kernel built with
	// CONFIG_VIRTIO_PCI.
	TransportTypePCI TransportType = "pci"
	// TransportTypeMMIO is Virtio MMIO transport. Requires kernel built with
	// CONFIG_VIRTIO_MMIO.
	TransportTypeMMIO TransportType = "mmio"
)

// TransportType represents QEMU IO transport types.
type TransportType string

func (t *TransportType) isKnown() bool {
	knownTransportTypes := []TransportType{
		TransportTypeISA,
		TransportTypePCI,
		TransportTypeMMIO,
	}

	return slices.Contains(knownTransportTypes, *t)
}

// String implements [fmt.Stringer].
func (t *TransportType) String() string {
	if !t.isKnown() {
		return ""
	}

	return string(*t)
}

// MarshalText implements [encoding.TextMarshaler].
func (t TransportType) MarshalText() ([]byte, error) {
	s := t.String()
	if s == "" {
		return nil, ErrTransportTypeInvalid
	}

	return []byte(s), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (t *TransportType) UnmarshalText(text []byte) error {
	tt := TransportType(text)

	if !tt.isKnown() {
		return ErrTransportTypeInvalid
	}

	*t = tt

	return nil
}

// ConsoleDeviceName returns the name of the console device in the guest.
func (t *TransportType) ConsoleDeviceName(num uint8) string {
	f := "hvc%d"
	if *t == TransportTypeISA {
		f = "ttyS%d"
	}

	return fmt.Sprintf(f, num)
}

// device returns the virtio device model name for the transport, like
// "virtio-blk-pci" for base "virtio-blk".
func (t *TransportType) device(base string) string {
	if *t == TransportTypeMMIO {
		return base + "-device"
	}

	return base + "-pci"
}

// consoleArgs returns the arguments connecting the guest console to the
// chardev with the given ID.
func (t *TransportType) consoleArgs(chardevID string) []Argument {
	if *t == TransportTypeISA {
		return []Argument{
			RepeatableArg("serial", "chardev:"+chardevID),
		}
	}

	return []Argument{
		RepeatableArg("device", "virtconsole,chardev="+chardevID),
	}
}
