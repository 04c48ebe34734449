// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sys

import (
	"os"
	"runtime"
	"strings"
)

// Arch is a guest architecture in Go notation.
type Arch string

// Supported guest architectures.
const (
	AMD64   Arch = "amd64"
	ARM64   Arch = "arm64"
	RISCV64 Arch = "riscv64"
)

// Native is the architecture of the host. Using the same architecture for the
// guest allows using KVM, if available. Use [Arch.KVMAvailable] to check.
const Native Arch = Arch(runtime.GOARCH)

// kvmDevice is the device checked for hardware acceleration support.
var kvmDevice = "/dev/kvm"

// ParseArch returns the [Arch] for the given name.
//
// Besides the Go notation, the kernel notation (x86_64, aarch64) and common
// aliases are accepted.
func ParseArch(name string) (Arch, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "amd64", "x86_64", "x86-64", "x64":
		return AMD64, nil
	case "arm64", "aarch64":
		return ARM64, nil
	case "riscv64":
		return RISCV64, nil
	default:
		return "", &ArchError{Name: name}
	}
}

// MustParseArch calls [ParseArch] and panics in case of errors.
func MustParseArch(name string) Arch {
	arch, err := ParseArch(name)
	if err != nil {
		panic(err)
	}

	return arch
}

// String implements [fmt.Stringer].
func (a Arch) String() string {
	return string(a)
}

// KernelName returns the architecture as named by the Linux kernel (uname -m).
//
// State and blob directories are named by this.
func (a Arch) KernelName() string {
	switch a {
	case AMD64:
		return "x86_64"
	case ARM64:
		return "aarch64"
	default:
		return string(a)
	}
}

// OCIName returns the architecture as used in OCI platform descriptors.
func (a Arch) OCIName() string {
	return string(a)
}

// IsNative returns true if the architecture matches the host's.
func (a Arch) IsNative() bool {
	return Native == a
}

// KVMAvailable checks if KVM support is available for the given architecture.
//
// It requires the host architecture to match and the KVM device to be
// writable.
func (a Arch) KVMAvailable() bool {
	if !a.IsNative() {
		return false
	}

	f, err := os.OpenFile(kvmDevice, os.O_WRONLY, 0)
	if err != nil {
		return false
	}

	_ = f.Close()

	return true
}

// Set implements [pflag.Value].
func (a *Arch) Set(s string) error {
	arch, err := ParseArch(s)
	if err != nil {
		return err
	}

	*a = arch

	return nil
}

// Type implements [pflag.Value].
func (*Arch) Type() string {
	return "arch"
}
