// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"fmt"
	"strings"
)

// Runtime is the container runtime running in the guest.
type Runtime string

// Supported runtimes.
const (
	RuntimeDocker Runtime = "docker"
	RuntimePodman Runtime = "podman"
)

// LegacyStateImageName is the state image name used before the name carried
// the runtime.
const LegacyStateImageName = "state.img"

// ParseRuntime parses the runtime name. Tool names are accepted as aliases.
func ParseRuntime(s string) (Runtime, error) {
	switch strings.ToLower(s) {
	case "docker", "vdkr":
		return RuntimeDocker, nil
	case "podman", "vpdmn":
		return RuntimePodman, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownRuntime, s)
	}
}

// String implements [fmt.Stringer].
func (r Runtime) String() string {
	return string(r)
}

// Set implements [pflag.Value].
func (r *Runtime) Set(s string) error {
	runtime, err := ParseRuntime(s)
	if err != nil {
		return err
	}

	*r = runtime

	return nil
}

// Type implements [pflag.Value].
func (*Runtime) Type() string {
	return "runtime"
}

// Prefix is the prefix of the kernel command line parameters.
func (r Runtime) Prefix() string {
	return string(r)
}

// ToolName is the user facing name of the tool for the runtime.
func (r Runtime) ToolName() string {
	if r == RuntimePodman {
		return "vpdmn"
	}

	return "vdkr"
}

// EnvPrefix is the prefix of environment variables for the runtime.
func (r Runtime) EnvPrefix() string {
	return strings.ToUpper(r.ToolName())
}

// BaseDirName is the name of the per user directory holding configuration
// and state directories.
func (r Runtime) BaseDirName() string {
	return "." + r.ToolName()
}

// StateImageName is the file name of the persistent state image.
func (r Runtime) StateImageName() string {
	return string(r) + "-state.img"
}

// Hypervisor is the kind of hypervisor used to run the guest.
type Hypervisor string

// Supported hypervisors.
const (
	HypervisorQEMU Hypervisor = "qemu"
	HypervisorXen  Hypervisor = "xen"
)

// String implements [fmt.Stringer].
func (h Hypervisor) String() string {
	return string(h)
}

// Set implements [pflag.Value].
func (h *Hypervisor) Set(s string) error {
	switch hv := Hypervisor(strings.ToLower(s)); hv {
	case HypervisorQEMU, HypervisorXen:
		*h = hv
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownHypervisor, s)
	}
}

// Type implements [pflag.Value].
func (*Hypervisor) Type() string {
	return "hypervisor"
}
