// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"github.com/spf13/pflag"
)

// RegisterFlags adds the global flags to the given flag set. Defaults are
// not set on the flags, as they are resolved by [Load].
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String(KeyArch, "", "target architecture: x86_64, aarch64, riscv64")
	flags.String(KeyRuntime, "", "container runtime in the guest: docker, podman")
	flags.String(KeyHypervisor, "", "hypervisor: qemu, xen")
	flags.String(KeyStateDir, "", "state directory of the daemon instance")
	flags.String(KeyInstance, "", "name of the daemon instance, suffixes the state directory")
	flags.String(KeyBlobDir, "", "directory with kernel, initramfs and rootfs per architecture")
	flags.String(KeyAgent, "", "guest agent binary added to the initramfs")
	flags.String(KeyTimeout, "", "one shot timeout in seconds or as duration")
	flags.String(KeyIdleTimeout, "", "daemon idle timeout in seconds or as duration")
	flags.Bool(KeyNoDaemon, false, "never use or start a daemon, run one shot")
	flags.Bool(KeyNetwork, true, "enable guest network")
	flags.String(KeyRegistry, "", "default registry for unqualified image references")
	flags.StringArray(KeyInsecureRegistry, nil,
		"registry to access without TLS. Flag may be used more than once.")
	flags.StringArray(KeySecureRegistry, nil,
		"registry that must be accessed with TLS. Flag may be used more than once.")
	flags.String(KeyMemory, "", "guest memory in MiB")
	flags.String(KeySMP, "", "number of guest CPUs")
	flags.Bool(KeyNoKVM, false, "disable hardware acceleration")
	flags.String(KeyChannel, "", "daemon command channel: virtio, hvc, vsock")
	flags.Bool(KeyKeepLogs, false, "keep temporary files and logs")
	flags.String(KeyConfig, "", "configuration file")
	flags.BoolP(KeyVerbose, "V", false, "enable verbose output")
	flags.Bool(KeyDebug, false, "enable debug output")
}
