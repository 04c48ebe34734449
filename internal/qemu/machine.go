// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package qemu

import (
	"strconv"
	"strings"

	"github.com/aibor/vcontainer/internal/sys"
)

const (
	machineTypeMicroVM = "microvm"
	machineTypePC      = "pc"
	machineTypeQ35     = "q35"
	machineTypeVirt    = "virt"
)

const consoleChardevID = "stdio"

// MachineSpec defines the QEMU machine a guest runs in.
type MachineSpec struct {
	// Path to the qemu-system binary
	Executable string

	// Path to the kernel to boot.
	Kernel string

	// Path to the initramfs to boot with.
	Initramfs string

	// QEMU machine type to use. Depends on the QEMU binary used.
	Machine string

	// CPU type to use. Depends on machine type and QEMU binary used.
	CPU string

	// Number of CPUs for the guest.
	SMP uint64

	// Memory for the machine in MB.
	Memory uint64

	// Disable KVM support.
	NoKVM bool

	// Transport type for IO. This depends on machine type and the kernel.
	// ARM type virt does not support ISA type at all.
	TransportType TransportType

	// QMPSocket is the path of the QMP control socket. No QMP socket is
	// created if empty.
	QMPSocket string

	// ExtraArgs are extra arguments that are passed to the QEMU command, like
	// disk and network devices. They must not interfere with the essential
	// arguments set by the machine itself.
	ExtraArgs []Argument

	// KernelArgs are appended to the kernel command line.
	KernelArgs []string

	// Increase guest kernel logging.
	Verbose bool
}

// AddDefaultsFor adds architecture specific default values to the given spec if
// the fields are not set yet.
func (s *MachineSpec) AddDefaultsFor(arch sys.Arch) error {
	var (
		executable    string
		machine       string
		transportType TransportType
		cpu           string
	)

	switch arch {
	case sys.AMD64:
		executable = "qemu-system-x86_64"
		machine = machineTypeQ35
		transportType = TransportTypePCI
		cpu = "max"
	case sys.ARM64:
		executable = "qemu-system-aarch64"
		machine = machineTypeVirt
		transportType = TransportTypeMMIO
		cpu = "cortex-a57"
	case sys.RISCV64:
		executable = "qemu-system-riscv64"
		machine = machineTypeVirt
		transportType = TransportTypeMMIO
		cpu = "rv64"
	default:
		return sys.ErrArchNotSupported
	}

	if s.Executable == "" {
		s.Executable = executable
	}

	if s.Machine == "" {
		s.Machine = machine
	}

	if s.TransportType == "" {
		s.TransportType = transportType
	}

	if !s.NoKVM {
		s.NoKVM = !arch.KVMAvailable()
	}

	if s.CPU == "" {
		s.CPU = cpu
		if !s.NoKVM {
			s.CPU = "host"
		}
	}

	return nil
}

// Validate checks for known incompatibilities.
func (s *MachineSpec) Validate() error {
	if !s.TransportType.isKnown() {
		return &ArgumentError{
			"unknown transport type: " + s.TransportType.String(),
		}
	}

	switch s.Machine {
	case machineTypeMicroVM:
		if s.TransportType != TransportTypeMMIO {
			return &ArgumentError{"microvm requires virtio-mmio"}
		}
	case machineTypeVirt:
		if s.TransportType == TransportTypeISA {
			return &ArgumentError{"virt requires virtio-mmio"}
		}
	case machineTypeQ35, machineTypePC:
		if s.TransportType == TransportTypeMMIO {
			return &ArgumentError{
				s.Machine + " does not work with virtio-mmio",
			}
		}
	}

	return nil
}

// Arguments compiles the validated argument list for the QEMU command.
func (s *MachineSpec) Arguments() ([]string, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	return BuildArgumentStrings(s.arguments())
}

// arguments compiles the argument list for the QEMU command.
func (s *MachineSpec) arguments() []Argument {
	args := []Argument{
		UniqueArg("kernel", s.Kernel),
		UniqueArg("initrd", s.Initramfs),
	}

	if s.Machine != "" {
		args = append(args, UniqueArg("machine", s.Machine))
	}

	if s.CPU != "" {
		args = append(args, UniqueArg("cpu", s.CPU))
	}

	if s.SMP != 0 {
		args = append(args, UniqueArg("smp", strconv.FormatUint(s.SMP, 10)))
	}

	if s.Memory != 0 {
		args = append(args, UniqueArg("m", strconv.FormatUint(s.Memory, 10)))
	}

	if !s.NoKVM {
		args = append(args, UniqueArg("enable-kvm", ""))
	}

	// The serial bus carries the virtio console and the command channel.
	args = append(args,
		RepeatableArg("device", s.TransportType.device("virtio-serial")+",max_ports=8"),
		RepeatableArg("chardev", "stdio,id="+consoleChardevID),
	)
	args = append(args, s.TransportType.consoleArgs(consoleChardevID)...)

	args = append(args,
		// Disable video output.
		UniqueArg("display", "none"),
		// Disable the human monitor. QMP is used instead.
		UniqueArg("monitor", "none"),
		// Guest must not reboot.
		UniqueArg("no-reboot"),
		// Disable all default devices.
		UniqueArg("nodefaults"),
		// Do not load any user config files.
		UniqueArg("no-user-config"),
	)

	if s.QMPSocket != "" {
		args = append(args, UniqueArg("qmp", "unix:"+s.QMPSocket, "server=on", "wait=off"))
	}

	args = append(args, s.ExtraArgs...)

	kernelCmdline := strings.Join(s.kernelCmdlineArgs(), " ")
	args = append(args, RepeatableArg("append", kernelCmdline))

	return args
}

// kernelCmdlineArgs returns the kernel cmdline arguments.
func (s *MachineSpec) kernelCmdlineArgs() []string {
	cmdline := []string{
		"console=" + s.TransportType.ConsoleDeviceName(0),
		"panic=-1",
		"mitigations=off",
	}

	// ACPI is necessary for SMP. With a single CPU, we can disable it to speed
	// up the boot considerably.
	if s.SMP == 1 {
		cmdline = append(cmdline, "acpi=off")
	}

	if s.Verbose {
		cmdline = append(cmdline, "debug")
	} else {
		cmdline = append(cmdline, "quiet")
	}

	return append(cmdline, s.KernelArgs...)
}
