// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package initramfs

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"

	"github.com/aibor/vcontainer/internal/sys"
)

var machines = map[sys.Arch]elf.Machine{
	sys.AMD64:   elf.EM_X86_64,
	sys.ARM64:   elf.EM_AARCH64,
	sys.RISCV64: elf.EM_RISCV,
}

// ValidateAgent checks that the file at path is a statically linked ELF
// executable for arch.
func ValidateAgent(path string, arch sys.Arch) error {
	elfFile, err := elf.Open(path)
	if err != nil {
		// Files shorter than the ELF header fail with EOF.
		var formatErr *elf.FormatError
		if errors.As(err, &formatErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%s %w", path, ErrNotELFFile)
		}

		return fmt.Errorf("open agent: %w", err)
	}
	defer elfFile.Close()

	if want, known := machines[arch]; !known || elfFile.Machine != want {
		return fmt.Errorf("%w: %s is %s, guest is %s",
			ErrArchMismatch, path, elfFile.Machine, arch)
	}

	for _, prog := range elfFile.Progs {
		if prog.Type == elf.PT_INTERP {
			return fmt.Errorf("%s: %w", path, ErrNotStatic)
		}
	}

	return nil
}
