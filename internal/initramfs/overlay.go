// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package initramfs

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/aibor/vcontainer/internal/sys"
)

const (
	// InitPath is the archive path of the agent.
	InitPath = "init"

	// AgentLinkPath is the archive path of the link to the agent, used when
	// the agent is invoked by name.
	AgentLinkPath = "sbin/vcontainer-init"

	// archiveAlignment is the alignment the kernel expects for each archive
	// of a concatenated initramfs.
	archiveAlignment = 4
)

// WriteOverlay writes the cpio archive containing the agent as init.
func WriteOverlay(writer io.Writer, agent fs.File) error {
	w := NewCPIOWriter(writer)

	if err := w.WriteRegular(InitPath, agent, 0o755); err != nil {
		return err
	}

	if err := w.WriteDirectory("sbin"); err != nil {
		return err
	}

	if err := w.WriteLink(AgentLinkPath, "/"+InitPath); err != nil {
		return err
	}

	return w.Close()
}

// Build writes the initramfs at dst consisting of the base initramfs and the
// agent overlay. The agent is validated with [ValidateAgent] first.
func Build(dst, base, agentPath string, arch sys.Arch) error {
	if err := ValidateAgent(agentPath, arch); err != nil {
		return err
	}

	agent, err := os.Open(agentPath)
	if err != nil {
		return fmt.Errorf("open agent: %w", err)
	}
	defer agent.Close()

	baseFile, err := os.Open(base)
	if err != nil {
		return fmt.Errorf("open base: %w", err)
	}
	defer baseFile.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create initramfs: %w", err)
	}

	err = concat(out, baseFile, agent)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(dst)
		return err
	}

	slog.Debug("Built initramfs with agent overlay",
		slog.String("path", dst),
		slog.String("agent", agentPath))

	return nil
}

func concat(out io.Writer, base io.Reader, agent fs.File) error {
	written, err := io.Copy(out, base)
	if err != nil {
		return fmt.Errorf("copy base: %w", err)
	}

	// The kernel skips zero padding between archives.
	if rem := written % archiveAlignment; rem != 0 {
		padding := make([]byte, archiveAlignment-rem)
		if _, err := out.Write(padding); err != nil {
			return fmt.Errorf("pad base: %w", err)
		}
	}

	if err := WriteOverlay(out, agent); err != nil {
		return fmt.Errorf("write overlay: %w", err)
	}

	return nil
}
