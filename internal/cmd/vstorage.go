// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/aibor/vcontainer/internal/artifact"
	"github.com/aibor/vcontainer/internal/orchestrator"
	"github.com/aibor/vcontainer/internal/sys"
)

// stateDirInfo describes a state directory in the base directory.
type stateDirInfo struct {
	name    string
	path    string
	arch    sys.Arch
	size    int64
	running bool
}

// formatSize formats the byte count with binary unit.
func formatSize(size int64) string {
	const unit = 1024

	if size < unit {
		return fmt.Sprintf("%d B", size)
	}

	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %ciB", float64(size)/float64(div), "KMGTPE"[exp])
}

func (a *app) vstorageCommand() *cobra.Command {
	vstorage := &cobra.Command{
		Use:   "vstorage",
		Short: "Manage the state directories on the host",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return a.vstorageList()
		},
	}

	vstorage.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List state directories with size and daemon status",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				return a.vstorageList()
			},
		},
		&cobra.Command{
			Use:   "path [arch]",
			Short: "Print the state directory",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				dir, err := a.stateDirFor(args)
				if err != nil {
					return err
				}

				fmt.Fprintln(a.stdio.Stdout, dir)

				return nil
			},
		},
		&cobra.Command{
			Use:   "df",
			Short: "Show the disk usage of the state image",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				return a.vstorageDF()
			},
		},
		&cobra.Command{
			Use:   "clean [arch]",
			Short: "Remove the state directory",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				dir, err := a.stateDirFor(args)
				if err != nil {
					return err
				}

				return a.vstorageClean(dir)
			},
		},
		&cobra.Command{
			Use:   "export <tar>",
			Short: "Export the state image content as tar archive",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.vstorageExport(cmd.Context(), args[0])
			},
		},
		&cobra.Command{
			Use:   "import <tar>",
			Short: "Replace the state image with the content of a tar archive",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.vstorageImport(cmd.Context(), args[0])
			},
		},
	)

	return vstorage
}

// stateDirFor returns the state directory of the architecture given as only
// argument, or the configured one.
func (a *app) stateDirFor(args []string) (string, error) {
	if len(args) == 0 {
		return a.cfg.StateDir, nil
	}

	arch, err := sys.ParseArch(args[0])
	if err != nil {
		return "", err //nolint:wrapcheck
	}

	return a.cfg.DefaultStateDir(arch), nil
}

// stateDirs returns the state directories in the base directory. Other
// entries, like the blob directory, are skipped.
func (a *app) stateDirs() ([]stateDirInfo, error) {
	entries, err := os.ReadDir(a.cfg.BaseDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("read base directory: %w", err)
	}

	orch := a.orchestrator()

	var dirs []stateDirInfo

	for _, entry := range entries {
		archName, _, _ := strings.Cut(entry.Name(), "-")

		arch, err := sys.ParseArch(archName)
		if !entry.IsDir() || err != nil {
			continue
		}

		info := stateDirInfo{
			name: entry.Name(),
			path: filepath.Join(a.cfg.BaseDir, entry.Name()),
			arch: arch,
		}

		info.size, err = artifact.ContentSize(info.path)
		if err != nil {
			slog.Warn("Failed to get size", slog.String("path", info.path), slog.Any("error", err))
		}

		_, err = orch.Daemon(info.path, a.cfg.Runtime).Status()
		info.running = err == nil

		dirs = append(dirs, info)
	}

	return dirs, nil
}

func (a *app) vstorageList() error {
	dirs, err := a.stateDirs()
	if err != nil {
		return err
	}

	if len(dirs) == 0 {
		fmt.Fprintf(a.stdio.Stdout, "No %s storage in %s\n", a.cfg.Runtime.ToolName(), a.cfg.BaseDir)
		return nil
	}

	writer := tabwriter.NewWriter(a.stdio.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "NAME\tARCH\tSIZE\tDAEMON\tPATH")

	for _, dir := range dirs {
		status := "stopped"
		if dir.running {
			status = "running"
		}

		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
			dir.name, dir.arch.KernelName(), formatSize(dir.size), status, dir.path)
	}

	return writer.Flush() //nolint:wrapcheck
}

func (a *app) vstorageDF() error {
	image := a.cfg.StateImage()

	var stat unix.Stat_t
	if err := unix.Stat(image, &stat); err != nil {
		if errors.Is(err, unix.ENOENT) {
			fmt.Fprintf(a.stdio.Stdout, "No state image in %s\n", a.cfg.StateDir)
			return nil
		}

		return fmt.Errorf("stat state image: %w", err)
	}

	total, err := artifact.ContentSize(a.cfg.StateDir)
	if err != nil {
		return err //nolint:wrapcheck
	}

	writer := tabwriter.NewWriter(a.stdio.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "State image:\t%s\n", image)
	fmt.Fprintf(writer, "Image size:\t%s\n", formatSize(stat.Size))
	fmt.Fprintf(writer, "Allocated:\t%s\n", formatSize(stat.Blocks*512))
	fmt.Fprintf(writer, "Directory total:\t%s\n", formatSize(total))

	return writer.Flush() //nolint:wrapcheck
}

// ensureStopped fails if a daemon uses the state directory.
func (a *app) ensureStopped(dir string) error {
	_, err := a.orchestrator().Daemon(dir, a.cfg.Runtime).Status()
	switch {
	case err == nil:
		return ErrDaemonRunning
	case errors.Is(err, orchestrator.ErrDaemonNotRunning):
		return nil
	default:
		return err //nolint:wrapcheck
	}
}

func (a *app) vstorageClean(dir string) error {
	if err := a.ensureStopped(dir); err != nil {
		return err
	}

	if !sys.DirExists(dir) {
		fmt.Fprintf(a.stdio.Stdout, "Nothing to clean in %s\n", dir)
		return nil
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove state directory: %w", err)
	}

	fmt.Fprintf(a.stdio.Stdout, "Removed %s\n", dir)

	return nil
}

// preparer returns a [artifact.Preparer] with a fresh work directory and a
// function removing it.
func (a *app) preparer() (artifact.Preparer, func(), error) {
	workDir, err := os.MkdirTemp("", "vcontainer-storage-")
	if err != nil {
		return artifact.Preparer{}, nil, fmt.Errorf("create work directory: %w", err)
	}

	cleanup := func() {
		if err := os.RemoveAll(workDir); err != nil {
			slog.Warn("Failed to remove work directory", slog.Any("error", err))
		}
	}

	return artifact.Preparer{Exec: a.exec, WorkDir: workDir}, cleanup, nil
}

func (a *app) vstorageExport(ctx context.Context, target string) (err error) {
	if err := a.ensureStopped(a.cfg.StateDir); err != nil {
		return err
	}

	if _, err := artifact.MigrateLegacy(a.cfg.StateDir, a.cfg.Runtime.String()); err != nil {
		return err //nolint:wrapcheck
	}

	preparer, cleanup, err := a.preparer()
	if err != nil {
		return err
	}
	defer cleanup()

	file, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}

	defer func() {
		if closeErr := file.Close(); err == nil && closeErr != nil {
			err = fmt.Errorf("close archive: %w", closeErr)
		}

		if err != nil {
			_ = os.Remove(target)
		}
	}()

	if err := preparer.ExportState(ctx, a.cfg.StateImage(), file); err != nil {
		return err //nolint:wrapcheck
	}

	fmt.Fprintf(a.stdio.Stdout, "Exported %s to %s\n", a.cfg.StateImage(), target)

	return nil
}

// vstorageImport builds a new state image from the archive. The current
// image is only replaced once the new one is complete.
func (a *app) vstorageImport(ctx context.Context, archive string) error {
	if err := a.ensureStopped(a.cfg.StateDir); err != nil {
		return err
	}

	if err := os.MkdirAll(a.cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	preparer, cleanup, err := a.preparer()
	if err != nil {
		return err
	}
	defer cleanup()

	image := a.cfg.StateImage()
	pending := image + ".import"

	if err := preparer.ImportState(ctx, pending, archive); err != nil {
		_ = os.Remove(pending)
		return err //nolint:wrapcheck
	}

	if err := os.Rename(pending, image); err != nil {
		return fmt.Errorf("replace state image: %w", err)
	}

	fmt.Fprintf(a.stdio.Stdout, "Imported %s into %s\n", archive, image)

	return nil
}
