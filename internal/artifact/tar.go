// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package artifact

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// lostAndFound is created by mkfs.ext4 and never part of archives.
const lostAndFound = "lost+found"

// skippedModes are file types left out of archives. Device nodes can not be
// created without privileges and are recreated by the guest. Sockets and
// FIFOs are runtime artifacts of the engine and tar can not represent
// sockets at all.
const skippedModes = fs.ModeDevice | fs.ModeCharDevice | fs.ModeSocket | fs.ModeNamedPipe

// excluded reports whether the entry is left out of archives.
func excluded(rel string, mode fs.FileMode) bool {
	if rel == lostAndFound || strings.HasPrefix(rel, lostAndFound+"/") {
		return true
	}

	return mode&skippedModes != 0
}

// WriteTar writes the content of dir as tar archive. Paths are relative to
// dir. Device nodes, sockets, FIFOs and lost+found are excluded.
func WriteTar(writer io.Writer, dir string) error {
	tw := tar.NewWriter(writer)

	root, err := os.OpenRoot(dir)
	if err != nil {
		return fmt.Errorf("open directory: %w", err)
	}
	defer root.Close()

	err = fs.WalkDir(root.FS(), ".", func(rel string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if rel == "." {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return err //nolint:wrapcheck
		}

		if excluded(rel, info.Mode()) {
			slog.Debug("Skip archive entry",
				slog.String("path", rel),
				slog.String("mode", info.Mode().Type().String()))

			if entry.IsDir() {
				return fs.SkipDir
			}

			return nil
		}

		return writeTarEntry(tw, root, rel, info)
	})
	if err != nil {
		return fmt.Errorf("write tar: %w", err)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}

	return nil
}

func writeTarEntry(tw *tar.Writer, root *os.Root, rel string, info fs.FileInfo) error {
	var link string

	if info.Mode()&fs.ModeSymlink != 0 {
		target, err := root.Readlink(rel)
		if err != nil {
			return fmt.Errorf("read link %s: %w", rel, err)
		}

		link = target
	}

	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return fmt.Errorf("header %s: %w", rel, err)
	}

	header.Name = filepath.ToSlash(rel)
	if info.IsDir() {
		header.Name += "/"
	}

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write header %s: %w", rel, err)
	}

	if !info.Mode().IsRegular() {
		return nil
	}

	file, err := root.Open(rel)
	if err != nil {
		return fmt.Errorf("open %s: %w", rel, err)
	}
	defer file.Close()

	if _, err := io.Copy(tw, file); err != nil {
		return fmt.Errorf("copy %s: %w", rel, err)
	}

	return nil
}

// ExtractTar extracts the archive into dir. Device nodes and lost+found are
// skipped. Entries escaping dir are rejected.
func ExtractTar(reader io.Reader, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create target: %w", err)
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		return fmt.Errorf("open target: %w", err)
	}
	defer root.Close()

	tr := tar.NewReader(reader)

	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}

		rel := filepath.Clean(strings.TrimPrefix(header.Name, "/"))
		if rel == "." {
			continue
		}

		if !filepath.IsLocal(rel) {
			return fmt.Errorf("%w: %s", ErrUnsafePath, header.Name)
		}

		if excluded(rel, header.FileInfo().Mode()) {
			continue
		}

		if err := extractEntry(root, tr, header, rel); err != nil {
			return err
		}
	}
}

func extractEntry(root *os.Root, tr *tar.Reader, header *tar.Header, rel string) error {
	mode := header.FileInfo().Mode().Perm()

	if dir := filepath.Dir(rel); dir != "." {
		if err := mkdirAll(root, dir); err != nil {
			return err
		}
	}

	switch header.Typeflag {
	case tar.TypeDir:
		if err := mkdirAll(root, rel); err != nil {
			return err
		}

		return root.Chmod(rel, mode|0o700) //nolint:wrapcheck
	case tar.TypeReg:
		file, err := root.OpenFile(rel, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
		if err != nil {
			return fmt.Errorf("create %s: %w", rel, err)
		}
		defer file.Close()

		//nolint:gosec
		if _, err := io.Copy(file, tr); err != nil {
			return fmt.Errorf("write %s: %w", rel, err)
		}

		return nil
	case tar.TypeSymlink:
		_ = root.Remove(rel)

		if err := root.Symlink(header.Linkname, rel); err != nil {
			return fmt.Errorf("symlink %s: %w", rel, err)
		}

		return nil
	case tar.TypeLink:
		target := filepath.Clean(strings.TrimPrefix(header.Linkname, "/"))
		if !filepath.IsLocal(target) {
			return fmt.Errorf("%w: link %s", ErrUnsafePath, header.Linkname)
		}

		_ = root.Remove(rel)

		if err := root.Link(target, rel); err != nil {
			return fmt.Errorf("link %s: %w", rel, err)
		}

		return nil
	default:
		slog.Debug("Skip tar entry",
			slog.String("name", header.Name),
			slog.Int("type", int(header.Typeflag)))

		return nil
	}
}

func mkdirAll(root *os.Root, rel string) error {
	if err := root.MkdirAll(rel, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", rel, err)
	}

	return nil
}
