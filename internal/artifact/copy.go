// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package artifact

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// CopyTree copies the directory tree src to dst. Symbolic links are
// dereferenced and hardlinked files are copied as independent files, so dst
// contains only regular files and directories.
func CopyTree(src, dst string) error {
	src, err := filepath.EvalSymlinks(src)
	if err != nil {
		return fmt.Errorf("resolve source: %w", err)
	}

	err = filepath.WalkDir(src, func(path string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err //nolint:wrapcheck
		}

		target := filepath.Join(dst, rel)

		// Stat follows symbolic links.
		info, err := os.Stat(path)
		if err != nil {
			return err //nolint:wrapcheck
		}

		switch {
		case info.IsDir():
			if err := os.MkdirAll(target, info.Mode().Perm()|0o700); err != nil {
				return err //nolint:wrapcheck
			}

			// WalkDir does not descend into linked directories.
			if path != src && isSymlink(path) {
				return copyLinkedTree(path, target)
			}

			return nil
		case info.Mode().IsRegular():
			return CopyFile(path, target)
		default:
			return nil
		}
	})
	if err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}

	return nil
}

func copyLinkedTree(link, target string) error {
	resolved, err := filepath.EvalSymlinks(link)
	if err != nil {
		return err //nolint:wrapcheck
	}

	return CopyTree(resolved, target)
}

func isSymlink(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.Mode()&fs.ModeSymlink != 0
}

// CopyFile copies the content of the regular file src to dst, following
// symbolic links. The file mode is preserved.
func CopyFile(src, dst string) error {
	source, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer source.Close()

	info, err := source.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create target directory: %w", err)
	}

	target, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create target: %w", err)
	}

	_, err = io.Copy(target, source)
	if closeErr := target.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		return fmt.Errorf("copy content: %w", err)
	}

	return nil
}

// ContentSize returns the apparent size of all files below path, following
// symbolic links. For a regular file it is the file size.
func ContentSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat: %w", err)
	}

	if !info.IsDir() {
		return info.Size(), nil
	}

	var size int64

	err = filepath.WalkDir(path, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if entry.IsDir() {
			return nil
		}

		info, err := os.Stat(path)
		if err != nil {
			return err //nolint:wrapcheck
		}

		if info.IsDir() {
			resolved, err := filepath.EvalSymlinks(path)
			if err != nil {
				return err //nolint:wrapcheck
			}

			linked, err := ContentSize(resolved)
			size += linked

			return err
		}

		if info.Mode().IsRegular() {
			size += info.Size()
		}

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk %s: %w", path, err)
	}

	return size, nil
}
