// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sysinit

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
)

// Symlinks is a collection of symbolic links. Keys are symbolic links to
// create with the value being the target to link to.
type Symlinks map[string]string

// DevSymlinks returns the well-known symlinks in /dev that container runtimes
// and shells expect.
func DevSymlinks() Symlinks {
	return Symlinks{
		"/dev/fd":     "/proc/self/fd",
		"/dev/stdin":  "/proc/self/fd/0",
		"/dev/stdout": "/proc/self/fd/1",
		"/dev/stderr": "/proc/self/fd/2",
		"/dev/ptmx":   "pts/ptmx",
	}
}

// CreateSymlinks creates the symbolic links. Existing links are replaced,
// as devtmpfs already provides some of them.
//
// This must be run after all file systems have been mounted.
func CreateSymlinks(symlinks Symlinks) error {
	for _, link := range slices.Sorted(maps.Keys(symlinks)) {
		err := os.Remove(link)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("replace %s: %w", link, err)
		}

		if err := os.Symlink(symlinks[link], link); err != nil {
			return fmt.Errorf("create symlink %s: %w", link, err)
		}
	}

	return nil
}

// WithSymlinks returns a setup [Func] that wraps [CreateSymlinks] and can be
// used with [Run].
func WithSymlinks(symlinks Symlinks) Func {
	return func(_ *State) error {
		return CreateSymlinks(symlinks)
	}
}
