// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"slices"
	"strings"
)

type hostFileKind int

const (
	noHostFile hostFileKind = iota
	// saveFile is the output archive of "save -o".
	saveFile
	// loadFile is the input archive of "load -i".
	loadFile
)

// hostFile is a host path given to the runtime's save or load command. The
// guest can not access host paths, so they are exchanged through the input
// disk, the shared directory or the output stream.
type hostFile struct {
	kind hostFileKind
	path string

	// start and end are the argument indexes of the flag and its value. end
	// is exclusive.
	start int
	end   int
}

// findHostFile returns the archive path of save and load command lines.
func findHostFile(args []string) hostFile {
	start := 1
	if len(args) > 1 && args[0] == "image" {
		start = 2
	}

	if len(args) < start {
		return hostFile{}
	}

	var (
		kind  hostFileKind
		names []string
	)

	switch args[start-1] {
	case "save":
		kind, names = saveFile, []string{"-o", "--output"}
	case "load":
		kind, names = loadFile, []string{"-i", "--input"}
	default:
		return hostFile{}
	}

	for idx := start; idx < len(args); idx++ {
		arg := args[idx]

		if name, value, found := strings.Cut(arg, "="); found && slices.Contains(names, name) {
			return hostFile{kind: kind, path: value, start: idx, end: idx + 1}
		}

		if slices.Contains(names, arg) && idx+1 < len(args) {
			return hostFile{kind: kind, path: args[idx+1], start: idx, end: idx + 2}
		}
	}

	// save without output file writes the archive to stdout.
	if kind == saveFile {
		return hostFile{kind: saveFile}
	}

	return hostFile{}
}

// without returns the arguments without the file flag.
func (f hostFile) without(args []string) []string {
	if f.path == "" {
		return slices.Clone(args)
	}

	return slices.Concat(args[:f.start], args[f.end:])
}

// replaced returns the arguments with the file flag value replaced by path.
func (f hostFile) replaced(args []string, path string) []string {
	flag, _, _ := strings.Cut(args[f.start], "=")

	return slices.Concat(args[:f.start], []string{flag, path}, args[f.end:])
}
