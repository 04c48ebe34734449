// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package staging

import (
	"slices"
	"strings"
)

// boolFlags are the run flags without value. All other flags are assumed to
// take one.
var boolFlags = []string{
	"--detach", "--init", "--interactive", "--no-healthcheck", "--oom-kill-disable",
	"--privileged", "--publish-all", "--read-only", "--rm", "--sig-proxy", "--tty",
	"--replace", "--quiet",
}

// boolShorthands are the single letter run flags without value. They can be
// combined, like "-dit".
const boolShorthands = "diPqt"

// runFlag is a flag of a run command line.
type runFlag struct {
	name  string
	value string
	// start and end are the argument indexes covered by the flag. end is
	// exclusive.
	start int
	end   int
	// inline is true for values given as "--name=value" or "-vvalue".
	inline bool
}

// IsRunCommand reports whether the runtime arguments create a container
// and returns the index of the first argument after the subcommand.
func IsRunCommand(args []string) (int, bool) {
	switch {
	case len(args) > 0 && (args[0] == "run" || args[0] == "create"):
		return 1, true
	case len(args) > 1 && args[0] == "container" && (args[1] == "run" || args[1] == "create"):
		return 2, true
	default:
		return 0, false
	}
}

func isExecCommand(args []string) (int, bool) {
	switch {
	case len(args) > 0 && args[0] == "exec":
		return 1, true
	case len(args) > 1 && args[0] == "container" && args[1] == "exec":
		return 2, true
	default:
		return 0, false
	}
}

// TerminalRequested reports whether a run or exec command line asks for an
// interactive terminal with both "-i" and "-t".
func TerminalRequested(args []string) bool {
	start, ok := IsRunCommand(args)
	if !ok {
		start, ok = isExecCommand(args)
	}

	if !ok {
		return false
	}

	flags, _ := scanRunFlags(args, start)

	var interactive, tty bool

	for _, flag := range flags {
		bools := shortBools(args[flag.start])
		interactive = interactive || flag.name == "--interactive" || strings.ContainsRune(bools, 'i')
		tty = tty || flag.name == "--tty" || strings.ContainsRune(bools, 't')
	}

	return interactive && tty
}

// valueFlag reports whether the flag takes a value.
func valueFlag(name string) bool {
	if strings.HasPrefix(name, "--") {
		return !slices.Contains(boolFlags, name)
	}

	letters := strings.TrimPrefix(name, "-")

	return strings.Trim(letters, boolShorthands) != ""
}

// scanRunFlags returns the flags of the run command line starting at index
// start, up to the image argument. It returns the index of the image argument
// or len(args) if there is none.
func scanRunFlags(args []string, start int) ([]runFlag, int) {
	var flags []runFlag

	idx := start
	for idx < len(args) {
		arg := args[idx]

		if arg == "--" {
			return flags, idx + 1
		}

		if !strings.HasPrefix(arg, "-") || arg == "-" {
			return flags, idx
		}

		flag := runFlag{name: arg, start: idx, end: idx + 1}

		switch {
		case strings.HasPrefix(arg, "--"):
			if name, value, found := strings.Cut(arg, "="); found {
				flag.name, flag.value, flag.inline = name, value, true
			}
		case len(arg) > 2 && strings.Trim(arg[1:], boolShorthands) != "":
			// Shorthand with attached value, like "-v/src:/dst" or
			// "-p=8080:80". Leading boolean shorthands are allowed,
			// like "-dp8080:80".
			letters := arg[1:]
			pos := strings.IndexFunc(letters, func(r rune) bool {
				return !strings.ContainsRune(boolShorthands, r)
			})

			if pos < len(letters)-1 {
				flag.name = "-" + letters[pos:pos+1]
				flag.value = strings.TrimPrefix(letters[pos+1:], "=")
				flag.inline = true
			} else {
				flag.name = "-" + letters[pos:]
			}
		}

		if !flag.inline && valueFlag(flag.name) && idx+1 < len(args) {
			flag.value = args[idx+1]
			flag.end = idx + 2
		}

		flags = append(flags, flag)
		idx = flag.end
	}

	return flags, idx
}

// rewrite returns the arguments for the flag with the new value, keeping the
// original notation.
func (f runFlag) rewrite(args []string, value string) []string {
	if !f.inline {
		return []string{args[f.start], value}
	}

	original := args[f.start]
	prefix := strings.TrimSuffix(original, f.value)

	return []string{prefix + value}
}

// RemovalTargets returns the containers named by a stop, kill or rm command
// line. It reports false for other commands.
func RemovalTargets(args []string) ([]string, bool) {
	start := 1

	if len(args) > 1 && args[0] == "container" {
		args = args[1:]
	}

	if len(args) == 0 || !slices.Contains([]string{"stop", "kill", "rm"}, args[0]) {
		return nil, false
	}

	var targets []string

	for idx := start; idx < len(args); idx++ {
		arg := args[idx]

		switch {
		case arg == "-t" || arg == "--time" || arg == "-s" || arg == "--signal":
			// Skip the option's value.
			idx++
		case strings.HasPrefix(arg, "-"):
		default:
			targets = append(targets, arg)
		}
	}

	return targets, true
}
