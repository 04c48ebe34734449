// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package staging

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/aibor/vcontainer/internal/hypervisor"
)

// RunInfo is what the host needs to know about a run command line.
type RunInfo struct {
	// Name is the container name given with "--name", if any.
	Name string

	// Image is the image argument.
	Image string

	// Detached is true for "-d" and "--detach".
	Detached bool

	// Forwards are the published ports with a host port.
	Forwards []hypervisor.PortForward
}

// ParseRunArgs extracts the [RunInfo] from runtime arguments. It reports
// false if the arguments are no run command.
func ParseRunArgs(args []string) (RunInfo, bool, error) {
	start, isRun := IsRunCommand(args)
	if !isRun {
		return RunInfo{}, false, nil
	}

	flags, imageIdx := scanRunFlags(args, start)

	var info RunInfo

	if imageIdx < len(args) {
		info.Image = args[imageIdx]
	}

	for _, flag := range flags {
		if flag.name == "--detach" || strings.ContainsRune(shortBools(args[flag.start]), 'd') {
			info.Detached = true
		}

		switch flag.name {
		case "--name":
			info.Name = flag.value
		case "-p", "--publish":
			forward, ok, err := parsePublish(flag.value)
			if err != nil {
				return info, true, err
			}

			if ok {
				info.Forwards = append(info.Forwards, forward)
			}
		}
	}

	return info, true, nil
}

// shortBools returns the leading boolean shorthand letters of a short flag
// argument, like "dit" for "-dit" and "d" for "-dp8080:80".
func shortBools(arg string) string {
	if !strings.HasPrefix(arg, "-") || strings.HasPrefix(arg, "--") {
		return ""
	}

	letters := arg[1:]

	pos := strings.IndexFunc(letters, func(r rune) bool {
		return !strings.ContainsRune(boolShorthands, r)
	})
	if pos < 0 {
		return letters
	}

	return letters[:pos]
}

// parsePublish parses a publish spec. Specs with only a container port are
// reported as not ok, since the runtime picks a random host port.
func parsePublish(spec string) (hypervisor.PortForward, bool, error) {
	ports, _, _ := strings.Cut(spec, "/")
	if !strings.Contains(ports, ":") {
		slog.Debug("Publish without host port not forwarded", slog.String("spec", spec))
		return hypervisor.PortForward{}, false, nil
	}

	forward, err := hypervisor.ParsePortForward(spec)
	if err != nil {
		return forward, false, fmt.Errorf("%w: %w", ErrInvalidPublish, err)
	}

	return forward, true, nil
}

// RewritePublish returns the run arguments with every forwarded publish spec
// replaced by the spec the guest runtime needs. The guest port is the host
// port, so the spec is "<host>:<container>/<proto>" without host address.
func RewritePublish(args []string) ([]string, error) {
	start, isRun := IsRunCommand(args)
	if !isRun {
		return args, nil
	}

	flags, _ := scanRunFlags(args, start)

	rewritten := make([]string, 0, len(args))
	next := 0

	for _, flag := range flags {
		if flag.name != "-p" && flag.name != "--publish" {
			continue
		}

		forward, ok, err := parsePublish(flag.value)
		if err != nil {
			return nil, err
		}

		if !ok || forward.HostAddr == "" {
			continue
		}

		rewritten = append(rewritten, args[next:flag.start]...)
		rewritten = append(rewritten, flag.rewrite(args, forward.GuestSpec())...)
		next = flag.end
	}

	return append(rewritten, args[next:]...), nil
}
