// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sysinit

import (
	"fmt"
	"os"
	"strings"

	"github.com/aibor/vcontainer/internal/protocol"
)

// CmdlinePath is the kernel command line of the running system.
const CmdlinePath = "/proc/cmdline"

// RuntimePrefixes are the boot parameter prefixes of the supported container
// runtimes. The prefix is the runtime name.
var RuntimePrefixes = []string{"docker", "podman"}

// ReadBootParams reads the boot parameters from the kernel command line file.
// It returns the runtime name detected by the parameter prefix.
//
// The runtime is detected by the command parameter, or any other parameter
// if there is no command, as daemon guests are booted without one.
func ReadBootParams(path string) (protocol.BootParams, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return protocol.BootParams{}, "", fmt.Errorf("read cmdline: %w", err)
	}

	cmdline := string(data)

	runtime := detectRuntime(cmdline)
	if runtime == "" {
		return protocol.BootParams{}, "", ErrNoBootParams
	}

	params, err := protocol.ParseBootParams(runtime, cmdline)
	if err != nil {
		return protocol.BootParams{}, "", fmt.Errorf("parse cmdline: %w", err)
	}

	return params, runtime, nil
}

func detectRuntime(cmdline string) string {
	fields := strings.Fields(cmdline)

	for _, key := range []string{"_cmd=", "_"} {
		for _, prefix := range RuntimePrefixes {
			for _, field := range fields {
				if strings.HasPrefix(field, prefix+key) {
					return prefix
				}
			}
		}
	}

	return ""
}
