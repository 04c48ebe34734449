// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// InputType is the kind of the input disk content.
type InputType string

// Supported input types.
const (
	InputNone InputType = "none"
	InputOCI  InputType = "oci"
	InputTar  InputType = "tar"
	InputDir  InputType = "dir"
)

// StateType is the kind of persistent state attached to the guest.
type StateType string

// Supported state types.
const (
	StateNone StateType = "none"
	StateDisk StateType = "disk"
)

// ChannelKind is the transport of the daemon command channel.
type ChannelKind string

// Supported channel kinds.
const (
	// ChannelVirtio is a virtio-serial port bridged to a host Unix socket.
	ChannelVirtio ChannelKind = "virtio"
	// ChannelHVC is a Xen PV console exposed as PTY on the host.
	ChannelHVC ChannelKind = "hvc"
	// ChannelVsock is an AF_VSOCK stream.
	ChannelVsock ChannelKind = "vsock"
)

// BootParams are the parameters passed from host to guest on the kernel
// command line. All keys are prefixed with the runtime prefix, like
// "docker_cmd".
type BootParams struct {
	Command            string
	Input              InputType
	Output             OutputType
	State              StateType
	Network            bool
	Daemon             bool
	IdleTimeout        time.Duration
	Interactive        bool
	Share              bool
	Channel            ChannelKind
	Registry           string
	InsecureRegistries []string
}

// KernelArgs returns the command line arguments for the given prefix.
func (p BootParams) KernelArgs(prefix string) []string {
	arg := func(key, value string) string {
		return prefix + "_" + key + "=" + value
	}

	input := p.Input
	if input == "" {
		input = InputNone
	}

	output := p.Output
	if output == "" {
		output = OutputText
	}

	state := p.State
	if state == "" {
		state = StateNone
	}

	args := []string{}

	if p.Command != "" {
		args = append(args, arg("cmd", p.Command))
	}

	args = append(args,
		arg("input", string(input)),
		arg("output", string(output)),
		arg("state", string(state)),
		arg("network", boolParam(p.Network)),
		arg("daemon", boolParam(p.Daemon)),
		arg("idle_timeout", strconv.Itoa(int(p.IdleTimeout.Seconds()))),
		arg("interactive", boolParam(p.Interactive)),
		arg("9p", boolParam(p.Share)),
	)

	if p.Channel != "" {
		args = append(args, arg("channel", string(p.Channel)))
	}

	if p.Registry != "" {
		args = append(args, arg("registry", p.Registry))
	}

	for _, registry := range p.InsecureRegistries {
		args = append(args, arg("insecure_registry", registry))
	}

	return args
}

// ParseBootParams parses the kernel command line for parameters with the
// given prefix. Unrelated parameters are ignored.
func ParseBootParams(prefix, cmdline string) (BootParams, error) {
	params := BootParams{
		Input:  InputNone,
		Output: OutputText,
		State:  StateNone,
	}

	for _, field := range strings.Fields(cmdline) {
		key, value, found := strings.Cut(field, "=")
		if !found {
			continue
		}

		key, found = strings.CutPrefix(key, prefix+"_")
		if !found {
			continue
		}

		if err := params.set(key, value); err != nil {
			return BootParams{}, fmt.Errorf("parameter %s: %w", field, err)
		}
	}

	return params, nil
}

func (p *BootParams) set(key, value string) error {
	switch key {
	case "cmd":
		p.Command = value
	case "input":
		p.Input = InputType(value)
	case "output":
		return p.Output.Set(value)
	case "state":
		p.State = StateType(value)
	case "network":
		p.Network = value == "1"
	case "daemon":
		p.Daemon = value == "1"
	case "idle_timeout":
		seconds, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("parse seconds: %w", err)
		}

		p.IdleTimeout = time.Duration(seconds) * time.Second
	case "interactive":
		p.Interactive = value == "1"
	case "9p":
		p.Share = value == "1"
	case "channel":
		p.Channel = ChannelKind(value)
	case "registry":
		p.Registry = value
	case "insecure_registry":
		p.InsecureRegistries = append(p.InsecureRegistries, value)
	}

	return nil
}

func boolParam(b bool) string {
	if b {
		return "1"
	}

	return "0"
}
