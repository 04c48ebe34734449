// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Command is a single guest command.
//
// It is a structured argument vector, so no shell is involved in the guest
// and arguments are passed exactly as given.
type Command struct {
	// Args is the argument vector. The first element is the program, usually
	// the container runtime CLI.
	Args []string

	// NeedsInput marks commands that consume the shared input directory.
	// Any [InputPlaceholder] in Args is replaced by the guest side path.
	NeedsInput bool

	// Interactive commands are run on a pseudo-terminal bridged to the
	// channel.
	Interactive bool
}

// Validate checks the command for consistency.
func (c Command) Validate() error {
	if len(c.Args) == 0 || c.Args[0] == "" {
		return ErrEmptyCommand
	}

	if c.NeedsInput && c.Interactive {
		return ErrConflictingModes
	}

	return nil
}

// String returns a human readable representation for logs.
func (c Command) String() string {
	return strings.Join(c.Args, " ")
}

// Payload returns the encoded argument vector without mode prefix.
//
// It is used as is for the kernel command line of one shot guests.
func (c Command) Payload() (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}

	data, err := json.Marshal(c.Args)
	if err != nil {
		return "", fmt.Errorf("marshal args: %w", err)
	}

	return EncodeString(data), nil
}

// RequestLine returns the complete request line without line terminator.
func (c Command) RequestLine() (string, error) {
	payload, err := c.Payload()
	if err != nil {
		return "", err
	}

	switch {
	case c.NeedsInput:
		return PrefixInputNeeded + payload, nil
	case c.Interactive:
		return PrefixInteractive + payload, nil
	default:
		return payload, nil
	}
}

// DecodePayload decodes an argument vector encoded by [Command.Payload].
func DecodePayload(payload string) ([]string, error) {
	data, err := DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, err
	}

	var args []string

	if err := json.Unmarshal(data, &args); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	if len(args) == 0 || args[0] == "" {
		return nil, ErrEmptyCommand
	}

	return args, nil
}

// RequestKind is the kind of a request read by the guest.
type RequestKind int

// Request kinds.
const (
	RequestCommand RequestKind = iota
	RequestPing
	RequestShutdown
)

// Request is a parsed request line.
type Request struct {
	Kind    RequestKind
	Command Command
}

// ParseRequest parses a request line as written by [Command.RequestLine] or
// a bare sentinel.
func ParseRequest(line string) (Request, error) {
	line = strings.TrimSpace(line)

	switch line {
	case MarkerPing:
		return Request{Kind: RequestPing}, nil
	case MarkerShutdown:
		return Request{Kind: RequestShutdown}, nil
	}

	var cmd Command

	if payload, found := strings.CutPrefix(line, PrefixInputNeeded); found {
		cmd.NeedsInput = true
		line = payload
	} else if payload, found := strings.CutPrefix(line, PrefixInteractive); found {
		cmd.Interactive = true
		line = payload
	}

	args, err := DecodePayload(line)
	if err != nil {
		return Request{}, err
	}

	cmd.Args = args

	return Request{Kind: RequestCommand, Command: cmd}, nil
}

// SubstituteInput returns a copy of args with every [InputPlaceholder]
// replaced by path.
func SubstituteInput(args []string, path string) []string {
	substituted := make([]string, len(args))

	for idx, arg := range args {
		substituted[idx] = strings.ReplaceAll(arg, InputPlaceholder, path)
	}

	return substituted
}
