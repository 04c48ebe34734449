// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Response is the result of a guest command.
type Response struct {
	// Output is the combined stdout and stderr of the command.
	Output []byte

	// ExitCode of the command.
	ExitCode int
}

// Err returns an [ExitError] if the exit code is not zero.
func (r *Response) Err() error {
	if r.ExitCode != 0 {
		return ExitError(r.ExitCode)
	}

	return nil
}

type parserState int

const (
	stateAwaitStart parserState = iota
	stateOutput
	stateAwaitExitCode
	stateAwaitEnd
	stateError
	stateDone
)

func (s parserState) String() string {
	switch s {
	case stateAwaitStart:
		return "awaiting output start"
	case stateOutput:
		return "reading output"
	case stateAwaitExitCode:
		return "awaiting exit code"
	case stateAwaitEnd:
		return "awaiting end"
	case stateError:
		return "reading error"
	default:
		return "done"
	}
}

// responseParser is the framing state machine for a single response.
type responseParser struct {
	state    parserState
	output   strings.Builder
	errorMsg strings.Builder
	exitCode int
}

// feed processes a single line without line terminator. It returns true once
// the response is complete.
func (p *responseParser) feed(line string) (bool, error) {
	trimmed := strings.TrimRight(line, "\r")

	switch p.state {
	case stateAwaitStart:
		switch strings.TrimSpace(trimmed) {
		case "", MarkerPong:
			// Blank lines and late pongs of earlier pings carry no
			// information.
		case MarkerOutputStart:
			p.state = stateOutput
		case MarkerError:
			p.state = stateError
		case MarkerShuttingDown, MarkerIdleShutdown:
			return false, ErrShutdown
		default:
			return false, &FramingError{Line: trimmed, State: p.state.String()}
		}
	case stateOutput:
		if trimmed == MarkerOutputEnd {
			p.state = stateAwaitExitCode
			break
		}

		p.output.WriteString(trimmed)
		p.output.WriteByte('\n')
	case stateAwaitExitCode:
		code, found := ParseExitCode(trimmed)
		if !found {
			return false, &FramingError{Line: trimmed, State: p.state.String()}
		}

		p.exitCode = code
		p.state = stateAwaitEnd
	case stateAwaitEnd:
		if strings.TrimSpace(trimmed) != MarkerEnd {
			return false, &FramingError{Line: trimmed, State: p.state.String()}
		}

		p.state = stateDone

		return true, nil
	case stateError:
		if strings.TrimSpace(trimmed) == MarkerEnd {
			p.state = stateDone
			return false, &GuestError{Message: p.errorMsg.String()}
		}

		p.errorMsg.WriteString(trimmed)
		p.errorMsg.WriteByte('\n')
	case stateDone:
		return true, nil
	}

	return false, nil
}

func (p *responseParser) response() *Response {
	return &Response{
		Output:   []byte(p.output.String()),
		ExitCode: p.exitCode,
	}
}

// ReadResponse reads a single complete response from the reader.
//
// A read deadline exceeded is returned as [ErrTimeout]. The end of the input
// before the response is complete is returned as [ErrMalformedResponse].
func ReadResponse(reader *bufio.Reader) (*Response, error) {
	var parser responseParser

	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			done, feedErr := parser.feed(strings.TrimSuffix(line, "\n"))
			if feedErr != nil {
				return nil, feedErr
			}

			if done {
				return parser.response(), nil
			}
		}

		if err != nil {
			return nil, readError(err, parser.state)
		}
	}
}

// ReadLine reads a single line and strips the line terminator.
func ReadLine(reader *bufio.Reader) (string, error) {
	line, err := reader.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", readError(err, stateAwaitStart)
	}

	return strings.TrimRight(line, "\r\n"), nil
}

func readError(err error, state parserState) error {
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, io.EOF):
		return fmt.Errorf("%w: channel closed while %s",
			ErrMalformedResponse, state)
	default:
		return fmt.Errorf("read: %w", err)
	}
}
