// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package protocol

import (
	"bytes"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// OutputType is the kind of result a one shot guest produces.
type OutputType string

// Supported output types.
const (
	OutputText    OutputType = "text"
	OutputTar     OutputType = "tar"
	OutputStorage OutputType = "storage"
)

// String implements [fmt.Stringer].
func (o OutputType) String() string {
	return string(o)
}

// Set implements [pflag.Value].
func (o *OutputType) Set(s string) error {
	t := OutputType(s)
	if !t.isKnown() {
		return fmt.Errorf("%w: %s", ErrUnknownOutputType, s)
	}

	*o = t

	return nil
}

// Type implements [pflag.Value].
func (*OutputType) Type() string {
	return "output"
}

func (o OutputType) isKnown() bool {
	return slices.Contains([]OutputType{OutputText, OutputTar, OutputStorage}, o)
}

// artifactMarkers returns the block markers of artifact output types.
func (o OutputType) artifactMarkers() (string, string, bool) {
	switch o {
	case OutputTar:
		return MarkerTarStart, MarkerTarEnd, true
	case OutputStorage:
		return MarkerStorageStart, MarkerStorageEnd, true
	default:
		return "", "", false
	}
}

// ArtifactMarkers returns the start and end markers the guest uses for the
// given artifact output type.
func ArtifactMarkers(o OutputType) (string, string, error) {
	start, end, ok := o.artifactMarkers()
	if !ok {
		return "", "", fmt.Errorf("%w: %s has no artifact", ErrUnknownOutputType, o)
	}

	return start, end, nil
}

var (
	panicRE = regexp.MustCompile(`^\[[0-9. ]+\] Kernel panic - not syncing: `)
	oomRE   = regexp.MustCompile(`^\[[0-9. ]+\] Out of memory: `)
)

// Result is the result of a one shot guest.
type Result struct {
	// Output of text output type commands.
	Output []byte

	// ExitCode of text output type commands. Artifact output types succeed
	// with code 0 or fail with an error block.
	ExitCode int

	// Artifact is the decoded tar or storage archive.
	Artifact []byte
}

type monitorState int

const (
	monitorScanning monitorState = iota
	monitorInBlock
	monitorAwaitExitCode
	monitorInError
	monitorDone
)

// Monitor watches the console output of a one shot guest for the completion
// markers of its output type.
//
// Only the markers of the configured output type complete the result. Lines
// outside of blocks, like kernel messages, are ignored unless they indicate
// a kernel panic or an OOM condition.
type Monitor struct {
	output OutputType
	state  monitorState

	block    bytes.Buffer
	errorMsg strings.Builder
	exitCode int
	err      error
}

// NewMonitor returns a new [Monitor] for the given output type.
func NewMonitor(output OutputType) (*Monitor, error) {
	if !output.isKnown() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOutputType, output)
	}

	return &Monitor{output: output}, nil
}

// Feed processes a single console line. It returns true once the result is
// complete or the guest failed. Use [Monitor.Result] to get the outcome.
func (m *Monitor) Feed(line string) bool {
	line = strings.TrimRight(line, "\r\n")

	switch m.state {
	case monitorScanning:
		m.scan(line)
	case monitorInBlock:
		m.inBlock(line)
	case monitorAwaitExitCode:
		if code, found := ParseExitCode(line); found {
			m.exitCode = code
			m.state = monitorDone
		}
	case monitorInError:
		if strings.TrimSpace(line) == MarkerEnd {
			m.fail(&GuestError{Message: m.errorMsg.String()})
			break
		}

		m.errorMsg.WriteString(line)
		m.errorMsg.WriteByte('\n')
	case monitorDone:
	}

	return m.Done()
}

func (m *Monitor) scan(line string) {
	marker := strings.TrimSpace(line)

	start := MarkerOutputStart
	if artifactStart, _, ok := m.output.artifactMarkers(); ok {
		start = artifactStart
	}

	switch {
	case marker == start:
		m.state = monitorInBlock
	case marker == MarkerError:
		m.state = monitorInError
	case oomRE.MatchString(line):
		m.fail(ErrGuestOom)
	case panicRE.MatchString(line):
		m.fail(ErrGuestPanic)
	}
}

func (m *Monitor) inBlock(line string) {
	end := MarkerOutputEnd

	_, artifactEnd, isArtifact := m.output.artifactMarkers()
	if isArtifact {
		end = artifactEnd
	}

	marker := strings.TrimSpace(line)

	// Artifact blocks are base64, so a marker line can only come from the
	// guest aborting the artifact.
	if isArtifact && marker == MarkerError {
		m.block.Reset()
		m.state = monitorInError

		return
	}

	if marker != end {
		m.block.WriteString(line)
		m.block.WriteByte('\n')

		return
	}

	if m.output == OutputText {
		m.state = monitorAwaitExitCode
	} else {
		m.state = monitorDone
	}
}

func (m *Monitor) fail(err error) {
	m.err = err
	m.state = monitorDone
}

// Output returns the output type the monitor waits for.
func (m *Monitor) Output() OutputType {
	return m.output
}

// Done returns true if no further input is needed.
func (m *Monitor) Done() bool {
	return m.state == monitorDone
}

// Result returns the outcome. It must only be called after [Monitor.Done]
// returned true, otherwise it returns [ErrMalformedResponse] describing the
// incomplete state.
func (m *Monitor) Result() (*Result, error) {
	if m.err != nil {
		return nil, m.err
	}

	if !m.Done() {
		if m.state == monitorInError {
			return nil, &GuestError{Message: m.errorMsg.String()}
		}

		return nil, fmt.Errorf("%w: no %s completion marker",
			ErrMalformedResponse, m.output)
	}

	if m.output == OutputText {
		return &Result{
			Output:   bytes.Clone(m.block.Bytes()),
			ExitCode: m.exitCode,
		}, nil
	}

	var artifact bytes.Buffer

	if _, err := Decode(&artifact, bytes.NewReader(m.block.Bytes())); err != nil {
		return nil, fmt.Errorf("%w: artifact: %w", ErrDecode, err)
	}

	return &Result{Artifact: artifact.Bytes()}, nil
}
