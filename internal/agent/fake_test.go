// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent_test

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"syscall"

	"github.com/aibor/vcontainer/internal/agent"
)

type fakeResult struct {
	output string
	code   int
	err    error
}

// fakeRunner returns results by the space joined command line.
type fakeRunner struct {
	mu       sync.Mutex
	results  map[string]fakeResult
	calls    [][]string
	terminal func(args []string) (agent.Terminal, error)
}

func (r *fakeRunner) Run(
	_ context.Context,
	args []string,
	stdout, _ io.Writer,
) (int, error) {
	r.mu.Lock()
	r.calls = append(r.calls, args)
	result := r.results[strings.Join(args, " ")]
	r.mu.Unlock()

	if result.err != nil {
		return -1, result.err
	}

	_, _ = io.WriteString(stdout, result.output)

	return result.code, nil
}

func (r *fakeRunner) StartTerminal(_ context.Context, args []string) (agent.Terminal, error) {
	r.mu.Lock()
	r.calls = append(r.calls, args)
	r.mu.Unlock()

	return r.terminal(args)
}

func (r *fakeRunner) setResult(cmdline string, result fakeResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.results == nil {
		r.results = map[string]fakeResult{}
	}

	r.results[cmdline] = result
}

func (r *fakeRunner) Calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.calls
}

// echoTerminal answers the first input line and exits with code.
type echoTerminal struct {
	inReader  *io.PipeReader
	inWriter  *io.PipeWriter
	outReader *io.PipeReader
	outWriter *io.PipeWriter
	done      chan struct{}
	code      int
}

func newEchoTerminal(code int) *echoTerminal {
	term := &echoTerminal{done: make(chan struct{}), code: code}
	term.inReader, term.inWriter = io.Pipe()
	term.outReader, term.outWriter = io.Pipe()

	go func() {
		defer close(term.done)

		line, _ := bufio.NewReader(term.inReader).ReadString('\n')
		_, _ = io.WriteString(term.outWriter, "got "+line)

		// Like a terminal whose process is gone.
		_ = term.inReader.CloseWithError(syscall.EIO)
		_ = term.outWriter.CloseWithError(syscall.EIO)
	}()

	return term
}

func (t *echoTerminal) Read(data []byte) (int, error) {
	return t.outReader.Read(data)
}

func (t *echoTerminal) Write(data []byte) (int, error) {
	return t.inWriter.Write(data)
}

func (t *echoTerminal) Close() error {
	_ = t.inWriter.Close()
	_ = t.outReader.Close()

	return nil
}

func (t *echoTerminal) Wait() (int, error) {
	<-t.done
	return t.code, nil
}
