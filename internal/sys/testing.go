// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sys

import (
	"context"
	"os/exec"
	"strings"
	"sync"
)

// FakeExecutor is an [Executor] for tests. It records all calls and answers
// with the configured results.
type FakeExecutor struct {
	// Results maps a full command line, or just its tool name, to the result
	// to return. Full command lines take precedence.
	Results map[string]FakeResult

	// Missing lists tools [FakeExecutor.LookPath] does not find.
	Missing []string

	// Hook is called for every command before the result is looked up.
	Hook func(name string, args []string) error

	mu    sync.Mutex
	calls []string
}

// FakeResult is a canned result of a [FakeExecutor] command.
type FakeResult struct {
	Output []byte
	Err    error
}

var _ Executor = (*FakeExecutor)(nil)

// Run implements [Executor].
func (e *FakeExecutor) Run(
	_ context.Context,
	name string,
	args ...string,
) ([]byte, error) {
	line := strings.Join(append([]string{name}, args...), " ")

	e.mu.Lock()
	e.calls = append(e.calls, line)
	e.mu.Unlock()

	if e.Hook != nil {
		if err := e.Hook(name, args); err != nil {
			return nil, err
		}
	}

	result, exists := e.Results[line]
	if !exists {
		result = e.Results[name]
	}

	if result.Err != nil {
		return result.Output, &ExecError{
			Command: append([]string{name}, args...),
			Output:  result.Output,
			Err:     result.Err,
		}
	}

	return result.Output, nil
}

// LookPath implements [Executor].
func (e *FakeExecutor) LookPath(name string) (string, error) {
	for _, missing := range e.Missing {
		if missing == name {
			return "", exec.ErrNotFound
		}
	}

	return "/usr/bin/" + name, nil
}

// Calls returns the command lines run so far.
func (e *FakeExecutor) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]string(nil), e.calls...)
}
