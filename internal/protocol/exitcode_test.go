// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package protocol_test

import (
	"fmt"
	"testing"

	"github.com/aibor/vcontainer/internal/protocol"
	"github.com/stretchr/testify/assert"
)

func TestExitCodeFrom(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		expectedCode  int
		expectedFound bool
	}{
		{
			name: "nil",
		},
		{
			name:          "exit error",
			err:           protocol.ExitError(3),
			expectedCode:  3,
			expectedFound: true,
		},
		{
			name:          "wrapped exit error",
			err:           fmt.Errorf("run: %w", protocol.ExitError(125)),
			expectedCode:  125,
			expectedFound: true,
		},
		{
			name:         "other error",
			err:          assert.AnError,
			expectedCode: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, found := protocol.ExitCodeFrom(tt.err)
			assert.Equal(t, tt.expectedCode, code)
			assert.Equal(t, tt.expectedFound, found)
		})
	}
}

func TestParseExitCode(t *testing.T) {
	tests := []struct {
		line          string
		expectedCode  int
		expectedFound bool
	}{
		{line: protocol.FormatExitCode(0), expectedFound: true},
		{line: protocol.FormatExitCode(42) + "\r", expectedCode: 42, expectedFound: true},
		{line: "===EXIT_CODE=abc==="},
		{line: "prefix ===EXIT_CODE=1==="},
		{line: "===EXIT_CODE=1=== suffix"},
		{line: protocol.FormatInteractiveEnd(1)},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			code, found := protocol.ParseExitCode(tt.line)
			assert.Equal(t, tt.expectedCode, code)
			assert.Equal(t, tt.expectedFound, found)
		})
	}
}

func TestParseInteractiveEnd(t *testing.T) {
	code, found := protocol.ParseInteractiveEnd(protocol.FormatInteractiveEnd(130))
	assert.True(t, found)
	assert.Equal(t, 130, code)
}
