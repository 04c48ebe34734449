// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// rawTerminal switches stdin into raw mode if it is a terminal, so control
// characters reach the guest. The returned function restores the previous
// mode.
func rawTerminal(stdin io.Reader) (func(), error) {
	file, ok := stdin.(*os.File)
	if !ok || !term.IsTerminal(int(file.Fd())) {
		return func() {}, nil
	}

	state, err := term.MakeRaw(int(file.Fd()))
	if err != nil {
		return nil, fmt.Errorf("set terminal raw mode: %w", err)
	}

	return func() {
		_ = term.Restore(int(file.Fd()), state)
	}, nil
}
