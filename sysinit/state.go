// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sysinit

import (
	"log"
	"slices"
)

// CleanupFunc releases a resource acquired by a [Func].
type CleanupFunc func() error

// State is shared by the [Func]s of a single [Run].
type State struct {
	cleanupFns []CleanupFunc
}

// Cleanup registers a function that is run once all [Func]s are done. The
// functions run in reverse order of their registration.
func (s *State) Cleanup(fn CleanupFunc) {
	s.cleanupFns = append(s.cleanupFns, fn)
}

func (s *State) doCleanup() {
	fns := slices.Clone(s.cleanupFns)
	slices.Reverse(fns)

	for _, fn := range fns {
		if err := fn(); err != nil {
			log.Print("ERROR cleanup: ", err.Error())
		}
	}

	s.cleanupFns = nil
}
