// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sys

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ProcessAlive returns true if a process with the given PID exists. A
// process owned by another user counts as alive.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	err := unix.Kill(pid, 0)

	return err == nil || errors.Is(err, unix.EPERM)
}

// Signal sends the signal to the process. A process that is already gone is
// not an error.
func Signal(pid int, sig unix.Signal) error {
	err := unix.Kill(pid, sig)
	if err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signal %d: %w", pid, err)
	}

	return nil
}

// ReadPIDFile reads a file containing a PID.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file %s: %w", path, err)
	}

	return pid, nil
}

// WritePIDFile writes the PID into the file.
func WritePIDFile(path string, pid int) error {
	return WriteFileAtomic(path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}
