// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package orchestrator

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aibor/vcontainer/internal/protocol"
)

// consoleLog follows the console log file of a background guest. The file
// may not exist yet when following starts.
type consoleLog struct {
	path    string
	file    *os.File
	reader  *bufio.Reader
	partial strings.Builder
}

// feed passes all complete lines written since the last call to the
// monitor. It returns true once the monitor is done.
func (c *consoleLog) feed(monitor *protocol.Monitor) (bool, error) {
	if c.file == nil {
		file, err := os.Open(c.path)
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		} else if err != nil {
			return false, fmt.Errorf("open console log: %w", err)
		}

		c.file = file
		c.reader = bufio.NewReader(file)
	}

	for {
		chunk, err := c.reader.ReadString('\n')
		c.partial.WriteString(chunk)

		if errors.Is(err, io.EOF) {
			// Keep the incomplete line for the next call.
			return monitor.Done(), nil
		} else if err != nil {
			return false, fmt.Errorf("read console log: %w", err)
		}

		line := c.partial.String()
		c.partial.Reset()

		if monitor.Feed(line) {
			return true, nil
		}
	}
}

func (c *consoleLog) Close() error {
	if c.file == nil {
		return nil
	}

	return c.file.Close() //nolint:wrapcheck
}

// endDrain passes interactive guest output to the terminal until the end
// marker and discards everything after it, so the hypervisor never blocks
// writing its console.
type endDrain struct {
	detector *protocol.EndDetector
}

func (d *endDrain) Write(data []byte) (int, error) {
	if d.detector.Done() {
		return len(data), nil
	}

	if _, err := d.detector.Write(data); err != nil && !errors.Is(err, protocol.ErrSessionEnded) {
		return 0, err //nolint:wrapcheck
	}

	return len(data), nil
}
