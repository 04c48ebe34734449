// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package protocol

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

var interactiveEndPrefix, _, _ = strings.Cut(interactiveEndFormat, "%d")

// EndDetector passes through interactive output until the end marker.
//
// Output of interactive sessions is not line oriented, so only the bytes
// that may be the start of the marker are held back. Once the marker is
// seen, writes fail with [ErrSessionEnded].
type EndDetector struct {
	out     io.Writer
	pending []byte
	done    bool
	code    int
}

// NewEndDetector returns an [EndDetector] writing to out.
func NewEndDetector(out io.Writer) *EndDetector {
	return &EndDetector{out: out}
}

// Done returns true once the end marker was seen.
func (d *EndDetector) Done() bool {
	return d.done
}

// Code returns the exit code of the end marker.
func (d *EndDetector) Code() int {
	return d.code
}

// Write implements [io.Writer].
func (d *EndDetector) Write(data []byte) (int, error) {
	if d.done {
		return 0, ErrSessionEnded
	}

	buf := append(d.pending, data...) //nolint:gocritic
	d.pending = nil

	idx := bytes.Index(buf, []byte(interactiveEndPrefix))
	if idx < 0 {
		keep := partialPrefixLen(buf, []byte(interactiveEndPrefix))
		d.pending = bytes.Clone(buf[len(buf)-keep:])

		return len(data), d.write(buf[:len(buf)-keep])
	}

	if err := d.write(buf[:idx]); err != nil {
		return 0, err
	}

	lineEnd := bytes.IndexByte(buf[idx:], '\n')
	if lineEnd < 0 {
		d.pending = bytes.Clone(buf[idx:])
		return len(data), nil
	}

	code, found := ParseInteractiveEnd(string(buf[idx : idx+lineEnd]))
	if !found {
		// Not a marker after all.
		if err := d.write(buf[idx : idx+lineEnd+1]); err != nil {
			return 0, err
		}

		if _, err := d.Write(buf[idx+lineEnd+1:]); err != nil {
			return 0, err
		}

		return len(data), nil
	}

	d.done = true
	d.code = code

	return len(data), ErrSessionEnded
}

func (d *EndDetector) write(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	if _, err := d.out.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	return nil
}

// partialPrefixLen returns the length of the longest suffix of data that is
// a proper prefix of marker.
func partialPrefixLen(data, marker []byte) int {
	for n := min(len(marker)-1, len(data)); n > 0; n-- {
		if bytes.HasSuffix(data, marker[:n]) {
			return n
		}
	}

	return 0
}
