// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package protocol

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sync"
)

// ResponseWriter writes framed responses. It is used by the guest.
//
// All methods are safe for concurrent use. Each method writes complete lines
// only.
type ResponseWriter struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewResponseWriter creates a new [ResponseWriter] writing to w.
func NewResponseWriter(w io.Writer) *ResponseWriter {
	return &ResponseWriter{writer: w}
}

// WriteMarker writes a single sentinel line.
func (w *ResponseWriter) WriteMarker(marker string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.writeLines(marker)
}

// WriteResult writes the output block, the exit code and the end marker.
func (w *ResponseWriter) WriteResult(output []byte, exitCode int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writeLines(MarkerOutputStart); err != nil {
		return err
	}

	if err := w.writeBlock(output); err != nil {
		return err
	}

	return w.writeLines(MarkerOutputEnd, FormatExitCode(exitCode), MarkerEnd)
}

// WriteError writes an error block terminated by the end marker.
func (w *ResponseWriter) WriteError(err error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writeLines(MarkerError); err != nil {
		return err
	}

	if err := w.writeBlock([]byte(err.Error())); err != nil {
		return err
	}

	return w.writeLines(MarkerEnd)
}

// WriteArtifact writes the data read from src base64 encoded between the
// given start and end markers.
func (w *ResponseWriter) WriteArtifact(start, end string, src io.Reader) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writeLines(start); err != nil {
		return err
	}

	buffered := bufio.NewWriter(w.writer)

	if _, err := Encode(buffered, src); err != nil {
		// Terminate a partially written line, so an error block written
		// next starts on its own line.
		_ = buffered.Flush()
		_, _ = io.WriteString(w.writer, "\n")

		return fmt.Errorf("encode artifact: %w", err)
	}

	if err := buffered.Flush(); err != nil {
		return fmt.Errorf("flush artifact: %w", err)
	}

	return w.writeLines(end)
}

// Writer returns the underlying writer for raw pass-through, as used for
// interactive sessions.
func (w *ResponseWriter) Writer() io.Writer {
	return w.writer
}

func (w *ResponseWriter) writeBlock(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	if !bytes.HasSuffix(data, []byte("\n")) {
		data = append(bytes.Clone(data), '\n')
	}

	if _, err := w.writer.Write(data); err != nil {
		return fmt.Errorf("write block: %w", err)
	}

	return nil
}

func (w *ResponseWriter) writeLines(lines ...string) error {
	for _, line := range lines {
		if _, err := io.WriteString(w.writer, line+"\n"); err != nil {
			return fmt.Errorf("write %s: %w", line, err)
		}
	}

	return nil
}
