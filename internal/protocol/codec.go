// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package protocol

import (
	"encoding/base64"
	"io"
)

// lineLength is the length of encoded lines written by [Encoder].
const lineLength = 76

// CopyFunc defines a function that reads the data from the given reader into
// the given writer.
//
// It may copy the data as is, like [io.Copy], or transform it as needed.
type CopyFunc func(dst io.Writer, src io.Reader) (int64, error)

var _ CopyFunc = io.Copy

// Decoder returns a new streaming decoder.
//
// Line breaks in the input are ignored, so the output of [Encoder] can be
// read as is.
func Decoder(reader io.Reader) io.Reader {
	return base64.NewDecoder(base64.StdEncoding, reader)
}

var _ CopyFunc = Decode

// Decode is a [CopyFunc] that copies encoded data from src decoded to dst.
func Decode(dst io.Writer, src io.Reader) (int64, error) {
	return io.Copy(dst, Decoder(src)) //nolint:wrapcheck
}

// Encoder returns a new streaming encoder that breaks its output into lines.
//
// The channel and the console are line oriented, so the encoded data must
// not end up in a single huge line. Close must be called to flush the last
// partial block and line.
func Encoder(writer io.Writer) io.WriteCloser {
	wrapper := &lineWrapper{writer: writer}

	return &encoder{
		WriteCloser: base64.NewEncoder(base64.StdEncoding, wrapper),
		wrapper:     wrapper,
	}
}

var _ CopyFunc = Encode

// Encode is a [CopyFunc] that copies plain data read from src encoded to dst.
func Encode(dst io.Writer, src io.Reader) (int64, error) {
	encoder := Encoder(dst)

	written, err := io.Copy(encoder, src)
	if closeErr := encoder.Close(); err == nil {
		err = closeErr
	}

	return written, err //nolint:wrapcheck
}

// EncodeString returns the single line encoding of the given data.
func EncodeString(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeString decodes a single line encoded with [EncodeString].
func DecodeString(line string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(line)
	if err != nil {
		return nil, &decodeError{err}
	}

	return data, nil
}

type encoder struct {
	io.WriteCloser
	wrapper *lineWrapper
}

func (e *encoder) Close() error {
	if err := e.WriteCloser.Close(); err != nil {
		return err //nolint:wrapcheck
	}

	return e.wrapper.finish()
}

// lineWrapper inserts a newline every [lineLength] bytes.
type lineWrapper struct {
	writer io.Writer
	column int
}

func (w *lineWrapper) Write(data []byte) (int, error) {
	written := 0

	for len(data) > 0 {
		chunk := min(lineLength-w.column, len(data))

		n, err := w.writer.Write(data[:chunk])
		written += n
		w.column += n

		if err != nil {
			return written, err //nolint:wrapcheck
		}

		data = data[chunk:]

		if w.column == lineLength {
			if _, err := w.writer.Write([]byte{'\n'}); err != nil {
				return written, err //nolint:wrapcheck
			}

			w.column = 0
		}
	}

	return written, nil
}

func (w *lineWrapper) finish() error {
	if w.column == 0 {
		return nil
	}

	w.column = 0

	_, err := w.writer.Write([]byte{'\n'})

	return err //nolint:wrapcheck
}

type decodeError struct {
	err error
}

func (e *decodeError) Error() string {
	return ErrDecode.Error() + ": " + e.err.Error()
}

func (*decodeError) Is(other error) bool {
	return other == ErrDecode //nolint:errorlint,err113
}

func (e *decodeError) Unwrap() error {
	return e.err
}
