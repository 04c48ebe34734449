// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/aibor/vcontainer/internal/artifact"
	"github.com/aibor/vcontainer/internal/protocol"
)

// RunOneShot runs the boot command and writes its result framed for the
// output type to the console.
//
// Text output is written as output block with exit code. For tar output the
// standard output of the command is the archive. For storage output the
// runtime's storage directory is archived after the command succeeded.
// Failures are reported as error block, so the host stops waiting early. The
// returned error is only about writing to the console.
func (a *Agent) RunOneShot(
	ctx context.Context,
	params protocol.BootParams,
	console io.Writer,
) error {
	writer := protocol.NewResponseWriter(console)

	args, err := protocol.DecodePayload(params.Command)
	if err != nil {
		return writer.WriteError(err)
	}

	if params.Input != protocol.InputNone && params.Input != "" {
		args = protocol.SubstituteInput(args, a.InputDir)
	}

	log.Print("INFO run: ", protocol.Command{Args: args}.String())

	switch params.Output {
	case protocol.OutputTar:
		err = a.tarOutput(ctx, writer, args)
	case protocol.OutputStorage:
		err = a.storageOutput(ctx, writer, args)
	default:
		output, code, runErr := a.run(ctx, args)
		if runErr != nil {
			return writer.WriteError(runErr)
		}

		return writer.WriteResult(output, code)
	}

	if err != nil {
		log.Print("ERROR ", err.Error())
		return writer.WriteError(err)
	}

	return nil
}

// RunInteractive runs the boot command of interactive one shot guests on the
// console and ends with the interactive end marker.
func (a *Agent) RunInteractive(
	ctx context.Context,
	params protocol.BootParams,
	stdin io.Reader,
	console io.Writer,
) error {
	args, err := protocol.DecodePayload(params.Command)
	if err != nil {
		return protocol.NewResponseWriter(console).WriteError(err)
	}

	term, err := a.Runner.StartTerminal(ctx, args)
	if err != nil {
		return protocol.NewResponseWriter(console).WriteError(err)
	}
	defer term.Close()

	// The guest powers off once the command is done, so the input copy
	// blocked reading the console is not waited for.
	go func() {
		_, _ = io.Copy(term, stdin)
	}()

	if _, err := io.Copy(console, term); err != nil && !errors.Is(err, syscall.EIO) {
		log.Print("WARN interactive output: ", err.Error())
	}

	code, err := term.Wait()
	if err != nil {
		log.Print("ERROR ", err.Error())
	}

	_, err = fmt.Fprintf(console, "\r\n%s\n", protocol.FormatInteractiveEnd(code))

	return err //nolint:wrapcheck
}

func (a *Agent) tarOutput(
	ctx context.Context,
	writer *protocol.ResponseWriter,
	args []string,
) error {
	archive, err := os.CreateTemp("", "vcontainer-output-*.tar")
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}

	defer func() {
		_ = archive.Close()
		_ = os.Remove(archive.Name())
	}()

	var stderr bytes.Buffer

	code, err := a.Runner.Run(ctx, args, archive, &stderr)
	if err != nil {
		return err
	}

	if code != 0 {
		return &CommandError{ExitCode: code, Output: stderr.Bytes()}
	}

	if _, err := archive.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind output file: %w", err)
	}

	return writer.WriteArtifact(protocol.MarkerTarStart, protocol.MarkerTarEnd, archive)
}

func (a *Agent) storageOutput(
	ctx context.Context,
	writer *protocol.ResponseWriter,
	args []string,
) error {
	output, code, err := a.run(ctx, args)
	if err != nil {
		return err
	}

	if code != 0 {
		return &CommandError{ExitCode: code, Output: output}
	}

	if a.BeforeStorageExport != nil {
		if err := a.BeforeStorageExport(ctx); err != nil {
			return fmt.Errorf("prepare storage export: %w", err)
		}
	}

	reader, pipeWriter := io.Pipe()

	var group errgroup.Group

	group.Go(func() error {
		err := artifact.WriteTar(pipeWriter, a.StorageDir)
		_ = pipeWriter.CloseWithError(err)

		return err
	})

	writeErr := writer.WriteArtifact(protocol.MarkerStorageStart, protocol.MarkerStorageEnd, reader)
	_ = reader.CloseWithError(writeErr)

	if err := group.Wait(); err != nil {
		return fmt.Errorf("archive storage: %w", err)
	}

	return writeErr
}
