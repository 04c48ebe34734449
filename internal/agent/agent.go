// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aibor/vcontainer/internal/protocol"
)

// DefaultRetryInterval is the pause after the host closed the channel.
const DefaultRetryInterval = 100 * time.Millisecond

// Agent serves the command channel of daemon guests and runs the command of
// one shot guests.
type Agent struct {
	// Runner runs the commands.
	Runner Runner

	// Runtime is the container runtime CLI, like "docker". It is queried for
	// running containers after each command.
	Runtime string

	// ShareDir is the guest mount point of the shared directory. Empty if
	// the guest has no share.
	ShareDir string

	// InputDir is the input disk mount point of one shot guests.
	InputDir string

	// StorageDir is the runtime's storage directory exported by one shot
	// guests with storage output.
	StorageDir string

	// BeforeStorageExport is called before the storage directory is
	// exported, e.g. to stop the runtime daemon.
	BeforeStorageExport func(ctx context.Context) error

	// Registry is the default registry prefix. Pulls of images prefixed with
	// it are retried without the prefix if they fail.
	Registry string

	// IdleTimeout ends [Agent.Serve] if no request arrived in time. Zero
	// disables the timeout.
	IdleTimeout time.Duration

	// RetryInterval defaults to [DefaultRetryInterval].
	RetryInterval time.Duration
}

var errShutdownRequested = errors.New("shutdown requested")

// Serve reads and answers requests from the connection until the host
// requests the shutdown, the idle timeout expires or the context is
// canceled.
//
// It returns nil on requested shutdown and [protocol.ErrIdleTimeout] if the
// idle timeout expired. The end of the input is not an error, since the host
// closes its side after each request. Reading is retried after
// [Agent.RetryInterval].
func (a *Agent) Serve(ctx context.Context, conn protocol.Conn) error {
	sess := &session{
		agent:  a,
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: protocol.NewResponseWriter(conn),
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	err := sess.loop(ctx)
	if errors.Is(err, errShutdownRequested) {
		return nil
	}

	return err
}

type session struct {
	agent        *Agent
	conn         protocol.Conn
	reader       *bufio.Reader
	writer       *protocol.ResponseWriter
	lastActivity time.Time
}

func (s *session) loop(ctx context.Context) error {
	s.lastActivity = time.Now()

	var pending strings.Builder

	for {
		if s.idleExpired() && !s.keepAlive(ctx) {
			return s.idleShutdown()
		}

		if err := s.conn.SetReadDeadline(s.deadline()); err != nil {
			return fmt.Errorf("set deadline: %w", err)
		}

		line, err := s.reader.ReadString('\n')
		pending.WriteString(line)

		if ctx.Err() != nil {
			return ctx.Err() //nolint:wrapcheck
		}

		switch {
		case err == nil:
		case errors.Is(err, os.ErrDeadlineExceeded):
			if s.keepAlive(ctx) {
				continue
			}

			return s.idleShutdown()
		case errors.Is(err, io.EOF):
			// The host closed its side. Keep the partial line and wait for
			// the next connection.
			if err := s.pause(ctx); err != nil {
				return err
			}

			continue
		default:
			return fmt.Errorf("read request: %w", err)
		}

		request := strings.TrimSpace(pending.String())
		pending.Reset()

		if request == "" {
			continue
		}

		if err := s.handle(ctx, request); err != nil {
			if errors.Is(err, errShutdownRequested) {
				return err
			}

			log.Print("ERROR write response: ", err.Error())
		}

		s.lastActivity = time.Now()
	}
}

func (s *session) deadline() time.Time {
	if s.agent.IdleTimeout <= 0 {
		return time.Time{}
	}

	return s.lastActivity.Add(s.agent.IdleTimeout)
}

func (s *session) idleExpired() bool {
	return s.agent.IdleTimeout > 0 && time.Since(s.lastActivity) >= s.agent.IdleTimeout
}

// keepAlive restarts the idle period while containers run.
func (s *session) keepAlive(ctx context.Context) bool {
	if s.agent.Runtime == "" || !s.agent.ContainersRunning(ctx) {
		return false
	}

	s.lastActivity = time.Now()

	return true
}

func (s *session) idleShutdown() error {
	log.Printf("INFO no request for %s, shutting down", s.agent.IdleTimeout)

	if err := s.writer.WriteMarker(protocol.MarkerIdleShutdown); err != nil {
		log.Print("WARN announce idle shutdown: ", err.Error())
	}

	return protocol.ErrIdleTimeout
}

func (s *session) pause(ctx context.Context) error {
	interval := s.agent.RetryInterval
	if interval <= 0 {
		interval = DefaultRetryInterval
	}

	select {
	case <-ctx.Done():
		return ctx.Err() //nolint:wrapcheck
	case <-time.After(interval):
		return nil
	}
}

func (s *session) handle(ctx context.Context, line string) error {
	request, err := protocol.ParseRequest(line)
	if err != nil {
		log.Print("WARN invalid request: ", err.Error())
		return s.writer.WriteError(err)
	}

	switch request.Kind {
	case protocol.RequestPing:
		return s.writer.WriteMarker(protocol.MarkerPong)
	case protocol.RequestShutdown:
		log.Print("INFO shutdown requested")

		if err := s.writer.WriteMarker(protocol.MarkerShuttingDown); err != nil {
			log.Print("WARN acknowledge shutdown: ", err.Error())
		}

		return errShutdownRequested
	default:
		defer s.agent.updateContainersMarker(ctx)
		return s.command(ctx, request.Command)
	}
}

func (s *session) command(ctx context.Context, cmd protocol.Command) error {
	log.Print("INFO run: ", cmd.String())

	switch {
	case cmd.Interactive:
		return s.interactive(ctx, cmd.Args)
	case cmd.NeedsInput:
		return s.withInput(ctx, cmd.Args)
	default:
		return s.plain(ctx, cmd.Args)
	}
}

func (s *session) plain(ctx context.Context, args []string) error {
	output, code, err := s.agent.run(ctx, args)
	if err != nil {
		return s.writer.WriteError(err)
	}

	return s.writer.WriteResult(output, code)
}

func (s *session) withInput(ctx context.Context, args []string) error {
	inputDir := filepath.Join(s.agent.ShareDir, protocol.ShareInputDir)

	entries, err := os.ReadDir(inputDir)
	if err != nil || len(entries) == 0 {
		return s.writer.WriteError(fmt.Errorf("%w: %s", ErrNoInput, inputDir))
	}

	defer func() {
		if err := clearDir(inputDir); err != nil {
			log.Print("WARN clear input: ", err.Error())
		}
	}()

	return s.plain(ctx, protocol.SubstituteInput(args, inputDir))
}

func (s *session) interactive(ctx context.Context, args []string) error {
	term, err := s.agent.Runner.StartTerminal(ctx, args)
	if err != nil {
		return s.writer.WriteError(err)
	}
	defer term.Close()

	if err := s.writer.WriteMarker(protocol.MarkerInteractiveReady); err != nil {
		return err
	}

	code, err := s.bridge(term)
	if err != nil {
		log.Print("WARN interactive session: ", err.Error())
	}

	return s.writer.WriteMarker("\r\n" + protocol.FormatInteractiveEnd(code))
}

// bridge copies between channel and terminal until the command exited and
// all of its output is written.
func (s *session) bridge(term Terminal) (int, error) {
	var group errgroup.Group

	group.Go(func() error {
		_, err := io.Copy(s.writer.Writer(), term)
		if errors.Is(err, syscall.EIO) {
			// The terminal is gone once the command exited.
			return nil
		}

		return err //nolint:wrapcheck
	})

	group.Go(func() error {
		_, err := io.Copy(term, s.reader)
		if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, syscall.EIO) {
			return nil
		}

		return err //nolint:wrapcheck
	})

	code, waitErr := term.Wait()

	// Interrupt the input copy that is blocked reading the channel.
	_ = s.conn.SetReadDeadline(time.Now())

	return code, errors.Join(waitErr, group.Wait())
}

// run runs the command with combined output. Failed pulls from the default
// registry are retried from the image's own registry.
func (a *Agent) run(ctx context.Context, args []string) ([]byte, int, error) {
	var output bytes.Buffer

	code, err := a.Runner.Run(ctx, args, &output, &output)
	if err != nil || code == 0 {
		return output.Bytes(), code, err
	}

	fallback, ok := a.pullFallback(args)
	if !ok {
		return output.Bytes(), code, nil
	}

	log.Printf("INFO pull of %s failed, trying %s", args[len(args)-1], fallback[len(fallback)-1])

	var retryOutput bytes.Buffer

	retryCode, err := a.Runner.Run(ctx, fallback, &retryOutput, &retryOutput)
	if err != nil || retryCode != 0 {
		// Report the original failure.
		return output.Bytes(), code, nil
	}

	log.Printf("INFO pulled %s", fallback[len(fallback)-1])

	return retryOutput.Bytes(), retryCode, nil
}

// clearDir removes all entries of the directory but not the directory
// itself, as it may be a mount point.
func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir: %w", err)
	}

	var errs []error

	for _, entry := range entries {
		errs = append(errs, os.RemoveAll(filepath.Join(dir, entry.Name())))
	}

	return errors.Join(errs...)
}
