// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package protocol

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// DefaultResponseTimeout is the time a response must arrive within if the
// context has no earlier deadline.
const DefaultResponseTimeout = 60 * time.Second

// Client is the host side of the command channel.
//
// A Client is not safe for concurrent use. Concurrent callers must serialize
// access, for example with a file lock.
type Client struct {
	conn   Conn
	reader *bufio.Reader

	// ResponseTimeout is used for each request unless the context has a
	// deadline.
	ResponseTimeout time.Duration
}

// NewClient creates a new [Client] using the given connection.
func NewClient(conn Conn) *Client {
	return &Client{
		conn:            conn,
		reader:          bufio.NewReader(conn),
		ResponseTimeout: DefaultResponseTimeout,
	}
}

// Dial connects to the given endpoint.
func Dial(ctx context.Context, endpoint Endpoint) (*Client, error) {
	conn, err := DialConn(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	return NewClient(conn), nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close() //nolint:wrapcheck
}

// Ping sends a ping and waits for the pong. Lines read before the pong are
// discarded, which also drains any stale output from earlier sessions.
func (c *Client) Ping(ctx context.Context) error {
	return c.exchange(ctx, MarkerPing, func(line string) (bool, error) {
		return strings.TrimSpace(line) == MarkerPong, nil
	})
}

// Shutdown asks the guest to shut down and waits for the acknowledgement.
//
// A closed channel is accepted as acknowledgement, as the guest may power off
// before the line is read.
func (c *Client) Shutdown(ctx context.Context) error {
	err := c.exchange(ctx, MarkerShutdown, func(line string) (bool, error) {
		return strings.TrimSpace(line) == MarkerShuttingDown, nil
	})
	if errors.Is(err, ErrMalformedResponse) {
		return nil
	}

	return err
}

// Send sends the given command and returns the response.
//
// A non-zero exit code is not an error. Use [Response.Err] if needed.
func (c *Client) Send(ctx context.Context, cmd Command) (*Response, error) {
	line, err := cmd.RequestLine()
	if err != nil {
		return nil, err
	}

	stop := c.watch(ctx)
	defer stop()

	if err := c.writeLine(line); err != nil {
		return nil, err
	}

	slog.Debug("Command sent", slog.String("command", cmd.String()))

	response, err := ReadResponse(c.reader)
	if err != nil {
		return nil, c.contextError(ctx, err)
	}

	slog.Debug("Response received",
		slog.String("command", cmd.String()),
		slog.Int("exit_code", response.ExitCode),
	)

	return response, nil
}

// Interactive runs the given command on a guest pseudo-terminal.
//
// Data read from stdin is forwarded to the guest and guest output is written
// to stdout until the guest reports the end of the session. It returns the
// exit code of the command. The caller is responsible for putting the local
// terminal into raw mode.
func (c *Client) Interactive(
	ctx context.Context,
	cmd Command,
	stdin io.Reader,
	stdout io.Writer,
) (int, error) {
	cmd.Interactive = true
	cmd.NeedsInput = false

	line, err := cmd.RequestLine()
	if err != nil {
		return 0, err
	}

	err = c.exchange(ctx, line, func(line string) (bool, error) {
		switch strings.TrimSpace(line) {
		case MarkerInteractiveReady:
			return true, nil
		case MarkerError:
			return false, &GuestError{Message: "interactive session failed"}
		default:
			return false, nil
		}
	})
	if err != nil {
		return 0, err
	}

	// The session has no response timeout, only cancellation.
	stop := c.watchCancel(ctx)
	defer stop()

	if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
		return 0, fmt.Errorf("clear deadline: %w", err)
	}

	// Reading stdin blocks until input arrives, so the copy can not be
	// joined. It ends with the next failing write once the session is done.
	go func() {
		if _, err := io.Copy(c.conn, stdin); err != nil {
			slog.Debug("Interactive input copy ended", slog.Any("error", err))
		}
	}()

	detector := NewEndDetector(stdout)

	if _, err := io.Copy(detector, c.reader); err != nil && !errors.Is(err, ErrSessionEnded) {
		return 0, c.contextError(ctx, fmt.Errorf("interactive output: %w", err))
	}

	if !detector.Done() {
		return 0, fmt.Errorf("%w: session ended without exit code", ErrMalformedResponse)
	}

	return detector.Code(), nil
}

// exchange writes the request line and reads lines until match returns true.
func (c *Client) exchange(
	ctx context.Context,
	request string,
	match func(line string) (bool, error),
) error {
	stop := c.watch(ctx)
	defer stop()

	if err := c.writeLine(request); err != nil {
		return err
	}

	for {
		line, err := ReadLine(c.reader)
		if err != nil {
			return c.contextError(ctx, err)
		}

		done, err := match(line)
		if err != nil {
			return err
		}

		if done {
			return nil
		}
	}
}

func (c *Client) writeLine(line string) error {
	if _, err := io.WriteString(c.conn, line+"\n"); err != nil {
		return fmt.Errorf("write request: %w", err)
	}

	return nil
}

// watch sets the read deadline from the context or the response timeout and
// interrupts blocking reads once the context is canceled.
func (c *Client) watch(ctx context.Context) func() {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.ResponseTimeout)
	}

	_ = c.conn.SetReadDeadline(deadline)

	return c.watchCancel(ctx)
}

func (c *Client) watchCancel(ctx context.Context) func() {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})

	return func() { stop() }
}

func (*Client) contextError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr //nolint:wrapcheck
	}

	return err
}
