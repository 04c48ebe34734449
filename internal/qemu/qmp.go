// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package qemu

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"
)

const qmpTimeout = 5 * time.Second

type qmpRequest struct {
	Execute   string `json:"execute"`
	Arguments any    `json:"arguments,omitempty"`
}

type qmpMessage struct {
	Greeting *json.RawMessage `json:"QMP,omitempty"`
	Return   *json.RawMessage `json:"return,omitempty"`
	Error    *QMPError        `json:"error,omitempty"`
	Event    string           `json:"event,omitempty"`
}

// qmpClient is a minimal client for the QEMU machine protocol.
type qmpClient struct {
	conn    net.Conn
	decoder *json.Decoder
	encoder *json.Encoder
}

// dialQMP connects to the QMP socket and negotiates the capabilities.
func dialQMP(ctx context.Context, path string) (*qmpClient, error) {
	var dialer net.Dialer

	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial qmp: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(qmpTimeout)
	}

	_ = conn.SetDeadline(deadline)

	client := &qmpClient{
		conn:    conn,
		decoder: json.NewDecoder(conn),
		encoder: json.NewEncoder(conn),
	}

	var greeting qmpMessage
	if err := client.decoder.Decode(&greeting); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read qmp greeting: %w", err)
	}

	if greeting.Greeting == nil {
		_ = conn.Close()
		return nil, &QMPError{Class: "Protocol", Description: "no greeting"}
	}

	if _, err := client.execute("qmp_capabilities", nil); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return client, nil
}

func (c *qmpClient) close() error {
	return c.conn.Close() //nolint:wrapcheck
}

// execute runs the command and returns its raw return value. Asynchronous
// events received meanwhile are skipped.
func (c *qmpClient) execute(command string, arguments any) (json.RawMessage, error) {
	if err := c.encoder.Encode(qmpRequest{command, arguments}); err != nil {
		return nil, fmt.Errorf("send qmp %s: %w", command, err)
	}

	for {
		var msg qmpMessage
		if err := c.decoder.Decode(&msg); err != nil {
			return nil, fmt.Errorf("read qmp %s: %w", command, err)
		}

		switch {
		case msg.Error != nil:
			return nil, msg.Error
		case msg.Return != nil:
			return *msg.Return, nil
		case msg.Event != "":
			slog.Debug("QMP event", slog.String("event", msg.Event))
		}
	}
}

// humanMonitorCommand runs a human monitor command. Human monitor commands
// report failures as output, so any output is returned as error.
func (c *qmpClient) humanMonitorCommand(cmdline string) error {
	ret, err := c.execute("human-monitor-command", map[string]string{
		"command-line": cmdline,
	})
	if err != nil {
		return err
	}

	var output string
	if err := json.Unmarshal(ret, &output); err != nil {
		return fmt.Errorf("decode hmp output: %w", err)
	}

	if output = strings.TrimSpace(output); output != "" {
		return &QMPError{Class: "HumanMonitor", Description: output}
	}

	return nil
}

// withQMP connects to the socket, calls fn and closes the connection.
func withQMP(ctx context.Context, path string, fn func(*qmpClient) error) error {
	client, err := dialQMP(ctx, path)
	if err != nil {
		return err
	}
	defer client.close()

	return fn(client)
}
