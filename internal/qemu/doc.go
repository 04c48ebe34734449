// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package qemu implements the QEMU [hypervisor.Backend]. It expects the
// required qemu-system binary to be present on the system.
//
// The guest console is connected to QEMU's stdio, which is the log file for
// background guests. The daemon command channel is a virtio-serial port
// bridged to a Unix socket, or a vhost-vsock device. Background guests get a
// QMP control socket used for graceful power down and port forward changes.
package qemu
