// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package xen implements the Xen [hypervisor.Backend] on top of the xl
// toolstack.
//
// Guests are identified by their domain name. The command channel is a PV
// console channel, exposed as PTY on the host. Port forwards are DNAT rules
// to the guest address, which is discovered via the host's ARP table.
package xen
