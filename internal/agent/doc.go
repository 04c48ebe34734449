// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package agent is the guest side of the command channel.
//
// The [Agent] reads requests from the channel, runs the commands with the
// guest's container runtime and writes the framed responses. One shot guests
// run a single command from the boot parameters and write the result to the
// console instead.
package agent
