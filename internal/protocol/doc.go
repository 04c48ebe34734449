// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package protocol implements the line oriented command channel protocol
// between host and guest.
//
// A request is a single line. It is either a bare sentinel, like
// [MarkerPing], or the base64 encoded JSON argument vector of a command,
// optionally preceded by a mode prefix. Responses are framed by sentinel
// lines:
//
//	===OUTPUT_START===
//	<combined output of the command>
//	===OUTPUT_END===
//	===EXIT_CODE=<n>===
//	===END===
//
// One shot guests print their result on the console instead, using the same
// markers for text output and base64 encoded blocks for tar and storage
// output.
package protocol
