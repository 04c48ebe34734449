// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package orchestrator runs guests for container runtime commands.
//
// One shot sessions boot a guest per command and collect its result from the
// console. The daemon keeps one guest per state directory running and sends
// commands over the command channel, until it is stopped explicitly or the
// idle watchdog stops it.
package orchestrator
