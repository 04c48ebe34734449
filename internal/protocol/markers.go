// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package protocol

// Sentinel lines of the command channel and the one shot console output.
const (
	MarkerOutputStart = "===OUTPUT_START==="
	MarkerOutputEnd   = "===OUTPUT_END==="
	MarkerEnd         = "===END==="
	MarkerError       = "===ERROR==="

	MarkerPing         = "===PING==="
	MarkerPong         = "===PONG==="
	MarkerShutdown     = "===SHUTDOWN==="
	MarkerShuttingDown = "===SHUTTING_DOWN==="
	MarkerIdleShutdown = "===IDLE_SHUTDOWN==="

	MarkerInteractiveReady = "===INTERACTIVE_READY==="

	MarkerTarStart     = "===TAR_START==="
	MarkerTarEnd       = "===TAR_END==="
	MarkerStorageStart = "===STORAGE_START==="
	MarkerStorageEnd   = "===STORAGE_END==="
)

// Request mode prefixes. They precede the encoded payload on the request line.
const (
	PrefixInputNeeded = "===USE_INPUT==="
	PrefixInteractive = "===INTERACTIVE==="
)

// InputPlaceholder is replaced by the guest's shared input path in all
// arguments of input-needed commands.
const InputPlaceholder = "{INPUT}"

const (
	exitCodeFormat       = "===EXIT_CODE=%d==="
	interactiveEndFormat = "===INTERACTIVE_END=%d==="
)
