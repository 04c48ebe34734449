// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package hypervisor defines the contract between the orchestrator and the
// hypervisor specific backends.
//
// Backends differ in how the command channel is exposed and in whether the
// guest has a host process. [Backend] hides both, so the orchestrator and the
// protocol are written once.
package hypervisor
