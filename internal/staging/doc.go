// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package staging translates host resources referenced in container runtime
// arguments into their guest view.
//
// Bind mounted volumes are copied into the directory shared with the guest
// and the mount specs are rewritten to the guest path. Published ports are
// extracted, so the host can forward them to the guest, and recorded in a
// registry file of the daemon state directory.
package staging
