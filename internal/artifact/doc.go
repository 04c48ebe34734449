// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package artifact prepares the disk images attached to guests.
//
// Input disks carry the data of a single command, like an OCI layout to
// import. State disks persist the container runtime's storage across guests.
// All images are raw ext4 file systems built with e2fsprogs.
package artifact
