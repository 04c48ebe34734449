// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package sysinit provides the building blocks of the vcontainer guest init.
//
// It mounts the system file systems, switches into the container runtime root
// file system, brings up the network, reads the boot parameters from the
// kernel command line and powers off the guest when the init is done.
package sysinit
