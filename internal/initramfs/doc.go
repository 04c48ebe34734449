// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package initramfs builds the agent overlay for the guest initramfs.
//
// The overlay is a newc cpio archive with the guest agent as "/init". It is
// appended to the pre-built base initramfs. The kernel unpacks concatenated
// archives in order, so the agent replaces the base image's init.
package initramfs
