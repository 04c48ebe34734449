// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package config resolves the layered configuration of a single invocation.
//
// Values are taken from the first layer that has them: explicitly given
// flags, the name the binary is invoked as (like "vdkr-aarch64"),
// environment variables prefixed with the tool name (like "VDKR_ARCH"), the
// configuration file (like "~/.vdkr/config.yaml") and computed defaults.
package config
