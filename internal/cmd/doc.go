// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package cmd provides the CLI entry point of vcontainer. It handles flag
// parsing, configuration loading, error handling and output handling, and
// passes runtime commands to a daemon or one shot guest.
package cmd
