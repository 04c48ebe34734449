// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aibor/vcontainer/internal/protocol"
	"github.com/aibor/vcontainer/internal/sys"
)

// Configuration keys. They double as flag names and, upper cased with "_"
// instead of "-", as environment variable names after the runtime prefix.
const (
	KeyArch             = "arch"
	KeyRuntime          = "runtime"
	KeyHypervisor       = "hypervisor"
	KeyStateDir         = "state-dir"
	KeyInstance         = "instance"
	KeyBlobDir          = "blob-dir"
	KeyAgent            = "agent"
	KeyTimeout          = "timeout"
	KeyIdleTimeout      = "idle-timeout"
	KeyAutoDaemon       = "auto-daemon"
	KeyNoDaemon         = "no-daemon"
	KeyNetwork          = "network"
	KeyRegistry         = "registry"
	KeyInsecureRegistry = "insecure-registry"
	KeySecureRegistry   = "secure-registry"
	KeyMemory           = "memory"
	KeySMP              = "smp"
	KeyNoKVM            = "no-kvm"
	KeyChannel          = "channel"
	KeyKeepLogs         = "keep-logs"
	KeyConfig           = "config"
	KeyVerbose          = "verbose"
	KeyDebug            = "debug"
)

// Defaults.
const (
	DefaultTimeout     = 300 * time.Second
	DefaultIdleTimeout = 30 * time.Minute
	DefaultMemory      = 2048
	DefaultSMP         = 2
)

var (
	memoryLimits = LimitedUintValue{Lower: 256, Upper: 65536}
	smpLimits    = LimitedUintValue{Lower: 1, Upper: 64}
)

// persistedKeys are the keys that can be stored in the configuration file.
var persistedKeys = []string{
	KeyArch,
	KeyHypervisor,
	KeyBlobDir,
	KeyAgent,
	KeyTimeout,
	KeyIdleTimeout,
	KeyAutoDaemon,
	KeyNetwork,
	KeyRegistry,
	KeyInsecureRegistry,
	KeyMemory,
	KeySMP,
	KeyChannel,
}

// PersistedKeys returns the keys that can be stored in the configuration
// file in display order.
func PersistedKeys() []string {
	return slices.Clone(persistedKeys)
}

// IsPersistedKey returns true if the key can be stored in the configuration
// file.
func IsPersistedKey(key string) bool {
	return slices.Contains(persistedKeys, key)
}

// ValidateValue checks that the value is valid for the given key.
func ValidateValue(key, value string) error {
	if !IsPersistedKey(key) {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	var err error

	switch key {
	case KeyArch:
		_, err = sys.ParseArch(value)
	case KeyHypervisor:
		var hv Hypervisor
		err = hv.Set(value)
	case KeyTimeout, KeyIdleTimeout:
		_, err = ParseDuration(value)
	case KeyAutoDaemon, KeyNetwork:
		_, err = strconv.ParseBool(value)
	case KeyMemory:
		_, err = memoryLimits.parse(value)
	case KeySMP:
		_, err = smpLimits.parse(value)
	case KeyChannel:
		_, err = parseChannel(value)
	}

	if err != nil {
		return &ValueError{Key: key, Value: value, Err: err}
	}

	return nil
}

// ParseDuration parses a duration. Plain integers are seconds, as used by
// the kernel command line. Everything else must be a Go duration string.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)

	if seconds, err := strconv.ParseUint(s, 10, 32); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	duration, err := time.ParseDuration(s)
	if err != nil || duration < 0 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidDuration, s)
	}

	return duration, nil
}

func parseChannel(s string) (protocol.ChannelKind, error) {
	switch kind := protocol.ChannelKind(s); kind {
	case "", protocol.ChannelVirtio, protocol.ChannelHVC, protocol.ChannelVsock:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: %s", protocol.ErrUnknownChannel, s)
	}
}
