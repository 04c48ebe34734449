// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package xen

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/aibor/vcontainer/internal/hypervisor"
)

// listKeys are rendered as lists collecting all options with the key.
var listKeys = []string{"channel", "disk", "p9", "vif"}

// DomainConfig is an xl domain configuration.
type DomainConfig struct {
	Name    string
	Type    string
	Kernel  string
	Ramdisk string
	Extra   []string
	Memory  uint64
	VCPUs   uint64

	// Options are "key=value" lines as built by the [Backend] option
	// builders.
	Options hypervisor.Options
}

type setting struct {
	key    string
	value  string
	values []string
	raw    bool
}

// Render returns the configuration file content.
func (c DomainConfig) Render() ([]byte, error) {
	settings := []*setting{
		{key: "name", value: c.Name},
		{key: "type", value: c.Type},
		{key: "kernel", value: c.Kernel},
		{key: "ramdisk", value: c.Ramdisk},
		{key: "extra", value: strings.Join(c.Extra, " ")},
		{key: "memory", value: strconv.FormatUint(c.Memory, 10), raw: true},
		{key: "vcpus", value: strconv.FormatUint(c.VCPUs, 10), raw: true},
		{key: "on_poweroff", value: "destroy"},
		{key: "on_reboot", value: "destroy"},
		{key: "on_crash", value: "destroy"},
	}

	find := func(key string) *setting {
		idx := slices.IndexFunc(settings, func(s *setting) bool { return s.key == key })
		if idx < 0 {
			return nil
		}

		return settings[idx]
	}

	for _, opt := range c.Options {
		key, value, found := strings.Cut(opt, "=")
		key = strings.TrimSpace(key)

		if !found || key == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidOption, opt)
		}

		existing := find(key)

		if !slices.Contains(listKeys, key) {
			if existing != nil {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, key)
			}

			settings = append(settings, &setting{key: key, value: value})

			continue
		}

		if existing == nil {
			existing = &setting{key: key}
			settings = append(settings, existing)
		}

		existing.values = append(existing.values, value)
	}

	var buf bytes.Buffer

	for _, s := range settings {
		switch {
		case s.values != nil:
			quoted := make([]string, 0, len(s.values))
			for _, v := range s.values {
				quoted = append(quoted, strconv.Quote(v))
			}

			fmt.Fprintf(&buf, "%s = [ %s ]\n", s.key, strings.Join(quoted, ", "))
		case s.raw:
			fmt.Fprintf(&buf, "%s = %s\n", s.key, s.value)
		default:
			fmt.Fprintf(&buf, "%s = %s\n", s.key, strconv.Quote(s.value))
		}
	}

	return buf.Bytes(), nil
}

// option returns a "key=value" option line whose value is the comma
// separated list of the given values.
func option(key string, values ...string) string {
	return key + "=" + strings.Join(values, ", ")
}
