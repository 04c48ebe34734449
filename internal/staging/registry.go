// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package staging

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/aibor/vcontainer/internal/hypervisor"
	"github.com/aibor/vcontainer/internal/sys"
)

// RegistryFileName is the port registry's file name in the state directory.
const RegistryFileName = "port-forwards.txt"

// RegistryEntry is a dynamic port forward of a container.
type RegistryEntry struct {
	Forward hypervisor.PortForward

	// Container is the container name or ID the forward was added for.
	Container string
}

// String returns the registry line: "host guest proto container".
func (e RegistryEntry) String() string {
	return fmt.Sprintf("%d %d %s %s",
		e.Forward.HostPort, e.Forward.GuestPort, e.Forward.Proto(), e.Container)
}

func parseRegistryLine(line string) (RegistryEntry, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 {
		return RegistryEntry{}, fmt.Errorf("%w: %q", ErrMalformedRegistry, line)
	}

	host, err := strconv.ParseUint(fields[0], 10, 16)
	if err != nil {
		return RegistryEntry{}, fmt.Errorf("%w: host port %q", ErrMalformedRegistry, fields[0])
	}

	guest, err := strconv.ParseUint(fields[1], 10, 16)
	if err != nil {
		return RegistryEntry{}, fmt.Errorf("%w: guest port %q", ErrMalformedRegistry, fields[1])
	}

	return RegistryEntry{
		Forward: hypervisor.PortForward{
			HostPort:  uint16(host),
			GuestPort: uint16(guest),
			Protocol:  fields[2],
		},
		Container: fields[3],
	}, nil
}

// Registry is the file recording the dynamic port forwards of a daemon.
type Registry struct {
	Path string
}

// Load returns all entries. A missing file has no entries.
func (r Registry) Load() ([]RegistryEntry, error) {
	data, err := os.ReadFile(r.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("read port registry: %w", err)
	}

	var entries []RegistryEntry

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		entry, err := parseRegistryLine(line)
		if err != nil {
			return nil, err
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

func (r Registry) store(entries []RegistryEntry) error {
	var buf bytes.Buffer

	for _, entry := range entries {
		buf.WriteString(entry.String())
		buf.WriteByte('\n')
	}

	if err := sys.WriteFileAtomic(r.Path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write port registry: %w", err)
	}

	return nil
}

// Add records the entries. Existing entries for the same host port and
// protocol are replaced.
func (r Registry) Add(added ...RegistryEntry) error {
	entries, err := r.Load()
	if err != nil {
		return err
	}

	for _, entry := range added {
		entries = slices.DeleteFunc(entries, func(e RegistryEntry) bool {
			return e.Forward.HostPort == entry.Forward.HostPort &&
				e.Forward.Proto() == entry.Forward.Proto()
		})
		entries = append(entries, entry)
	}

	return r.store(entries)
}

// RemoveContainer removes and returns all entries of the container.
func (r Registry) RemoveContainer(container string) ([]RegistryEntry, error) {
	entries, err := r.Load()
	if err != nil {
		return nil, err
	}

	var removed []RegistryEntry

	entries = slices.DeleteFunc(entries, func(e RegistryEntry) bool {
		if e.Container != container {
			return false
		}

		removed = append(removed, e)

		return true
	})

	if len(removed) == 0 {
		return nil, nil
	}

	return removed, r.store(entries)
}

// Clear removes the registry file.
func (r Registry) Clear() error {
	return sys.RemoveIfExists(r.Path) //nolint:wrapcheck
}
