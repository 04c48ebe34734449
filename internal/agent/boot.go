// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/aibor/vcontainer/internal/protocol"
)

// Disk device name prefixes of the hypervisors.
const (
	VirtioDiskPrefix = "vd"
	XenDiskPrefix    = "xvd"
)

// Disks are the guest device paths of the attached disks.
type Disks struct {
	Rootfs string
	Input  string
	State  string
}

// DiskPrefix returns the disk name prefix used in the device directory.
func DiskPrefix(devDir string) string {
	if _, err := os.Stat(filepath.Join(devDir, XenDiskPrefix+"a")); err == nil {
		return XenDiskPrefix
	}

	return VirtioDiskPrefix
}

// DiskDevices returns the device paths of the disks in the order the host
// attaches them: the rootfs first, then the input disk if any, then the
// state disk if any.
func DiskDevices(devDir, prefix string, params protocol.BootParams) Disks {
	slot := 'a'
	next := func() string {
		device := filepath.Join(devDir, prefix+string(slot))
		slot++

		return device
	}

	disks := Disks{Rootfs: next()}

	if params.Input != protocol.InputNone && params.Input != "" {
		disks.Input = next()
	}

	if params.State == protocol.StateDisk {
		disks.State = next()
	}

	return disks
}

// StorageDir returns the storage directory of the runtime. The state disk is
// mounted there.
func StorageDir(runtime string) string {
	if runtime == "podman" {
		return "/var/lib/containers/storage"
	}

	return "/var/lib/" + runtime
}

// ShareTransport returns the 9p transport for the channel kind, as the
// channel kind tells the hypervisor.
func ShareTransport(channel protocol.ChannelKind) string {
	if channel == protocol.ChannelHVC {
		return "xen"
	}

	return "virtio"
}

type registryEntry struct {
	Location string `toml:"location"`
	Insecure bool   `toml:"insecure"`
}

// registriesConf is a containers-registries.conf(5) drop-in.
type registriesConf struct {
	Registry []registryEntry `toml:"registry"`
}

// RegistryConfig returns the path and content of the runtime configuration
// file that marks the given registries as insecure.
func RegistryConfig(runtime string, insecure []string) (string, []byte, error) {
	if runtime == "podman" {
		var conf registriesConf

		for _, registry := range insecure {
			conf.Registry = append(conf.Registry, registryEntry{
				Location: registry,
				Insecure: true,
			})
		}

		data, err := toml.Marshal(conf)
		if err != nil {
			return "", nil, fmt.Errorf("marshal registries config: %w", err)
		}

		return "/etc/containers/registries.conf.d/50-vcontainer.conf", data, nil
	}

	data, err := json.MarshalIndent(map[string][]string{
		"insecure-registries": insecure,
	}, "", "  ")
	if err != nil {
		return "", nil, fmt.Errorf("marshal daemon config: %w", err)
	}

	return "/etc/docker/daemon.json", append(data, '\n'), nil
}
