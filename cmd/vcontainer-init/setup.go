// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aibor/vcontainer/internal/agent"
	"github.com/aibor/vcontainer/internal/protocol"
	"github.com/aibor/vcontainer/sysinit"
)

const (
	netInterface = "eth0"
	resolvConf   = "/etc/resolv.conf"
)

// setupRoot switches into the rootfs and sets up the system inside of it.
func setupRoot(state *sysinit.State, device string) error {
	if err := sysinit.WaitForDevice(device, deviceTimeout); err != nil {
		return err
	}

	if err := sysinit.SwitchRoot(device); err != nil {
		return err
	}

	for _, fn := range []sysinit.Func{
		sysinit.WithMountPoints(sysinit.SystemMountPoints()),
		sysinit.WithSymlinks(sysinit.DevSymlinks()),
		sysinit.WithEnv(sysinit.DefaultEnv()),
		sysinit.WithInterfaceUp("lo"),
	} {
		if err := fn(state); err != nil {
			return err
		}
	}

	return nil
}

// setupDisks mounts the input disk read-only and the state disk at the
// runtime's storage directory.
func setupDisks(state *sysinit.State, disks agent.Disks, runtime string) error {
	mounts := []struct {
		device, path string
		readOnly     bool
	}{
		{disks.Input, protocol.InputMountPoint, true},
		{disks.State, agent.StorageDir(runtime), false},
	}

	for _, m := range mounts {
		if m.device == "" {
			continue
		}

		if err := sysinit.WaitForDevice(m.device, deviceTimeout); err != nil {
			return err
		}

		if err := sysinit.WithMount(m.path, sysinit.DiskMount(m.device, m.readOnly))(state); err != nil {
			return fmt.Errorf("mount %s: %w", m.device, err)
		}
	}

	return nil
}

// setupNetwork configures the QEMU user network statically. Xen guests are
// bridged and get their address by DHCP.
func setupNetwork(ctx context.Context, diskPrefix string) error {
	if diskPrefix == agent.XenDiskPrefix {
		code, err := agent.ExecRunner{}.Run(ctx,
			[]string{"udhcpc", "-i", netInterface, "-q", "-n"}, io.Discard, os.Stderr)
		if err != nil {
			return err
		}

		if code != 0 {
			return fmt.Errorf("udhcpc exited with code %d", code)
		}

		return nil
	}

	network := sysinit.UserNetwork(netInterface)
	if err := network.Configure(); err != nil {
		return err
	}

	return sysinit.WriteResolvConf(resolvConf, network.Nameserver)
}

func writeRegistryConfig(runtime string, insecure []string) error {
	if len(insecure) == 0 {
		return nil
	}

	path, content, err := agent.RegistryConfig(runtime, insecure)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("write registry config: %w", err)
	}

	return nil
}
