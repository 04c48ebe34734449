// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Guest init of vcontainer VMs. It is appended to the base initramfs as
// "/init", sets up the guest system and the container runtime and then runs
// the boot command or serves the command channel.
package main

//go:generate -command myenv env CGO_ENABLED=0 GOOS=linux
//go:generate myenv GOARCH=amd64 go build -buildvcs=false -trimpath -ldflags "-s -w" -o ../../bin/vcontainer-init-amd64 .
//go:generate myenv GOARCH=arm64 go build -buildvcs=false -trimpath -ldflags "-s -w" -o ../../bin/vcontainer-init-arm64 .

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/aibor/vcontainer/internal/agent"
	"github.com/aibor/vcontainer/internal/protocol"
	"github.com/aibor/vcontainer/sysinit"
)

const (
	devDir          = "/dev"
	deviceTimeout   = 10 * time.Second
	daemonStopGrace = 30 * time.Second
)

func main() {
	log.SetFlags(log.Lmicroseconds)
	log.SetPrefix("VCONTAINER INIT: ")

	sysinit.Run(guestMain)
}

func guestMain(state *sysinit.State) error {
	ctx := context.Background()

	params, runtime, err := sysinit.ReadBootParams(sysinit.CmdlinePath)
	if err != nil {
		return err
	}

	log.Printf("INFO runtime %s, daemon %t, output %s", runtime, params.Daemon, params.Output)

	prefix := agent.DiskPrefix(devDir)
	disks := agent.DiskDevices(devDir, prefix, params)

	if err := setupRoot(state, disks.Rootfs); err != nil {
		return err
	}

	if err := setupDisks(state, disks, runtime); err != nil {
		return err
	}

	shareDir := ""

	if params.Share {
		shareDir = protocol.ShareMountPoint

		opts := sysinit.ShareMount(protocol.ShareTag, agent.ShareTransport(params.Channel))
		if err := sysinit.WithMount(shareDir, opts)(state); err != nil {
			return fmt.Errorf("mount share: %w", err)
		}
	}

	if params.Network {
		if err := setupNetwork(ctx, prefix); err != nil {
			// Commands without network access may still succeed.
			log.Print("WARN network: ", err.Error())
		}
	}

	if err := writeRegistryConfig(runtime, params.InsecureRegistries); err != nil {
		return err
	}

	runner := agent.ExecRunner{Env: os.Environ()}

	daemon := &agent.RuntimeDaemon{
		Runtime: runtime,
		Runner:  runner,
		LogFile: "/var/log/" + runtime + "-daemon.log",
	}

	if err := daemon.Start(ctx); err != nil {
		return err
	}

	state.Cleanup(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), daemonStopGrace)
		defer cancel()

		return daemon.Stop(ctx)
	})

	guest := &agent.Agent{
		Runner:              runner,
		Runtime:             runtime,
		ShareDir:            shareDir,
		InputDir:            protocol.InputMountPoint,
		StorageDir:          agent.StorageDir(runtime),
		BeforeStorageExport: daemon.Stop,
		Registry:            params.Registry,
		IdleTimeout:         params.IdleTimeout,
	}

	switch {
	case params.Daemon:
		return serve(ctx, guest, params.Channel)
	case params.Interactive:
		return guest.RunInteractive(ctx, params, os.Stdin, os.Stdout)
	default:
		return guest.RunOneShot(ctx, params, os.Stdout)
	}
}

func serve(ctx context.Context, guest *agent.Agent, channel protocol.ChannelKind) error {
	conn, err := agent.OpenChannel(channel)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Printf("INFO serving %s channel", channel)

	err = guest.Serve(ctx, conn)
	if errors.Is(err, protocol.ErrIdleTimeout) {
		return nil
	}

	return err
}
