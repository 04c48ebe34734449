// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package xen

import (
	"bufio"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"github.com/aibor/vcontainer/internal/hypervisor"
)

// DefaultARPTable is the host's ARP table.
const DefaultARPTable = "/proc/net/arp"

// arpFlagComplete marks resolved ARP entries.
const arpFlagComplete = 0x2

// GuestMAC returns the MAC address for the domain. It uses the Xen OUI
// 00:16:3e and is derived from the domain name, so it is stable across
// restarts.
func GuestMAC(domainName string) string {
	sum := sha256.Sum256([]byte(domainName))

	return fmt.Sprintf("00:16:3e:%02x:%02x:%02x", sum[0]&0x7f, sum[1], sum[2])
}

// parseARPTable returns the address of the complete entry for the MAC.
func parseARPTable(reader io.Reader, mac string) (netip.Addr, bool) {
	scanner := bufio.NewScanner(reader)

	// Skip header.
	scanner.Scan()

	for scanner.Scan() {
		// IP address, HW type, Flags, HW address, Mask, Device
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || !strings.EqualFold(fields[3], mac) {
			continue
		}

		flags, err := strconv.ParseUint(fields[2], 0, 32)
		if err != nil || flags&arpFlagComplete == 0 {
			continue
		}

		addr, err := netip.ParseAddr(fields[0])
		if err != nil {
			continue
		}

		return addr, true
	}

	return netip.Addr{}, false
}

// discoverAddress waits for the MAC to show up in the ARP table.
func (b *Backend) discoverAddress(ctx context.Context, mac string) (netip.Addr, error) {
	var addr netip.Addr

	found := hypervisor.PollUntil(ctx, pollInterval, b.cfg.ARPTimeout, func() bool {
		file, err := os.Open(b.cfg.ARPTable)
		if err != nil {
			slog.Debug("Read ARP table", slog.Any("error", err))
			return false
		}
		defer file.Close()

		var ok bool

		addr, ok = parseARPTable(file, mac)

		return ok
	})
	if !found {
		return netip.Addr{}, fmt.Errorf("%w: mac %s", hypervisor.ErrNoGuestAddress, mac)
	}

	slog.Debug("Guest address discovered",
		slog.String("mac", mac),
		slog.String("address", addr.String()))

	return addr, nil
}

// natRules returns the iptables arguments of the DNAT rules forwarding the
// host port to the guest. Action is "-A" or "-D".
func natRules(action string, forward hypervisor.PortForward, guest string) [][]string {
	port := strconv.FormatUint(uint64(forward.HostPort), 10)
	target := guest + ":" + strconv.FormatUint(uint64(forward.GuestPort), 10)

	match := []string{"-m", "addrtype", "--dst-type", "LOCAL"}
	if forward.HostAddr != "" {
		match = []string{"-d", forward.HostAddr}
	}

	rule := func(chain string) []string {
		args := []string{"-t", "nat", action, chain, "-p", forward.Proto()}
		args = append(args, match...)

		return append(args, "--dport", port, "-j", "DNAT", "--to-destination", target)
	}

	return [][]string{rule("PREROUTING"), rule("OUTPUT")}
}

// applyNAT runs the rules for all forwards. With the delete action it tries
// all rules and returns the joined errors.
func (b *Backend) applyNAT(
	ctx context.Context,
	action string,
	guest string,
	forwards []hypervisor.PortForward,
) error {
	var errs []error

	for _, forward := range forwards {
		for _, args := range natRules(action, forward, guest) {
			_, err := b.cfg.Exec.Run(ctx, "iptables", args...)
			if err == nil {
				continue
			}

			if action != "-D" {
				return fmt.Errorf("port forward %s: %w", forward, err)
			}

			slog.Warn("Remove port forward rule",
				slog.String("forward", forward.String()),
				slog.Any("error", err))

			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
