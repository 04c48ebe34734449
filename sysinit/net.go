// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sysinit

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"strings"

	"github.com/vishvananda/netlink"
)

// StaticNetwork is a static IPv4 configuration of a network interface.
type StaticNetwork struct {
	Interface  string
	Address    netip.Prefix
	Gateway    netip.Addr
	Nameserver netip.Addr
}

// UserNetwork returns the configuration matching QEMU's user mode network
// defaults.
func UserNetwork(iface string) StaticNetwork {
	return StaticNetwork{
		Interface:  iface,
		Address:    netip.MustParsePrefix("10.0.2.15/24"),
		Gateway:    netip.MustParseAddr("10.0.2.2"),
		Nameserver: netip.MustParseAddr("10.0.2.3"),
	}
}

// InterfaceUp brings the named interface up.
func InterfaceUp(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("find interface %s: %w", name, err)
	}

	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("set %s up: %w", name, err)
	}

	return nil
}

// WithInterfaceUp returns a setup [Func] that wraps [InterfaceUp] and can be
// used with [Run].
func WithInterfaceUp(name string) Func {
	return func(_ *State) error {
		return InterfaceUp(name)
	}
}

// Configure brings the interface up, assigns the address and adds the
// default route via the gateway.
func (n StaticNetwork) Configure() error {
	link, err := netlink.LinkByName(n.Interface)
	if err != nil {
		return fmt.Errorf("find interface %s: %w", n.Interface, err)
	}

	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("set %s up: %w", n.Interface, err)
	}

	addr := &netlink.Addr{IPNet: &net.IPNet{
		IP:   n.Address.Addr().AsSlice(),
		Mask: net.CIDRMask(n.Address.Bits(), n.Address.Addr().BitLen()),
	}}

	if err := netlink.AddrReplace(link, addr); err != nil {
		return fmt.Errorf("add address %s: %w", n.Address, err)
	}

	if n.Gateway.IsValid() {
		route := &netlink.Route{
			LinkIndex: link.Attrs().Index,
			Gw:        n.Gateway.AsSlice(),
		}

		if err := netlink.RouteReplace(route); err != nil {
			return fmt.Errorf("add default route via %s: %w", n.Gateway, err)
		}
	}

	return nil
}

// WriteResolvConf writes the resolver configuration for the nameservers.
func WriteResolvConf(path string, nameservers ...netip.Addr) error {
	var conf strings.Builder

	for _, ns := range nameservers {
		if ns.IsValid() {
			conf.WriteString("nameserver " + ns.String() + "\n")
		}
	}

	if err := os.WriteFile(path, []byte(conf.String()), 0o644); err != nil {
		return fmt.Errorf("write resolv.conf: %w", err)
	}

	return nil
}
