// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package hypervisor

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// Port forward protocols.
const (
	ProtocolTCP = "tcp"
	ProtocolUDP = "udp"
)

// PortForward forwards a host port into the guest.
//
// The guest port is always the same as the host port. The container runtime
// in the guest publishes the container port on it.
type PortForward struct {
	HostAddr      string `json:"host_addr,omitempty"`
	HostPort      uint16 `json:"host_port"`
	GuestPort     uint16 `json:"guest_port"`
	ContainerPort uint16 `json:"container_port"`
	Protocol      string `json:"protocol"`
}

// ParsePortForward parses a port forward spec as used with "-p":
// "[addr:]host:container[/protocol]". The protocol defaults to tcp.
func ParsePortForward(spec string) (PortForward, error) {
	fail := func(msg string) (PortForward, error) {
		return PortForward{}, fmt.Errorf("%w: %s: %s", ErrInvalidPortForward, spec, msg)
	}

	ports, protocol, hasProtocol := strings.Cut(spec, "/")
	if !hasProtocol {
		protocol = ProtocolTCP
	}

	protocol = strings.ToLower(protocol)
	if protocol != ProtocolTCP && protocol != ProtocolUDP {
		return fail("unknown protocol " + protocol)
	}

	forward := PortForward{Protocol: protocol}

	fields := strings.Split(ports, ":")

	switch len(fields) {
	case 2:
	case 3:
		addr, err := netip.ParseAddr(fields[0])
		if err != nil {
			return fail("invalid host address")
		}

		forward.HostAddr = addr.String()
		fields = fields[1:]
	default:
		return fail("expected host and container port")
	}

	hostPort, err := parsePort(fields[0])
	if err != nil {
		return fail("host port: " + err.Error())
	}

	containerPort, err := parsePort(fields[1])
	if err != nil {
		return fail("container port: " + err.Error())
	}

	forward.HostPort = hostPort
	forward.GuestPort = hostPort
	forward.ContainerPort = containerPort

	return forward, nil
}

// MustParsePortForward is like [ParsePortForward] but panics on errors.
func MustParsePortForward(spec string) PortForward {
	forward, err := ParsePortForward(spec)
	if err != nil {
		panic(err)
	}

	return forward
}

// String returns the spec as accepted by [ParsePortForward].
func (p PortForward) String() string {
	spec := fmt.Sprintf("%d:%d/%s", p.HostPort, p.ContainerPort, p.Proto())
	if p.HostAddr != "" {
		spec = p.HostAddr + ":" + spec
	}

	return spec
}

// GuestSpec returns the spec for the guest's container runtime, which
// publishes the container port on the guest port.
func (p PortForward) GuestSpec() string {
	return fmt.Sprintf("%d:%d/%s", p.GuestPort, p.ContainerPort, p.Proto())
}

// Proto returns the protocol, defaulting to tcp.
func (p PortForward) Proto() string {
	if p.Protocol == "" {
		return ProtocolTCP
	}

	return p.Protocol
}

func parsePort(s string) (uint16, error) {
	port, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err //nolint:wrapcheck
	}

	if port == 0 {
		return 0, strconv.ErrRange
	}

	return uint16(port), nil
}
