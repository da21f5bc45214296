//
//
// Zluster is pleased to support the open source community by making znet available.
//
// Copyright (C) 2024 Zluster.
// All rights reserved.
//
// znet source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

package znet

import (
	"fmt"
	"net"

	"github.com/zluster/znet/internal/netutil"
	"golang.org/x/sys/unix"
)

// InetAddress is an IPv4/IPv6 TCP endpoint value.
type InetAddress struct {
	ip   net.IP
	port int
	zone string
}

// NewInetAddress builds an endpoint from a literal ip and a port.
// An empty ip means the IPv4 wildcard address.
func NewInetAddress(ip string, port int) InetAddress {
	if ip == "" {
		return InetAddress{ip: net.IPv4zero, port: port}
	}
	return InetAddress{ip: net.ParseIP(ip), port: port}
}

// NewInetAddressPort builds a wildcard or loopback endpoint on port.
func NewInetAddressPort(port int, loopbackOnly, ipv6 bool) InetAddress {
	switch {
	case ipv6 && loopbackOnly:
		return InetAddress{ip: net.IPv6loopback, port: port}
	case ipv6:
		return InetAddress{ip: net.IPv6unspecified, port: port}
	case loopbackOnly:
		return InetAddress{ip: net.IPv4(127, 0, 0, 1), port: port}
	default:
		return InetAddress{ip: net.IPv4zero, port: port}
	}
}

// ResolveInetAddress resolves a "host:port" string, looking up the host
// if it is not a literal address.
func ResolveInetAddress(hostport string) (InetAddress, error) {
	addr, err := net.ResolveTCPAddr("tcp", hostport)
	if err != nil {
		return InetAddress{}, fmt.Errorf("resolve address %q error: %w", hostport, err)
	}
	return newInetAddressFromTCPAddr(addr), nil
}

func newInetAddressFromTCPAddr(addr *net.TCPAddr) InetAddress {
	return InetAddress{ip: addr.IP, port: addr.Port, zone: addr.Zone}
}

func newInetAddressFromSockaddr(sa unix.Sockaddr) InetAddress {
	addr := netutil.SockaddrToTCPAddr(sa)
	if addr == nil {
		return InetAddress{}
	}
	return newInetAddressFromTCPAddr(addr)
}

// IP returns the address part.
func (a InetAddress) IP() net.IP {
	return a.ip
}

// Port returns the port part.
func (a InetAddress) Port() int {
	return a.port
}

// IsIPv6 reports whether the endpoint is an IPv6 address.
func (a InetAddress) IsIPv6() bool {
	return a.ip != nil && a.ip.To4() == nil
}

// String formats the endpoint as "ip:port", bracketing IPv6 addresses.
func (a InetAddress) String() string {
	host := ""
	if a.ip != nil {
		host = a.ip.String()
	}
	if a.zone != "" {
		host += "%" + a.zone
	}
	return net.JoinHostPort(host, fmt.Sprintf("%d", a.port))
}

// sockaddr converts the endpoint into the kernel form for bind/connect.
func (a InetAddress) sockaddr() (unix.Sockaddr, error) {
	return netutil.TCPAddrToSockaddr(&net.TCPAddr{IP: a.ip, Port: a.port, Zone: a.zone})
}
