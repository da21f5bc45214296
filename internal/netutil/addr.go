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

// Package netutil provides network facilities used by the reactor core:
// sockaddr conversions, descriptor extraction and socket options.
package netutil

import (
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// SockaddrToTCPAddr converts a kernel socket address into a *net.TCPAddr.
// Returns nil for address families the TCP core does not speak.
func SockaddrToTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: sockaddrInet4ToIP(sa), Port: sa.Port}
	case *unix.SockaddrInet6:
		ip, zone := sockaddrInet6ToIPAndZone(sa)
		return &net.TCPAddr{IP: ip, Port: sa.Port, Zone: zone}
	}
	return nil
}

// TCPAddrToSockaddr converts a *net.TCPAddr into the kernel representation
// suitable for bind and connect.
func TCPAddrToSockaddr(addr *net.TCPAddr) (unix.Sockaddr, error) {
	if ipv4 := addr.IP.To4(); ipv4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ipv4)
		return sa, nil
	}
	zoneID, err := StringToZoneID(addr.Zone)
	if err != nil {
		return nil, err
	}
	sa := &unix.SockaddrInet6{Port: addr.Port, ZoneId: zoneID}
	copy(sa.Addr[:], addr.IP.To16())
	return sa, nil
}

func sockaddrInet4ToIP(sa *unix.SockaddrInet4) net.IP {
	ip := make([]byte, 16)
	// V4InV6Prefix
	ip[10] = 0xff
	ip[11] = 0xff
	copy(ip[12:16], sa.Addr[:])
	return ip
}

func sockaddrInet6ToIPAndZone(sa *unix.SockaddrInet6) (net.IP, string) {
	ip := make([]byte, 16)
	copy(ip, sa.Addr[:])
	return ip, IP6ZoneToString(int(sa.ZoneId))
}

// IP6ZoneToString converts an IPv6 scope id into a zone string, preferring
// the interface name over the numeric form.
func IP6ZoneToString(zone int) string {
	if zone == 0 {
		return ""
	}
	if ifi, err := net.InterfaceByIndex(zone); err == nil {
		return ifi.Name
	}
	return strconv.FormatUint(uint64(zone), 10)
}

// StringToZoneID converts an IPv6 zone string back into a scope id.
func StringToZoneID(zone string) (uint32, error) {
	if zone == "" {
		return 0, nil
	}
	if ifi, err := net.InterfaceByName(zone); err == nil {
		return uint32(ifi.Index), nil
	}
	n, err := strconv.Atoi(zone)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}

// TestableNetwork reports whether the host can run tests against network.
func TestableNetwork(network string) bool {
	switch network {
	case "tcp4":
		return hasIPv4Addr()
	case "tcp6":
		return hasIPv6Addr()
	case "tcp":
		return hasIPv4Addr() || hasIPv6Addr()
	default:
		return false
	}
}

func hasIPv4Addr() bool {
	return hasAddrOfLen(net.IPv4len)
}

func hasIPv6Addr() bool {
	return hasAddrOfLen(net.IPv6len)
}

func hasAddrOfLen(n int) bool {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if n == net.IPv4len && ipNet.IP.To4() != nil {
			return true
		}
		if n == net.IPv6len && ipNet.IP.To4() == nil && ipNet.IP.To16() != nil {
			return true
		}
	}
	return false
}
