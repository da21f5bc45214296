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
	"os"

	"github.com/zluster/znet/internal/netutil"
	"github.com/zluster/znet/metrics"
	"golang.org/x/sys/unix"
)

// Socket is a thin typed wrapper over a TCP file descriptor. It does not
// track ownership; whichever component holds the Socket owns the fd.
type Socket struct {
	fd int
}

// createNonblockingSocket creates a nonblocking close-on-exec TCP socket
// for the given address family.
func createNonblockingSocket(ipv6 bool) (*Socket, error) {
	family := unix.AF_INET
	if ipv6 {
		family = unix.AF_INET6
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	return &Socket{fd: fd}, nil
}

func newSocket(fd int) *Socket {
	return &Socket{fd: fd}
}

// FD returns the descriptor number.
func (s *Socket) FD() int {
	return s.fd
}

// Bind binds the socket to addr.
func (s *Socket) Bind(addr InetAddress) error {
	sa, err := addr.sockaddr()
	if err != nil {
		return err
	}
	if err := unix.Bind(s.fd, sa); err != nil {
		return os.NewSyscallError("bind", err)
	}
	return nil
}

// Listen puts the socket into listening mode.
func (s *Socket) Listen() error {
	if err := unix.Listen(s.fd, unix.SOMAXCONN); err != nil {
		return os.NewSyscallError("listen", err)
	}
	return nil
}

// Accept takes one pending connection, returning the new nonblocking
// close-on-exec descriptor and the peer endpoint.
func (s *Socket) Accept() (int, InetAddress, error) {
	fd, sa, err := netutil.Accept(s.fd)
	metrics.Add(metrics.AcceptCalls, 1)
	if err != nil {
		metrics.Add(metrics.AcceptFails, 1)
		return -1, InetAddress{}, err
	}
	return fd, newInetAddressFromSockaddr(sa), nil
}

// ShutdownWrite half-closes the socket: the peer observes FIN while the
// read side stays open.
func (s *Socket) ShutdownWrite() error {
	if err := unix.Shutdown(s.fd, unix.SHUT_WR); err != nil {
		return os.NewSyscallError("shutdown", err)
	}
	return nil
}

// SetReuseAddr controls SO_REUSEADDR.
func (s *Socket) SetReuseAddr(on bool) error {
	return unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, boolToInt(on))
}

// SetReusePort controls SO_REUSEPORT.
func (s *Socket) SetReusePort(on bool) error {
	return unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, boolToInt(on))
}

// SetKeepAlive turns keep-alive probing on with the given idle seconds,
// or off when secs <= 0.
func (s *Socket) SetKeepAlive(secs int) error {
	if secs <= 0 {
		return unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 0)
	}
	return netutil.SetKeepAlive(s.fd, secs)
}

// SetTCPNoDelay controls TCP_NODELAY.
func (s *Socket) SetTCPNoDelay(on bool) error {
	return netutil.SetNoDelay(s.fd, on)
}

// SocketError reads and clears the pending error on the socket.
func (s *Socket) SocketError() (unix.Errno, error) {
	v, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return 0, os.NewSyscallError("getsockopt", err)
	}
	return unix.Errno(v), nil
}

// LocalAddr returns the bound endpoint.
func (s *Socket) LocalAddr() InetAddress {
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return InetAddress{}
	}
	return newInetAddressFromSockaddr(sa)
}

// PeerAddr returns the connected peer's endpoint.
func (s *Socket) PeerAddr() InetAddress {
	sa, err := unix.Getpeername(s.fd)
	if err != nil {
		return InetAddress{}
	}
	return newInetAddressFromSockaddr(sa)
}

// Close closes the descriptor.
func (s *Socket) Close() error {
	return unix.Close(s.fd)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
