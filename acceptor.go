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
	"net"

	goreuseport "github.com/kavu/go_reuseport"
	"github.com/pkg/errors"
	"github.com/zluster/znet/internal/netutil"
	"github.com/zluster/znet/log"
	"golang.org/x/sys/unix"
)

// NewConnectionCallback receives every accepted descriptor together with
// the peer endpoint. Ownership of the fd transfers to the callback.
type NewConnectionCallback func(fd int, peerAddr InetAddress)

// Acceptor owns a nonblocking listening socket and its read channel on
// the base loop, handing accepted descriptors to its owner.
type Acceptor struct {
	loop      *EventLoop
	sock      *Socket
	channel   *Channel
	listener  net.Listener
	listening bool

	// idleFD is a reserve descriptor released to accept-then-close the
	// pending connection when the process runs out of fds; otherwise a
	// level-triggered listen fd would spin on EMFILE forever.
	idleFD int

	newConnectionCallback NewConnectionCallback
}

// NewAcceptor binds a listening socket on listenAddr. With reusePort set
// the socket is created through the reuseport listener so several
// processes can share the port.
func NewAcceptor(loop *EventLoop, listenAddr InetAddress, reusePort bool) (*Acceptor, error) {
	a := &Acceptor{loop: loop, idleFD: -1}
	if reusePort {
		ln, err := goreuseport.NewReusablePortListener("tcp", listenAddr.String())
		if err != nil {
			return nil, errors.Wrap(err, "acceptor: reuseport listen")
		}
		fd, err := netutil.GetFD(ln)
		if err != nil {
			ln.Close()
			return nil, errors.Wrap(err, "acceptor: reuseport fd")
		}
		if err := unix.SetNonblock(fd, true); err != nil {
			ln.Close()
			return nil, errors.Wrap(err, "acceptor: set nonblock")
		}
		a.listener = ln
		a.sock = newSocket(fd)
	} else {
		sock, err := createNonblockingSocket(listenAddr.IsIPv6())
		if err != nil {
			return nil, err
		}
		if err := sock.SetReuseAddr(true); err != nil {
			sock.Close()
			return nil, errors.Wrap(err, "acceptor: reuseaddr")
		}
		if err := sock.Bind(listenAddr); err != nil {
			sock.Close()
			return nil, err
		}
		a.sock = sock
	}
	if fd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0); err == nil {
		a.idleFD = fd
	}
	a.channel = NewChannel(loop, a.sock.FD())
	a.channel.SetReadCallback(a.handleRead)
	return a, nil
}

// SetNewConnectionCallback installs the accepted-fd handler.
func (a *Acceptor) SetNewConnectionCallback(cb NewConnectionCallback) {
	a.newConnectionCallback = cb
}

// Listening reports whether Listen has run.
func (a *Acceptor) Listening() bool {
	return a.listening
}

// ListenAddr returns the bound endpoint, with the kernel-chosen port for
// ":0" binds.
func (a *Acceptor) ListenAddr() InetAddress {
	return a.sock.LocalAddr()
}

// Listen starts listening and registers read interest. Must run on the
// owning loop.
func (a *Acceptor) Listen() error {
	a.loop.AssertInLoopThread()
	a.listening = true
	// A reuseport listener is already in listening state.
	if a.listener == nil {
		if err := a.sock.Listen(); err != nil {
			return err
		}
	}
	a.channel.EnableReading()
	return nil
}

func (a *Acceptor) handleRead(Timestamp) {
	a.loop.AssertInLoopThread()
	fd, peerAddr, err := a.sock.Accept()
	if err != nil {
		if err == unix.EMFILE {
			a.recoverFromEMFILE()
			return
		}
		if err != unix.EAGAIN {
			log.Errorf("acceptor: accept error: %v", err)
		}
		return
	}
	if a.newConnectionCallback == nil {
		unix.Close(fd)
		return
	}
	a.newConnectionCallback(fd, peerAddr)
}

// recoverFromEMFILE gives back the reserve fd, accepts and immediately
// closes the pending connection, then re-arms the reserve.
func (a *Acceptor) recoverFromEMFILE() {
	if a.idleFD < 0 {
		log.Errorf("acceptor: accept error: %v", unix.EMFILE)
		return
	}
	unix.Close(a.idleFD)
	if fd, _, err := netutil.Accept(a.sock.FD()); err == nil {
		unix.Close(fd)
	}
	a.idleFD = -1
	if fd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0); err == nil {
		a.idleFD = fd
	}
}

// Close tears the acceptor down: channel out of the poller, sockets
// closed. Must run on the owning loop.
func (a *Acceptor) Close() {
	a.loop.AssertInLoopThread()
	a.channel.DisableAll()
	a.channel.Remove()
	if a.idleFD >= 0 {
		unix.Close(a.idleFD)
	}
	if a.listener != nil {
		a.listener.Close()
		return
	}
	a.sock.Close()
}
