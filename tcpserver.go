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

	"github.com/zluster/znet/log"
	"go.uber.org/atomic"
)

// TCPServer composes an Acceptor on a base loop with a pool of I/O
// loops. Accepted connections are dealt round-robin across the pool and
// live on their I/O loop until torn down; the server's connection map is
// only touched on the base loop.
type TCPServer struct {
	loop     *EventLoop
	ipPort   string
	name     string
	acceptor *Acceptor
	pool     *EventLoopThreadPool

	connections map[string]*TCPConn
	nextConnID  int
	started     atomic.Bool

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback
	highWaterMarkCallback HighWaterMarkCallback
	highWaterMark         int
}

// NewTCPServer builds a server listening on listenAddr. The listening
// socket is created immediately so bind failures surface here, but no
// connection is accepted until Start.
func NewTCPServer(loop *EventLoop, listenAddr InetAddress, name string, reusePort bool) (*TCPServer, error) {
	acceptor, err := NewAcceptor(loop, listenAddr, reusePort)
	if err != nil {
		return nil, err
	}
	s := &TCPServer{
		loop:          loop,
		ipPort:        listenAddr.String(),
		name:          name,
		acceptor:      acceptor,
		pool:          NewEventLoopThreadPool(loop, name),
		connections:   make(map[string]*TCPConn),
		nextConnID:    1,
		highWaterMark: defaultHighWaterMark,
	}
	acceptor.SetNewConnectionCallback(s.newConnection)
	return s, nil
}

// SetThreadNum sets the I/O loop pool size. Zero keeps all connections
// on the base loop.
func (s *TCPServer) SetThreadNum(n int) {
	s.pool.SetThreadNum(n)
}

// SetConnectionCallback installs the establish/teardown handler passed
// to every accepted connection.
func (s *TCPServer) SetConnectionCallback(cb ConnectionCallback) {
	s.connectionCallback = cb
}

// SetMessageCallback installs the inbound-data handler passed to every
// accepted connection.
func (s *TCPServer) SetMessageCallback(cb MessageCallback) {
	s.messageCallback = cb
}

// SetWriteCompleteCallback installs the output-drained handler passed to
// every accepted connection.
func (s *TCPServer) SetWriteCompleteCallback(cb WriteCompleteCallback) {
	s.writeCompleteCallback = cb
}

// SetHighWaterMarkCallback installs the backpressure handler and mark
// passed to every accepted connection.
func (s *TCPServer) SetHighWaterMarkCallback(cb HighWaterMarkCallback, mark int) {
	s.highWaterMarkCallback = cb
	s.highWaterMark = mark
}

// ListenAddr returns the bound endpoint, useful with ":0" binds.
func (s *TCPServer) ListenAddr() InetAddress {
	return s.acceptor.ListenAddr()
}

// Pool exposes the I/O loop pool.
func (s *TCPServer) Pool() *EventLoopThreadPool {
	return s.pool
}

// Start launches the pool and posts the acceptor's listen to the base
// loop. Safe to call more than once; only the first call acts.
func (s *TCPServer) Start() {
	if !s.started.CAS(false, true) {
		return
	}
	s.loop.RunInLoop(func() {
		s.pool.Start(nil)
		if err := s.acceptor.Listen(); err != nil {
			log.Errorf("tcpserver %s: %v", s.name, err)
		}
	})
}

// Stop tears down every live connection and the acceptor, then quits the
// pool loops. Callable from any goroutine.
func (s *TCPServer) Stop() {
	s.loop.RunInLoop(func() {
		s.acceptor.Close()
		for name, conn := range s.connections {
			delete(s.connections, name)
			conn.OwnerLoop().RunInLoop(conn.connectDestroyed)
		}
		s.pool.Stop()
	})
}

// newConnection runs on the base loop for every accepted descriptor:
// pick the next I/O loop, build the connection, wire callbacks, and hand
// it to its loop for establishment.
func (s *TCPServer) newConnection(fd int, peerAddr InetAddress) {
	s.loop.AssertInLoopThread()
	ioLoop := s.pool.GetNextLoop()
	connName := fmt.Sprintf("%s-%s#%d", s.name, s.ipPort, s.nextConnID)
	s.nextConnID++
	log.Infof("tcpserver %s: new connection %s from %s", s.name, connName, peerAddr.String())

	localAddr := newSocket(fd).LocalAddr()
	conn := NewTCPConn(ioLoop, connName, fd, localAddr, peerAddr)
	s.connections[connName] = conn
	if s.connectionCallback != nil {
		conn.SetConnectionCallback(s.connectionCallback)
	}
	if s.messageCallback != nil {
		conn.SetMessageCallback(s.messageCallback)
	}
	conn.SetWriteCompleteCallback(s.writeCompleteCallback)
	conn.SetHighWaterMarkCallback(s.highWaterMarkCallback, s.highWaterMark)
	conn.SetCloseCallback(s.removeConnection)
	ioLoop.RunInLoop(conn.connectEstablished)
}

// removeConnection is the connection's close hook; it hops to the base
// loop to erase the map entry, then back to the I/O loop to finish the
// teardown.
func (s *TCPServer) removeConnection(conn *TCPConn) {
	s.loop.RunInLoop(func() {
		s.removeConnectionInLoop(conn)
	})
}

func (s *TCPServer) removeConnectionInLoop(conn *TCPConn) {
	s.loop.AssertInLoopThread()
	log.Infof("tcpserver %s: remove connection %s", s.name, conn.Name())
	delete(s.connections, conn.Name())
	conn.OwnerLoop().QueueInLoop(conn.connectDestroyed)
}

// ConnectionCount returns the number of live connections; base loop only.
func (s *TCPServer) ConnectionCount() int {
	s.loop.AssertInLoopThread()
	return len(s.connections)
}
