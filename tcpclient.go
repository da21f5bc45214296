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
	"sync"

	"github.com/zluster/znet/log"
	"go.uber.org/atomic"
)

// TCPClient drives a Connector on one loop and owns at most one live
// connection. Connection() may be called from any goroutine, so the
// current-connection reference sits behind its own mutex.
type TCPClient struct {
	loop      *EventLoop
	connector *Connector
	name      string

	mu         sync.Mutex
	connection *TCPConn

	retry      atomic.Bool
	connecting atomic.Bool
	nextConnID int

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback
}

// NewTCPClient creates a client for serverAddr on loop.
func NewTCPClient(loop *EventLoop, serverAddr InetAddress, name string) *TCPClient {
	c := &TCPClient{
		loop:               loop,
		connector:          NewConnector(loop, serverAddr),
		name:               name,
		nextConnID:         1,
		connectionCallback: defaultConnectionCallback,
		messageCallback:    defaultMessageCallback,
	}
	c.connector.SetNewConnectionCallback(c.newConnection)
	return c
}

// SetConnectionCallback installs the establish/teardown handler.
func (c *TCPClient) SetConnectionCallback(cb ConnectionCallback) {
	c.connectionCallback = cb
}

// SetMessageCallback installs the inbound-data handler.
func (c *TCPClient) SetMessageCallback(cb MessageCallback) {
	c.messageCallback = cb
}

// SetWriteCompleteCallback installs the output-drained handler.
func (c *TCPClient) SetWriteCompleteCallback(cb WriteCompleteCallback) {
	c.writeCompleteCallback = cb
}

// EnableRetry makes the client reconnect after a connection closes.
func (c *TCPClient) EnableRetry() {
	c.retry.Store(true)
}

// Connection returns the live connection, or nil. Any goroutine.
func (c *TCPClient) Connection() *TCPConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connection
}

// Connect starts the connector.
func (c *TCPClient) Connect() {
	log.Infof("tcpclient %s: connecting to %s", c.name, c.connector.ServerAddr().String())
	c.connecting.Store(true)
	c.connector.Start()
}

// Disconnect half-closes the current connection, if any.
func (c *TCPClient) Disconnect() {
	c.connecting.Store(false)
	c.mu.Lock()
	conn := c.connection
	c.mu.Unlock()
	if conn != nil {
		conn.Shutdown()
	}
}

// Stop cancels an in-flight connect attempt.
func (c *TCPClient) Stop() {
	c.connecting.Store(false)
	c.connector.Stop()
}

// newConnection runs on the loop with the freshly connected descriptor.
func (c *TCPClient) newConnection(fd int) {
	c.loop.AssertInLoopThread()
	sock := newSocket(fd)
	peerAddr := sock.PeerAddr()
	localAddr := sock.LocalAddr()
	connName := fmt.Sprintf("%s:%s#%d", c.name, peerAddr.String(), c.nextConnID)
	c.nextConnID++

	conn := NewTCPConn(c.loop, connName, fd, localAddr, peerAddr)
	conn.SetConnectionCallback(c.connectionCallback)
	conn.SetMessageCallback(c.messageCallback)
	conn.SetWriteCompleteCallback(c.writeCompleteCallback)
	conn.SetCloseCallback(c.removeConnection)
	c.mu.Lock()
	c.connection = conn
	c.mu.Unlock()
	conn.connectEstablished()
}

// removeConnection is the connection's close hook: clear the reference,
// finish the teardown, and restart the connector when retry is on.
func (c *TCPClient) removeConnection(conn *TCPConn) {
	c.loop.AssertInLoopThread()
	c.mu.Lock()
	c.connection = nil
	c.mu.Unlock()
	c.loop.QueueInLoop(conn.connectDestroyed)
	if c.retry.Load() && c.connecting.Load() {
		log.Infof("tcpclient %s: reconnecting to %s", c.name, c.connector.ServerAddr().String())
		c.connector.Restart()
	}
}
