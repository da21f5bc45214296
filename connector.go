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
	"github.com/zluster/znet/log"
	"github.com/zluster/znet/metrics"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

// Connector retry backoff: starts at half a second, doubles per attempt,
// capped at thirty seconds.
const (
	initRetryDelayMs = 500
	maxRetryDelayMs  = 30 * 1000
)

// Connector states.
const (
	connectorDisconnected = iota
	connectorConnecting
	connectorConnected
)

// Connector drives one non-blocking outbound connect with exponential
// retry. All state transitions run on the owning loop; Start/Stop/
// Restart may be called from any goroutine.
type Connector struct {
	loop       *EventLoop
	serverAddr InetAddress
	channel    *Channel

	enabled      atomic.Bool
	state        atomic.Int32
	retryDelayMs int

	newConnectionCallback func(fd int)
}

// NewConnector creates a connector for serverAddr on loop.
func NewConnector(loop *EventLoop, serverAddr InetAddress) *Connector {
	return &Connector{
		loop:         loop,
		serverAddr:   serverAddr,
		retryDelayMs: initRetryDelayMs,
	}
}

// SetNewConnectionCallback installs the handler that receives the
// connected descriptor. Ownership of the fd transfers to the callback.
func (c *Connector) SetNewConnectionCallback(cb func(fd int)) {
	c.newConnectionCallback = cb
}

// ServerAddr returns the target endpoint.
func (c *Connector) ServerAddr() InetAddress {
	return c.serverAddr
}

// Start begins connecting.
func (c *Connector) Start() {
	c.enabled.Store(true)
	c.loop.RunInLoop(c.startInLoop)
}

// Stop prevents further retries and tears down an in-flight attempt.
func (c *Connector) Stop() {
	c.enabled.Store(false)
	c.loop.QueueInLoop(c.stopInLoop)
}

// Restart resets the backoff and state, then reconnects immediately if
// the connector is still enabled.
func (c *Connector) Restart() {
	c.loop.RunInLoop(func() {
		c.state.Store(connectorDisconnected)
		c.retryDelayMs = initRetryDelayMs
		c.startInLoop()
	})
}

func (c *Connector) startInLoop() {
	c.loop.AssertInLoopThread()
	if c.state.Load() != connectorDisconnected {
		return
	}
	if !c.enabled.Load() {
		log.Debugf("connector: do not connect")
		return
	}
	c.connect()
}

func (c *Connector) stopInLoop() {
	c.loop.AssertInLoopThread()
	if c.state.Load() != connectorConnecting {
		return
	}
	c.state.Store(connectorDisconnected)
	fd := c.removeAndResetChannel()
	unix.Close(fd)
}

// connect issues the non-blocking connect and classifies the outcome:
// in-progress states register a write channel, transient network errors
// schedule a retry, everything else gives up.
func (c *Connector) connect() {
	sock, err := createNonblockingSocket(c.serverAddr.IsIPv6())
	if err != nil {
		log.Errorf("connector: %v", err)
		return
	}
	sa, err := c.serverAddr.sockaddr()
	if err != nil {
		sock.Close()
		log.Errorf("connector: bad server address %s: %v", c.serverAddr.String(), err)
		return
	}
	switch err := unix.Connect(sock.FD(), sa); err {
	case nil, unix.EINPROGRESS, unix.EINTR, unix.EISCONN:
		c.connecting(sock.FD())
	case unix.EAGAIN, unix.EADDRINUSE, unix.EADDRNOTAVAIL, unix.ECONNREFUSED, unix.ENETUNREACH:
		c.retry(sock.FD())
	case unix.EACCES, unix.EPERM, unix.EAFNOSUPPORT, unix.EALREADY, unix.EBADF, unix.EFAULT, unix.ENOTSOCK:
		metrics.Add(metrics.ConnectFails, 1)
		log.Errorf("connector: connect to %s error: %v", c.serverAddr.String(), err)
		sock.Close()
	default:
		metrics.Add(metrics.ConnectFails, 1)
		log.Errorf("connector: unexpected connect error to %s: %v", c.serverAddr.String(), err)
		sock.Close()
	}
}

// connecting registers a write-interest channel on fd; writability
// signals the connect outcome. A hangup (reported for a refused connect)
// is handled like an error.
func (c *Connector) connecting(fd int) {
	c.state.Store(connectorConnecting)
	c.channel = NewChannel(c.loop, fd)
	c.channel.SetWriteCallback(c.handleWrite)
	c.channel.SetCloseCallback(c.handleError)
	c.channel.SetErrorCallback(c.handleError)
	c.channel.EnableWriting()
}

// removeAndResetChannel detaches the channel from the poller and returns
// its fd. The channel object itself is released from the next loop
// iteration because we may be inside its own event handling.
func (c *Connector) removeAndResetChannel() int {
	c.channel.DisableAll()
	c.channel.Remove()
	fd := c.channel.FD()
	c.loop.QueueInLoop(func() {
		c.channel = nil
	})
	return fd
}

func (c *Connector) handleWrite() {
	if c.state.Load() != connectorConnecting {
		return
	}
	fd := c.removeAndResetChannel()
	errno, err := newSocket(fd).SocketError()
	if err != nil || errno != 0 {
		log.Warnf("connector: SO_ERROR = %v on connect to %s", errno, c.serverAddr.String())
		c.retry(fd)
		return
	}
	c.state.Store(connectorConnected)
	if !c.enabled.Load() {
		unix.Close(fd)
		return
	}
	if c.newConnectionCallback != nil {
		c.newConnectionCallback(fd)
		return
	}
	unix.Close(fd)
}

func (c *Connector) handleError() {
	if c.state.Load() != connectorConnecting {
		return
	}
	fd := c.removeAndResetChannel()
	errno, _ := newSocket(fd).SocketError()
	log.Errorf("connector: error on connect to %s, SO_ERROR = %v", c.serverAddr.String(), errno)
	c.retry(fd)
}

// retry closes the failed descriptor, schedules the next attempt after
// the current backoff, then doubles the backoff up to the cap.
func (c *Connector) retry(fd int) {
	unix.Close(fd)
	c.state.Store(connectorDisconnected)
	if !c.enabled.Load() {
		log.Debugf("connector: do not retry")
		return
	}
	metrics.Add(metrics.ConnectRetries, 1)
	log.Infof("connector: retry connecting to %s in %d ms", c.serverAddr.String(), c.retryDelayMs)
	c.loop.RunAfter(float64(c.retryDelayMs)/1000.0, c.startInLoop)
	c.retryDelayMs *= 2
	if c.retryDelayMs > maxRetryDelayMs {
		c.retryDelayMs = maxRetryDelayMs
	}
}
