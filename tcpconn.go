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

// defaultHighWaterMark is the output-buffer size past which the producer
// is told to slow down.
const defaultHighWaterMark = 10 * 1024 * 1024

// Connection states; transitions are monotone forward.
const (
	stateConnecting int32 = iota
	stateConnected
	stateDisconnecting
	stateDisconnected
)

// TCPConn owns one established connection: the socket, its channel, the
// input/output buffers and the read/write/close state machine. All I/O
// and every user callback run on the owning loop; Send, Shutdown and
// ForceClose may be called from any goroutine.
type TCPConn struct {
	loop      *EventLoop
	name      string
	sock      *Socket
	channel   *Channel
	localAddr InetAddress
	peerAddr  InetAddress

	state atomic.Int32

	inputBuffer  Buffer
	outputBuffer Buffer

	highWaterMark int
	context       interface{}

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback
	highWaterMarkCallback HighWaterMarkCallback
	closeCallback         CloseCallback
}

// NewTCPConn wraps an already-connected descriptor. The connection owns
// fd from here on. Used by TCPServer and TCPClient; the connection is
// inert until connectEstablished runs on its loop.
func NewTCPConn(loop *EventLoop, name string, fd int, localAddr, peerAddr InetAddress) *TCPConn {
	c := &TCPConn{
		loop:          loop,
		name:          name,
		sock:          newSocket(fd),
		localAddr:     localAddr,
		peerAddr:      peerAddr,
		highWaterMark: defaultHighWaterMark,
	}
	c.state.Store(stateConnecting)
	c.channel = NewChannel(loop, fd)
	c.channel.SetReadCallback(c.handleRead)
	c.channel.SetWriteCallback(c.handleWrite)
	c.channel.SetCloseCallback(c.handleClose)
	c.channel.SetErrorCallback(c.handleError)
	c.connectionCallback = defaultConnectionCallback
	c.messageCallback = defaultMessageCallback
	metrics.Add(metrics.TCPConnsCreate, 1)
	return c
}

// Name returns the connection's unique name within its server/client.
func (c *TCPConn) Name() string {
	return c.name
}

// OwnerLoop returns the loop all this connection's callbacks run on.
func (c *TCPConn) OwnerLoop() *EventLoop {
	return c.loop
}

// LocalAddr returns the local endpoint.
func (c *TCPConn) LocalAddr() InetAddress {
	return c.localAddr
}

// PeerAddr returns the remote endpoint.
func (c *TCPConn) PeerAddr() InetAddress {
	return c.peerAddr
}

// Connected reports whether the connection is in the Connected state.
func (c *TCPConn) Connected() bool {
	return c.state.Load() == stateConnected
}

// Disconnected reports whether the connection reached its final state.
func (c *TCPConn) Disconnected() bool {
	return c.state.Load() == stateDisconnected
}

// InputBuffer exposes the receive buffer. Only touch it on the owning
// loop, normally inside the message callback.
func (c *TCPConn) InputBuffer() *Buffer {
	return &c.inputBuffer
}

// OutputBuffer exposes the send backlog. Only touch it on the owning loop.
func (c *TCPConn) OutputBuffer() *Buffer {
	return &c.outputBuffer
}

// SetContext attaches arbitrary user data to the connection.
func (c *TCPConn) SetContext(ctx interface{}) {
	c.context = ctx
}

// Context returns the attached user data.
func (c *TCPConn) Context() interface{} {
	return c.context
}

// SetConnectionCallback installs the establish/teardown handler.
func (c *TCPConn) SetConnectionCallback(cb ConnectionCallback) {
	c.connectionCallback = cb
}

// SetMessageCallback installs the inbound-data handler.
func (c *TCPConn) SetMessageCallback(cb MessageCallback) {
	c.messageCallback = cb
}

// SetWriteCompleteCallback installs the output-drained handler.
func (c *TCPConn) SetWriteCompleteCallback(cb WriteCompleteCallback) {
	c.writeCompleteCallback = cb
}

// SetHighWaterMarkCallback installs the backpressure handler and the
// mark it triggers at.
func (c *TCPConn) SetHighWaterMarkCallback(cb HighWaterMarkCallback, mark int) {
	c.highWaterMarkCallback = cb
	c.highWaterMark = mark
}

// SetCloseCallback installs the removal hook; wired by TCPServer and
// TCPClient, not meant for applications.
func (c *TCPConn) SetCloseCallback(cb CloseCallback) {
	c.closeCallback = cb
}

// SetTCPNoDelay controls Nagle's algorithm for this connection.
func (c *TCPConn) SetTCPNoDelay(on bool) error {
	return c.sock.SetTCPNoDelay(on)
}

// SetKeepAlive turns keep-alive probing on with the given idle seconds.
func (c *TCPConn) SetKeepAlive(secs int) error {
	return c.sock.SetKeepAlive(secs)
}

// Send queues data for delivery. Callable from any goroutine; off-loop
// callers get a private copy of data before it is handed to the loop.
func (c *TCPConn) Send(data []byte) {
	if c.state.Load() != stateConnected {
		return
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop(data)
		return
	}
	// Snapshot before crossing goroutines; the caller may reuse data.
	cp := make([]byte, len(data))
	copy(cp, data)
	c.loop.QueueInLoop(func() {
		c.sendInLoop(cp)
	})
}

// SendString queues s for delivery, from any goroutine.
func (c *TCPConn) SendString(s string) {
	if c.state.Load() != stateConnected {
		return
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop([]byte(s))
		return
	}
	c.loop.QueueInLoop(func() {
		c.sendInLoop([]byte(s))
	})
}

// SendBuffer drains buf into the connection, from any goroutine.
func (c *TCPConn) SendBuffer(buf *Buffer) {
	if c.state.Load() != stateConnected {
		return
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop(buf.Peek())
		buf.RetrieveAll()
		return
	}
	data := []byte(buf.RetrieveAllAsString())
	c.loop.QueueInLoop(func() {
		c.sendInLoop(data)
	})
}

// sendInLoop tries a direct write when nothing is queued, appends the
// remainder to the output buffer, signals the high water mark when the
// backlog crosses it, and arms write interest.
func (c *TCPConn) sendInLoop(data []byte) {
	c.loop.AssertInLoopThread()
	if c.state.Load() == stateDisconnected {
		log.Warnf("tcpconn %s: disconnected, give up writing", c.name)
		return
	}
	var written int
	remaining := len(data)
	faulted := false
	if !c.channel.IsWriting() && c.outputBuffer.ReadableBytes() == 0 {
		n, err := unix.Write(c.sock.FD(), data)
		metrics.Add(metrics.TCPWriteCalls, 1)
		if err == nil {
			metrics.Add(metrics.TCPWriteBytes, uint64(n))
			written = n
			remaining = len(data) - n
			if remaining == 0 && c.writeCompleteCallback != nil {
				c.loop.QueueInLoop(func() {
					c.writeCompleteCallback(c)
				})
			}
		} else if err != unix.EAGAIN {
			metrics.Add(metrics.TCPWriteFails, 1)
			log.Errorf("tcpconn %s: write error: %v", c.name, err)
			if err == unix.EPIPE || err == unix.ECONNRESET {
				faulted = true
			}
		}
	}

	if faulted {
		// The stream is broken; nothing queued will ever be delivered.
		c.outputBuffer.RetrieveAll()
		c.loop.QueueInLoop(c.forceCloseInLoop)
		return
	}
	if remaining == 0 {
		return
	}
	backlog := c.outputBuffer.ReadableBytes()
	if backlog < c.highWaterMark && backlog+remaining >= c.highWaterMark && c.highWaterMarkCallback != nil {
		metrics.Add(metrics.TCPHighWaterMarks, 1)
		queued := backlog + remaining
		c.loop.QueueInLoop(func() {
			c.highWaterMarkCallback(c, queued)
		})
	}
	c.outputBuffer.Append(data[written:])
	if !c.channel.IsWriting() {
		c.channel.EnableWriting()
	}
}

// Shutdown half-closes the connection: queued output still drains, then
// the peer observes FIN. Callable from any goroutine.
func (c *TCPConn) Shutdown() {
	if c.state.CAS(stateConnected, stateDisconnecting) {
		c.loop.RunInLoop(c.shutdownInLoop)
	}
}

func (c *TCPConn) shutdownInLoop() {
	c.loop.AssertInLoopThread()
	if c.channel.IsWriting() {
		// Output pending; handleWrite finishes the shutdown after the
		// last drain.
		return
	}
	if err := c.sock.ShutdownWrite(); err != nil {
		log.Errorf("tcpconn %s: %v", c.name, err)
	}
}

// ForceClose drops the connection without waiting for the output buffer.
// Callable from any goroutine.
func (c *TCPConn) ForceClose() {
	c.loop.RunInLoop(c.forceCloseInLoop)
}

func (c *TCPConn) forceCloseInLoop() {
	c.loop.AssertInLoopThread()
	s := c.state.Load()
	if s == stateConnected || s == stateDisconnecting {
		c.handleClose()
	}
}

// connectEstablished runs once on the owning loop after construction:
// Connecting -> Connected, read interest on, user notified.
func (c *TCPConn) connectEstablished() {
	c.loop.AssertInLoopThread()
	c.state.Store(stateConnected)
	c.channel.EnableReading()
	c.connectionCallback(c)
}

// connectDestroyed is the last act of a connection's life, run on the
// owning loop by the server/client removal path. When the close path has
// not already run (server shutdown), it performs the Disconnected
// transition itself.
func (c *TCPConn) connectDestroyed() {
	c.loop.AssertInLoopThread()
	if s := c.state.Swap(stateDisconnected); s == stateConnected || s == stateDisconnecting {
		// The close path has not run (server shutdown); perform the
		// transition here so the teardown callback still fires once.
		c.channel.DisableAll()
		c.connectionCallback(c)
	}
	c.channel.Remove()
	c.sock.Close()
	metrics.Add(metrics.TCPConnsClose, 1)
}

func (c *TCPConn) handleRead(receiveTime Timestamp) {
	c.loop.AssertInLoopThread()
	n, err := c.inputBuffer.ReadFd(c.sock.FD())
	if n > 0 {
		c.messageCallback(c, &c.inputBuffer, receiveTime)
		return
	}
	if n == 0 {
		c.handleClose()
		return
	}
	if err == unix.EAGAIN || err == unix.EINTR {
		return
	}
	log.Errorf("tcpconn %s: read error: %v", c.name, err)
	c.handleError()
}

func (c *TCPConn) handleWrite() {
	c.loop.AssertInLoopThread()
	if !c.channel.IsWriting() {
		log.Debugf("tcpconn %s: fd %d is down, no more writing", c.name, c.sock.FD())
		return
	}
	_, err := c.outputBuffer.WriteFd(c.sock.FD())
	if err != nil {
		if err == unix.EAGAIN {
			return
		}
		log.Errorf("tcpconn %s: write error: %v", c.name, err)
		if err == unix.EPIPE || err == unix.ECONNRESET {
			c.outputBuffer.RetrieveAll()
			c.handleClose()
		}
		return
	}
	if c.outputBuffer.ReadableBytes() > 0 {
		// Partial drain; wait for the next write readiness.
		return
	}
	c.channel.DisableWriting()
	if c.writeCompleteCallback != nil {
		c.loop.QueueInLoop(func() {
			c.writeCompleteCallback(c)
		})
	}
	if c.state.Load() == stateDisconnecting {
		c.shutdownInLoop()
	}
}

// handleClose performs the Disconnected transition exactly once, fires
// the user's connection callback with Connected()==false, then hands the
// connection to the server/client removal path.
func (c *TCPConn) handleClose() {
	c.loop.AssertInLoopThread()
	s := c.state.Load()
	if s != stateConnected && s != stateDisconnecting {
		return
	}
	c.state.Store(stateDisconnected)
	c.channel.DisableAll()
	c.connectionCallback(c)
	if c.closeCallback != nil {
		c.closeCallback(c)
	}
}

func (c *TCPConn) handleError() {
	errno, _ := c.sock.SocketError()
	log.Errorf("tcpconn %s: SO_ERROR = %v", c.name, errno)
}
