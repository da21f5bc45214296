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

// Package znet provides a reactor-pattern TCP networking core for Linux.
//
// The runtime multiplexes many TCP connections across a fixed pool of
// event loops, one loop per OS thread. Every loop runs a poll/dispatch
// cycle over an epoll instance, fires its timers, and drains tasks
// injected from other goroutines through an eventfd wakeup. All I/O and
// all user callbacks for a connection happen on the loop that owns it.
//
// TCPServer binds an Acceptor to a base loop and distributes accepted
// connections round-robin over a loop pool. TCPClient drives a Connector
// with exponential retry and owns at most one live connection.
package znet

import "github.com/zluster/znet/log"

// ConnectionCallback fires when a connection is established and again
// when it is torn down; check conn.Connected() to tell the two apart.
type ConnectionCallback func(conn *TCPConn)

// MessageCallback fires when data has been read into the connection's
// input buffer. The buffer is owned by the connection; consume what you
// need and leave the rest for the next callback.
type MessageCallback func(conn *TCPConn, buf *Buffer, receiveTime Timestamp)

// WriteCompleteCallback fires when the output buffer has fully drained.
type WriteCompleteCallback func(conn *TCPConn)

// HighWaterMarkCallback fires when queued output crosses the connection's
// high water mark, with the size that crossed it.
type HighWaterMarkCallback func(conn *TCPConn, queued int)

// CloseCallback fires on the close path of a connection. It is wired by
// TCPServer/TCPClient to run their connection-removal logic.
type CloseCallback func(conn *TCPConn)

// TimerCallback fires when a timer expires.
type TimerCallback func()

func defaultConnectionCallback(conn *TCPConn) {
	state := "DOWN"
	if conn.Connected() {
		state = "UP"
	}
	log.Debugf("%s -> %s is %s", conn.LocalAddr().String(), conn.PeerAddr().String(), state)
}

func defaultMessageCallback(conn *TCPConn, buf *Buffer, receiveTime Timestamp) {
	buf.RetrieveAll()
	log.Debugf("%s -> %s discarded message at %s",
		conn.LocalAddr().String(), conn.PeerAddr().String(), receiveTime.String())
}
