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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zluster/znet/metrics"
)

// startEchoServer runs an echoing TCPServer on its own base loop and
// returns it with its listen address.
func startEchoServer(t *testing.T, name string) (*TCPServer, InetAddress) {
	t.Helper()
	baseThread := NewEventLoopThread(nil, name+"-base")
	baseLoop := baseThread.StartLoop()
	t.Cleanup(baseThread.StopLoop)

	server, err := NewTCPServer(baseLoop, NewInetAddress("127.0.0.1", 0), name, false)
	require.Nil(t, err)
	server.SetMessageCallback(func(conn *TCPConn, buf *Buffer, _ Timestamp) {
		conn.SendString(buf.RetrieveAllAsString())
	})
	server.Start()
	t.Cleanup(server.Stop)
	addr := server.ListenAddr()

	// Wait for the acceptor's listen to run on the base loop.
	c := dialWithRetry(t, addr.String())
	c.Close()
	return server, addr
}

func TestClientEcho(t *testing.T) {
	_, addr := startEchoServer(t, "cli-echo")

	clientThread := NewEventLoopThread(nil, "cli-echo-loop")
	clientLoop := clientThread.StartLoop()
	defer clientThread.StopLoop()

	client := NewTCPClient(clientLoop, addr, "cli-echo")
	connEvents := make(chan bool, 4)
	messages := make(chan string, 4)
	client.SetConnectionCallback(func(conn *TCPConn) {
		assert.True(t, conn.OwnerLoop().IsInLoopThread())
		connEvents <- conn.Connected()
		if conn.Connected() {
			conn.Send([]byte("ping"))
		}
	})
	client.SetMessageCallback(func(conn *TCPConn, buf *Buffer, _ Timestamp) {
		messages <- buf.RetrieveAllAsString()
	})
	client.Connect()

	waitConnEvent(t, connEvents, true)
	select {
	case msg := <-messages:
		assert.Equal(t, "ping", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("echo reply never arrived")
	}

	client.Disconnect()
	waitConnEvent(t, connEvents, false)
	assert.Eventually(t, func() bool {
		return client.Connection() == nil
	}, time.Second, 10*time.Millisecond)
}

func TestClientCrossThreadSend(t *testing.T) {
	_, addr := startEchoServer(t, "cli-cross")

	clientThread := NewEventLoopThread(nil, "cli-cross-loop")
	clientLoop := clientThread.StartLoop()
	defer clientThread.StopLoop()

	client := NewTCPClient(clientLoop, addr, "cli-cross")
	connected := make(chan struct{}, 1)
	messages := make(chan string, 4)
	client.SetConnectionCallback(func(conn *TCPConn) {
		if conn.Connected() {
			connected <- struct{}{}
		}
	})
	client.SetMessageCallback(func(conn *TCPConn, buf *Buffer, _ Timestamp) {
		messages <- buf.RetrieveAllAsString()
	})
	client.Connect()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("client never connected")
	}
	conn := client.Connection()
	require.NotNil(t, conn)

	// Send from a foreign goroutine; the write marshals onto the loop.
	conn.Send([]byte("test"))
	select {
	case msg := <-messages:
		assert.Equal(t, "test", msg)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("cross-thread send got no reply within 500ms")
	}

	client.Disconnect()
}

func TestClientConnectRefusedRetries(t *testing.T) {
	// Grab a port with nothing listening behind it.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)
	addr, err := ResolveInetAddress(ln.Addr().String())
	require.Nil(t, err)
	ln.Close()

	clientThread := NewEventLoopThread(nil, "cli-refused-loop")
	clientLoop := clientThread.StartLoop()
	defer clientThread.StopLoop()

	retriesBefore := metrics.Get(metrics.ConnectRetries)
	client := NewTCPClient(clientLoop, addr, "cli-refused")
	client.Connect()

	assert.Eventually(t, func() bool {
		return metrics.Get(metrics.ConnectRetries) > retriesBefore
	}, 2*time.Second, 20*time.Millisecond)
	assert.Nil(t, client.Connection())
	client.Stop()
}

func TestClientRetryAfterServerClose(t *testing.T) {
	baseThread := NewEventLoopThread(nil, "kick-base")
	baseLoop := baseThread.StartLoop()
	defer baseThread.StopLoop()

	// A server that hangs up on every connection right away.
	server, err := NewTCPServer(baseLoop, NewInetAddress("127.0.0.1", 0), "kick", false)
	require.Nil(t, err)
	server.SetConnectionCallback(func(conn *TCPConn) {
		if conn.Connected() {
			conn.Shutdown()
		}
	})
	server.Start()
	defer server.Stop()
	probe := dialWithRetry(t, server.ListenAddr().String())
	probe.Close()

	clientThread := NewEventLoopThread(nil, "kick-loop")
	clientLoop := clientThread.StartLoop()
	defer clientThread.StopLoop()

	client := NewTCPClient(clientLoop, server.ListenAddr(), "kick-cli")
	client.EnableRetry()
	connects := make(chan struct{}, 8)
	client.SetConnectionCallback(func(conn *TCPConn) {
		if conn.Connected() {
			select {
			case connects <- struct{}{}:
			default:
			}
		}
	})
	client.Connect()

	for i := 0; i < 2; i++ {
		select {
		case <-connects:
		case <-time.After(3 * time.Second):
			t.Fatalf("expected reconnect %d never happened", i+1)
		}
	}
	client.Stop()
	client.Disconnect()
}

func TestClientHalfClose(t *testing.T) {
	_, addr := startEchoServer(t, "cli-half")

	clientThread := NewEventLoopThread(nil, "cli-half-loop")
	clientLoop := clientThread.StartLoop()
	defer clientThread.StopLoop()

	client := NewTCPClient(clientLoop, addr, "cli-half")
	connEvents := make(chan bool, 4)
	messages := make(chan string, 4)
	client.SetConnectionCallback(func(conn *TCPConn) {
		connEvents <- conn.Connected()
	})
	client.SetMessageCallback(func(conn *TCPConn, buf *Buffer, _ Timestamp) {
		messages <- buf.RetrieveAllAsString()
	})
	client.Connect()
	waitConnEvent(t, connEvents, true)

	conn := client.Connection()
	require.NotNil(t, conn)
	conn.Send([]byte("bye"))
	// Half-close right behind the send: the FIN must trail the queued
	// bytes, so the echo still comes back on the open read side.
	client.Disconnect()

	select {
	case msg := <-messages:
		assert.Equal(t, "bye", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no echo after half-close")
	}
	// The server sees EOF after echoing and closes; the client tears
	// down fully.
	waitConnEvent(t, connEvents, false)
}
