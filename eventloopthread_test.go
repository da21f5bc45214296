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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLoopThreadStartStop(t *testing.T) {
	inited := make(chan *EventLoop, 1)
	th := NewEventLoopThread(func(loop *EventLoop) {
		inited <- loop
	}, "worker")
	loop := th.StartLoop()
	require.NotNil(t, loop)
	assert.Equal(t, loop, <-inited)

	// The loop is alive and accepts work.
	done := make(chan struct{})
	loop.QueueInLoop(func() {
		close(done)
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker loop did not run queued task")
	}

	th.StopLoop()
	// Stopping twice is harmless.
	th.StopLoop()
}

func TestEventLoopThreadStartLoopIdempotent(t *testing.T) {
	th := NewEventLoopThread(nil, "worker")
	loop := th.StartLoop()
	assert.Equal(t, loop, th.StartLoop())
	th.StopLoop()
}

func TestThreadPoolRoundRobin(t *testing.T) {
	baseLoop := NewEventLoop()
	pool := NewEventLoopThreadPool(baseLoop, "pool")
	pool.SetThreadNum(3)
	pool.Start(nil)

	counts := make(map[*EventLoop]int)
	var sequence []*EventLoop
	for i := 0; i < 9; i++ {
		loop := pool.GetNextLoop()
		assert.NotEqual(t, baseLoop, loop)
		counts[loop]++
		sequence = append(sequence, loop)
	}
	require.Len(t, counts, 3)
	for _, c := range counts {
		assert.Equal(t, 3, c)
	}
	// The cycle repeats every three picks.
	for i := 3; i < 9; i++ {
		assert.Equal(t, sequence[i-3], sequence[i])
	}

	pool.Stop()
	baseLoop.Close()
}

func TestThreadPoolEmptyFallsBackToBaseLoop(t *testing.T) {
	baseLoop := NewEventLoop()
	pool := NewEventLoopThreadPool(baseLoop, "pool")
	pool.Start(nil)

	for i := 0; i < 3; i++ {
		assert.Equal(t, baseLoop, pool.GetNextLoop())
	}
	assert.Equal(t, []*EventLoop{baseLoop}, pool.GetAllLoops())
	assert.Equal(t, baseLoop, pool.GetLoopForHash(12345))
	baseLoop.Close()
}

func TestThreadPoolHashStable(t *testing.T) {
	baseLoop := NewEventLoop()
	pool := NewEventLoopThreadPool(baseLoop, "pool")
	pool.SetThreadNum(2)
	pool.Start(nil)

	first := pool.GetLoopForHash(42)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, pool.GetLoopForHash(42))
	}

	pool.Stop()
	baseLoop.Close()
}
