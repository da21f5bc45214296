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
	"runtime"
	"sync"

	"go.uber.org/atomic"
)

// ThreadInitCallback runs on a freshly started loop goroutine before the
// loop begins polling.
type ThreadInitCallback func(loop *EventLoop)

// EventLoopThread owns one worker goroutine that is locked to an OS
// thread and runs one EventLoop for its whole life.
type EventLoopThread struct {
	mu       sync.Mutex
	cond     *sync.Cond
	loop     *EventLoop
	done     chan struct{}
	initCb   ThreadInitCallback
	name     string
	started  bool
	stopping atomic.Bool
}

// NewEventLoopThread creates a thread that will run initCb on its loop
// before polling starts. The thread does not run until StartLoop.
func NewEventLoopThread(initCb ThreadInitCallback, name string) *EventLoopThread {
	t := &EventLoopThread{
		initCb: initCb,
		name:   name,
		done:   make(chan struct{}),
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// StartLoop spawns the worker goroutine and blocks until it has created
// its loop, then returns the loop. The worker may not have entered Loop
// yet; tasks queued before that run once it does.
func (t *EventLoopThread) StartLoop() *EventLoop {
	t.mu.Lock()
	if t.started {
		loop := t.loop
		t.mu.Unlock()
		return loop
	}
	t.started = true
	t.mu.Unlock()

	go t.threadFunc()

	t.mu.Lock()
	for t.loop == nil {
		t.cond.Wait()
	}
	loop := t.loop
	t.mu.Unlock()
	return loop
}

// StopLoop quits the loop and waits for the worker goroutine to exit.
func (t *EventLoopThread) StopLoop() {
	if !t.stopping.CAS(false, true) {
		return
	}
	t.mu.Lock()
	loop := t.loop
	t.mu.Unlock()
	if loop != nil {
		loop.Quit()
		<-t.done
	}
}

func (t *EventLoopThread) threadFunc() {
	// One loop per OS thread: the loop goroutine stays pinned so the
	// kernel sees a stable thread behind each epoll instance.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	loop := NewEventLoop()
	if t.initCb != nil {
		t.initCb(loop)
	}

	t.mu.Lock()
	t.loop = loop
	t.cond.Signal()
	t.mu.Unlock()

	loop.Loop()
	loop.Close()
	close(t.done)
}

// EventLoopThreadPool spawns worker loops for a base loop and deals
// accepted connections out to them round-robin.
type EventLoopThreadPool struct {
	baseLoop   *EventLoop
	name       string
	threads    []*EventLoopThread
	loops      []*EventLoop
	numThreads int
	next       int
	started    bool
}

// NewEventLoopThreadPool creates an empty pool bound to baseLoop. With
// zero threads every connection runs on the base loop.
func NewEventLoopThreadPool(baseLoop *EventLoop, name string) *EventLoopThreadPool {
	return &EventLoopThreadPool{
		baseLoop: baseLoop,
		name:     name,
	}
}

// SetThreadNum sets the number of worker loops to spawn at Start.
func (p *EventLoopThreadPool) SetThreadNum(n int) {
	p.numThreads = n
}

// Start spawns the worker loops. Must run on the base loop's goroutine.
func (p *EventLoopThreadPool) Start(initCb ThreadInitCallback) {
	p.baseLoop.AssertInLoopThread()
	if p.started {
		return
	}
	p.started = true
	for i := 0; i < p.numThreads; i++ {
		t := NewEventLoopThread(initCb, fmt.Sprintf("%s%d", p.name, i))
		p.threads = append(p.threads, t)
		p.loops = append(p.loops, t.StartLoop())
	}
	if p.numThreads == 0 && initCb != nil {
		initCb(p.baseLoop)
	}
}

// Stop quits every worker loop and waits for them.
func (p *EventLoopThreadPool) Stop() {
	for _, t := range p.threads {
		t.StopLoop()
	}
}

// GetNextLoop returns the next worker loop round-robin, or the base loop
// when the pool is empty. Must run on the base loop's goroutine.
func (p *EventLoopThreadPool) GetNextLoop() *EventLoop {
	p.baseLoop.AssertInLoopThread()
	if len(p.loops) == 0 {
		return p.baseLoop
	}
	loop := p.loops[p.next]
	p.next++
	if p.next >= len(p.loops) {
		p.next = 0
	}
	return loop
}

// GetLoopForHash returns a worker loop picked by hash, so one session
// key always lands on the same loop.
func (p *EventLoopThreadPool) GetLoopForHash(hashCode uint64) *EventLoop {
	p.baseLoop.AssertInLoopThread()
	if len(p.loops) == 0 {
		return p.baseLoop
	}
	return p.loops[hashCode%uint64(len(p.loops))]
}

// GetAllLoops returns the worker loops, or the base loop when none.
func (p *EventLoopThreadPool) GetAllLoops() []*EventLoop {
	p.baseLoop.AssertInLoopThread()
	if len(p.loops) == 0 {
		return []*EventLoop{p.baseLoop}
	}
	loops := make([]*EventLoop, len(p.loops))
	copy(loops, p.loops)
	return loops
}
