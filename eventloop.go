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
	"encoding/binary"
	"os"
	"sync"

	"github.com/zluster/znet/internal/goid"
	"github.com/zluster/znet/log"
	"github.com/zluster/znet/metrics"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

// pollTimeMs caps how long a loop blocks in epoll_wait; pending timers
// shorten the cap.
const pollTimeMs = 10 * 1000

// EventLoop is a per-goroutine reactor: poll, dispatch readiness, fire
// due timers, drain injected tasks. Exactly one goroutine may run Loop,
// and it must be the goroutine that created the EventLoop; all
// loop-owned state is only touched from that goroutine. Foreign
// goroutines hand work over via RunInLoop/QueueInLoop, which wake the
// loop through an eventfd.
type EventLoop struct {
	threadID   int64
	poller     *Poller
	timerQueue *timerQueue

	activeChannels []*Channel
	pollReturnTime Timestamp

	wakeupFD      int
	wakeupChannel *Channel

	mu           sync.Mutex
	pendingTasks []func()

	looping        atomic.Bool
	quitFlag       atomic.Bool
	callingPending atomic.Bool
}

// NewEventLoop creates a loop owned by the calling goroutine. Failure to
// acquire the epoll or eventfd descriptors is fatal: it means resource
// exhaustion or misconfiguration the runtime cannot recover from.
func NewEventLoop() *EventLoop {
	l := &EventLoop{
		threadID: goid.Current(),
	}
	poller, err := newPoller(l)
	if err != nil {
		log.Fatalf("eventloop: %v", err)
	}
	l.poller = poller
	l.timerQueue = newTimerQueue(l)

	// EFD_CLOEXEC for consistency with the Go runtime.
	wakeupFD, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		log.Fatalf("eventloop: %v", os.NewSyscallError("eventfd", err))
	}
	l.wakeupFD = wakeupFD
	l.wakeupChannel = NewChannel(l, wakeupFD)
	l.wakeupChannel.SetReadCallback(l.handleWakeup)
	l.wakeupChannel.EnableReading()
	return l
}

// Loop runs the reactor until Quit. It must be called from the loop's
// owning goroutine and returns after the quit flag is observed at the
// top of an iteration.
func (l *EventLoop) Loop() {
	l.AssertInLoopThread()
	if !l.looping.CAS(false, true) {
		log.Fatalf("eventloop: Loop called twice")
	}
	log.Debugf("eventloop: goroutine %d start looping", l.threadID)
	for !l.quitFlag.Load() {
		l.activeChannels = l.activeChannels[:0]
		l.pollReturnTime = l.poller.poll(l.pollTimeout(), &l.activeChannels)
		for _, ch := range l.activeChannels {
			ch.handleEvent(l.pollReturnTime)
		}
		l.timerQueue.handleExpired(Now())
		l.doPendingTasks()
	}
	log.Debugf("eventloop: goroutine %d stop looping", l.threadID)
	l.looping.Store(false)
}

// pollTimeout caps the epoll wait by the earliest pending timer so
// timers fire on schedule without a timerfd.
func (l *EventLoop) pollTimeout() int {
	timeout := pollTimeMs
	if delay, ok := l.timerQueue.nextExpirationMs(Now()); ok && delay < timeout {
		timeout = delay
	}
	return timeout
}

// Quit asks the loop to exit at the top of its next iteration. Called
// from a foreign goroutine it also wakes the loop out of epoll_wait.
func (l *EventLoop) Quit() {
	l.quitFlag.Store(true)
	if !l.IsInLoopThread() {
		l.wakeup()
	}
}

// RunInLoop runs task on the loop's goroutine: inline when the caller
// already is that goroutine, otherwise through the pending queue.
func (l *EventLoop) RunInLoop(task func()) {
	if l.IsInLoopThread() {
		task()
		return
	}
	l.QueueInLoop(task)
}

// QueueInLoop appends task to the pending queue; it runs at the loop's
// next drain point, in FIFO order per submitting goroutine. The loop is
// woken when the caller is foreign, or when the loop is currently
// draining so a task queued during the drain is seen without waiting a
// full poll timeout.
func (l *EventLoop) QueueInLoop(task func()) {
	l.mu.Lock()
	l.pendingTasks = append(l.pendingTasks, task)
	l.mu.Unlock()
	metrics.Add(metrics.TasksQueued, 1)
	if !l.IsInLoopThread() || l.callingPending.Load() {
		l.wakeup()
	}
}

// RunAt schedules cb at the instant when.
func (l *EventLoop) RunAt(when Timestamp, cb TimerCallback) TimerID {
	return l.timerQueue.addTimer(cb, when, 0)
}

// RunAfter schedules cb delay seconds from now.
func (l *EventLoop) RunAfter(delay float64, cb TimerCallback) TimerID {
	return l.RunAt(Now().Add(delay), cb)
}

// RunEvery schedules cb every interval seconds, first firing one
// interval from now.
func (l *EventLoop) RunEvery(interval float64, cb TimerCallback) TimerID {
	return l.timerQueue.addTimer(cb, Now().Add(interval), interval)
}

// Cancel drops a scheduled timer. Cancelling a timer whose callback is
// in progress does not affect that call.
func (l *EventLoop) Cancel(id TimerID) {
	l.timerQueue.cancel(id)
}

// IsInLoopThread reports whether the caller runs on the loop goroutine.
func (l *EventLoop) IsInLoopThread() bool {
	return goid.Current() == l.threadID
}

// AssertInLoopThread aborts when called off the loop goroutine. Thread
// misuse is a programmer error the runtime refuses to mask.
func (l *EventLoop) AssertInLoopThread() {
	if !l.IsInLoopThread() {
		log.Fatalf("eventloop: owned by goroutine %d, called from goroutine %d",
			l.threadID, goid.Current())
	}
}

// PollReturnTime returns the instant the last poll returned.
func (l *EventLoop) PollReturnTime() Timestamp {
	return l.pollReturnTime
}

func (l *EventLoop) updateChannel(ch *Channel) {
	l.AssertInLoopThread()
	l.poller.updateChannel(ch)
}

func (l *EventLoop) removeChannel(ch *Channel) {
	l.AssertInLoopThread()
	l.poller.removeChannel(ch)
}

func (l *EventLoop) hasChannel(ch *Channel) bool {
	l.AssertInLoopThread()
	return l.poller.hasChannel(ch)
}

// wakeup makes a blocked epoll_wait return by bumping the eventfd.
func (l *EventLoop) wakeup() {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	metrics.Add(metrics.WakeupCalls, 1)
	if _, err := unix.Write(l.wakeupFD, buf[:]); err != nil && err != unix.EAGAIN {
		log.Errorf("eventloop: wakeup write error: %v", err)
	}
}

// handleWakeup drains the eventfd counter so the descriptor goes quiet
// until the next wakeup.
func (l *EventLoop) handleWakeup(Timestamp) {
	var buf [8]byte
	if _, err := unix.Read(l.wakeupFD, buf[:]); err != nil && err != unix.EAGAIN {
		log.Errorf("eventloop: wakeup read error: %v", err)
	}
}

// doPendingTasks swaps the queue out under the lock and runs the tasks
// outside it, so a task can queue more work without deadlocking.
func (l *EventLoop) doPendingTasks() {
	var tasks []func()
	l.callingPending.Store(true)
	l.mu.Lock()
	tasks, l.pendingTasks = l.pendingTasks, nil
	l.mu.Unlock()
	for _, task := range tasks {
		task()
	}
	metrics.Add(metrics.TasksRun, uint64(len(tasks)))
	l.callingPending.Store(false)
}

// Close releases the loop's descriptors. Only call after Loop returned.
func (l *EventLoop) Close() error {
	l.wakeupChannel.DisableAll()
	l.wakeupChannel.Remove()
	if err := unix.Close(l.wakeupFD); err != nil {
		return os.NewSyscallError("close", err)
	}
	return l.poller.close()
}
