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
	"container/heap"

	"github.com/zluster/znet/metrics"
	"go.uber.org/atomic"
)

// TimerID identifies one scheduled timer for cancellation.
type TimerID int64

// timerIDCounter hands out ids; ids are allocated eagerly so RunAt can
// return one before the insert reaches the owning loop.
var timerIDCounter atomic.Int64

// timerEntry is one scheduled callback.
type timerEntry struct {
	callback   TimerCallback
	expiration Timestamp
	interval   float64
	repeat     bool
	id         TimerID
}

func (t *timerEntry) restart(now Timestamp) {
	t.expiration = now.Add(t.interval)
}

// timerHeap orders entries by expiration, ties broken by id so expiry
// order is deterministic.
type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].expiration != h[j].expiration {
		return h[i].expiration < h[j].expiration
	}
	return h[i].id < h[j].id
}

func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x interface{}) {
	*h = append(*h, x.(*timerEntry))
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// timerQueue is the min-heap of timers owned by one loop. Every method
// except addTimer/cancel (which marshal onto the loop) runs on the
// owning loop's goroutine, so no locking is needed.
type timerQueue struct {
	loop   *EventLoop
	timers timerHeap
	active map[TimerID]*timerEntry
}

func newTimerQueue(loop *EventLoop) *timerQueue {
	return &timerQueue{
		loop:   loop,
		active: make(map[TimerID]*timerEntry),
	}
}

// addTimer schedules cb at when; a positive interval makes it repeat.
// Safe to call from any goroutine.
func (q *timerQueue) addTimer(cb TimerCallback, when Timestamp, interval float64) TimerID {
	t := &timerEntry{
		callback:   cb,
		expiration: when,
		interval:   interval,
		repeat:     interval > 0,
		id:         TimerID(timerIDCounter.Inc()),
	}
	metrics.Add(metrics.TimersAdded, 1)
	q.loop.RunInLoop(func() {
		q.addTimerInLoop(t)
	})
	return t.id
}

// cancel drops the timer with the given id. Cancelling a timer whose
// callback is currently running does not affect the in-progress call,
// but a repeating timer cancelled from its own callback will not be
// rescheduled. Safe to call from any goroutine.
func (q *timerQueue) cancel(id TimerID) {
	q.loop.RunInLoop(func() {
		q.cancelInLoop(id)
	})
}

func (q *timerQueue) addTimerInLoop(t *timerEntry) {
	q.loop.AssertInLoopThread()
	heap.Push(&q.timers, t)
	q.active[t.id] = t
}

func (q *timerQueue) cancelInLoop(id TimerID) {
	q.loop.AssertInLoopThread()
	if _, ok := q.active[id]; !ok {
		return
	}
	delete(q.active, id)
	metrics.Add(metrics.TimersCancelled, 1)
	for i, t := range q.timers {
		if t.id == id {
			heap.Remove(&q.timers, i)
			return
		}
	}
}

// handleExpired pops and fires every timer due at now, re-inserting
// repeating timers at now+interval.
func (q *timerQueue) handleExpired(now Timestamp) {
	q.loop.AssertInLoopThread()
	for len(q.timers) > 0 && !q.timers[0].expiration.After(now) {
		t := heap.Pop(&q.timers).(*timerEntry)
		if _, ok := q.active[t.id]; !ok {
			continue
		}
		metrics.Add(metrics.TimersFired, 1)
		t.callback()
		// The callback may have cancelled its own timer; only a still
		// active repeating timer is rescheduled.
		if _, ok := q.active[t.id]; !ok {
			continue
		}
		if t.repeat {
			t.restart(now)
			heap.Push(&q.timers, t)
		} else {
			delete(q.active, t.id)
		}
	}
}

// nextExpirationMs returns the delay in milliseconds until the earliest
// timer, and whether one exists. A due timer yields zero.
func (q *timerQueue) nextExpirationMs(now Timestamp) (int, bool) {
	if len(q.timers) == 0 {
		return 0, false
	}
	deltaUs := int64(q.timers[0].expiration - now)
	if deltaUs <= 0 {
		return 0, true
	}
	// Round up so the loop never wakes a hair before the expiration.
	return int((deltaUs + 999) / 1000), true
}
