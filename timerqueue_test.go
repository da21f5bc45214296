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

	"github.com/stretchr/testify/assert"
)

func TestTimerTieBreakDeterministic(t *testing.T) {
	loop := NewEventLoop()
	when := Now().Add(0.05)
	var order []int
	loop.RunAt(when, func() { order = append(order, 1) })
	loop.RunAt(when, func() { order = append(order, 2) })
	loop.RunAt(when, func() { order = append(order, 3) })
	loop.RunAfter(0.1, loop.Quit)
	loop.Loop()
	loop.Close()
	// Equal expirations fire in scheduling order.
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestTimerCancelFromOwnCallback(t *testing.T) {
	loop := NewEventLoop()
	count := 0
	var id TimerID
	id = loop.RunEvery(0.02, func() {
		count++
		loop.Cancel(id)
	})
	loop.RunAfter(0.15, loop.Quit)
	loop.Loop()
	loop.Close()
	// The in-progress call completes; the repeat is never re-armed.
	assert.Equal(t, 1, count)
}

func TestTimerCancelUnknown(t *testing.T) {
	loop := NewEventLoop()
	assert.NotPanics(t, func() {
		loop.Cancel(TimerID(1 << 40))
	})
	loop.RunAfter(0.01, loop.Quit)
	loop.Loop()
	loop.Close()
}

func TestTimerCancelTwice(t *testing.T) {
	loop := NewEventLoop()
	fired := false
	id := loop.RunAfter(0.05, func() { fired = true })
	loop.Cancel(id)
	loop.Cancel(id)
	loop.RunAfter(0.1, loop.Quit)
	loop.Loop()
	loop.Close()
	assert.False(t, fired)
}
