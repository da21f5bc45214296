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
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestChannelInterestBits(t *testing.T) {
	loop := NewEventLoop()
	r, _ := newTestSocketpair(t)
	ch := NewChannel(loop, r)
	assert.True(t, ch.IsNoneEvent())
	assert.False(t, ch.IsReading())
	assert.False(t, ch.IsWriting())

	ch.EnableReading()
	assert.True(t, ch.IsReading())
	assert.False(t, ch.IsNoneEvent())
	assert.True(t, loop.hasChannel(ch))

	ch.EnableWriting()
	assert.True(t, ch.IsWriting())

	ch.DisableWriting()
	assert.False(t, ch.IsWriting())
	assert.True(t, ch.IsReading())

	ch.DisableAll()
	assert.True(t, ch.IsNoneEvent())
	ch.Remove()

	loop.RunAfter(0.01, loop.Quit)
	loop.Loop()
	loop.Close()
}

func TestChannelReadDispatch(t *testing.T) {
	loop := NewEventLoop()
	r, w := newTestSocketpair(t)

	got := make([]byte, 0, 16)
	var receiveTime Timestamp
	ch := NewChannel(loop, r)
	ch.SetReadCallback(func(ts Timestamp) {
		receiveTime = ts
		buf := make([]byte, 16)
		n, err := unix.Read(r, buf)
		require.Nil(t, err)
		got = append(got, buf[:n]...)
		ch.DisableAll()
		ch.Remove()
		loop.Quit()
	})
	ch.EnableReading()

	go func() {
		unix.Write(w, []byte("ready"))
	}()
	loop.RunAfter(1, loop.Quit) // safety net
	loop.Loop()
	loop.Close()

	assert.Equal(t, "ready", string(got))
	assert.True(t, receiveTime.IsValid())
}

func TestChannelCloseDispatch(t *testing.T) {
	loop := NewEventLoop()
	r, w := newTestSocketpair(t)

	events := make([]string, 0, 4)
	ch := NewChannel(loop, r)
	ch.SetReadCallback(func(Timestamp) {
		buf := make([]byte, 16)
		n, _ := unix.Read(r, buf)
		if n == 0 {
			events = append(events, "eof")
			ch.DisableAll()
			ch.Remove()
			loop.Quit()
			return
		}
		events = append(events, "read")
	})
	ch.SetCloseCallback(func() {
		events = append(events, "close")
		ch.DisableAll()
		ch.Remove()
		loop.Quit()
	})
	ch.EnableReading()

	go func() {
		unix.Close(w)
	}()
	loop.RunAfter(1, loop.Quit) // safety net
	loop.Loop()
	loop.Close()

	// A closed peer arrives as HUP (close path) or as a zero read,
	// depending on whether data was in flight; exactly one fires.
	require.Len(t, events, 1)
	assert.Contains(t, []string{"close", "eof"}, events[0])
}
