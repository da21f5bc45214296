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
	"strings"

	"github.com/zluster/znet/log"
	"golang.org/x/sys/unix"
)

// Event interest masks. Read also covers urgent data; the poller always
// reports hangup and error regardless of interest.
const (
	noneEvent  uint32 = 0
	readEvent  uint32 = unix.EPOLLIN | unix.EPOLLPRI
	writeEvent uint32 = unix.EPOLLOUT
)

// Channel registry states used by the poller.
const (
	channelNew = iota
	channelAdded
	channelDeleted
)

// Channel binds one file descriptor to one loop and translates readiness
// bits into typed callbacks. It does not own the descriptor; the
// component that created the fd does. A Channel must only be touched
// from its owning loop's goroutine.
type Channel struct {
	loop    *EventLoop
	fd      int
	events  uint32
	revents uint32
	state   int

	handling bool

	readCallback  func(receiveTime Timestamp)
	writeCallback func()
	closeCallback func()
	errorCallback func()
}

// NewChannel binds fd to loop. The channel starts with no interest and
// is not yet known to the poller.
func NewChannel(loop *EventLoop, fd int) *Channel {
	return &Channel{
		loop:  loop,
		fd:    fd,
		state: channelNew,
	}
}

// FD returns the bound descriptor.
func (c *Channel) FD() int {
	return c.fd
}

// OwnerLoop returns the loop this channel belongs to.
func (c *Channel) OwnerLoop() *EventLoop {
	return c.loop
}

// SetReadCallback installs the read-readiness handler.
func (c *Channel) SetReadCallback(cb func(receiveTime Timestamp)) {
	c.readCallback = cb
}

// SetWriteCallback installs the write-readiness handler.
func (c *Channel) SetWriteCallback(cb func()) {
	c.writeCallback = cb
}

// SetCloseCallback installs the hangup handler.
func (c *Channel) SetCloseCallback(cb func()) {
	c.closeCallback = cb
}

// SetErrorCallback installs the error handler.
func (c *Channel) SetErrorCallback(cb func()) {
	c.errorCallback = cb
}

// EnableReading adds read interest.
func (c *Channel) EnableReading() {
	c.events |= readEvent
	c.update()
}

// DisableReading drops read interest.
func (c *Channel) DisableReading() {
	c.events &^= readEvent
	c.update()
}

// EnableWriting adds write interest.
func (c *Channel) EnableWriting() {
	c.events |= writeEvent
	c.update()
}

// DisableWriting drops write interest.
func (c *Channel) DisableWriting() {
	c.events &^= writeEvent
	c.update()
}

// DisableAll drops all interest.
func (c *Channel) DisableAll() {
	c.events = noneEvent
	c.update()
}

// IsWriting reports whether write interest is set.
func (c *Channel) IsWriting() bool {
	return c.events&writeEvent != 0
}

// IsReading reports whether read interest is set.
func (c *Channel) IsReading() bool {
	return c.events&readEvent != 0
}

// IsNoneEvent reports whether the channel has no interest at all.
func (c *Channel) IsNoneEvent() bool {
	return c.events == noneEvent
}

// Remove takes the channel out of the poller. The channel must have no
// interest bits left.
func (c *Channel) Remove() {
	c.loop.removeChannel(c)
}

func (c *Channel) update() {
	c.loop.updateChannel(c)
}

func (c *Channel) setRevents(revents uint32) {
	c.revents = revents
}

// handleEvent dispatches readiness to exactly one callback, in fixed
// priority: hangup without pending data, then error, then readable, then
// writable. Firing a single branch per iteration keeps close and error
// from racing reads.
func (c *Channel) handleEvent(receiveTime Timestamp) {
	c.handling = true
	log.Debugf("channel: %s", c.reventsString())
	switch {
	case c.revents&unix.EPOLLHUP != 0 && c.revents&unix.EPOLLIN == 0:
		if c.closeCallback != nil {
			c.closeCallback()
		}
	case c.revents&unix.EPOLLERR != 0:
		if c.errorCallback != nil {
			c.errorCallback()
		}
	case c.revents&(unix.EPOLLIN|unix.EPOLLPRI) != 0:
		if c.readCallback != nil {
			c.readCallback(receiveTime)
		}
	case c.revents&unix.EPOLLOUT != 0:
		if c.writeCallback != nil {
			c.writeCallback()
		}
	}
	c.handling = false
}

// reventsString renders the pending readiness bits for diagnostics.
func (c *Channel) reventsString() string {
	var parts []string
	for _, f := range []struct {
		bit  uint32
		name string
	}{
		{unix.EPOLLIN, "IN"},
		{unix.EPOLLPRI, "PRI"},
		{unix.EPOLLOUT, "OUT"},
		{unix.EPOLLHUP, "HUP"},
		{unix.EPOLLRDHUP, "RDHUP"},
		{unix.EPOLLERR, "ERR"},
	} {
		if c.revents&f.bit != 0 {
			parts = append(parts, f.name)
		}
	}
	return fmt.Sprintf("%d: %s", c.fd, strings.Join(parts, " "))
}
