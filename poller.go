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

//go:build linux
// +build linux

package znet

import (
	"os"

	"github.com/zluster/znet/log"
	"github.com/zluster/znet/metrics"
	"golang.org/x/sys/unix"
)

const initialEventListSize = 16

// Poller is the epoll-backed readiness demultiplexer of one loop. It
// tracks the channels registered on its loop, keyed by descriptor, and
// reports which became ready at each poll.
type Poller struct {
	loop     *EventLoop
	epollFD  int
	events   []unix.EpollEvent
	channels map[int]*Channel
}

func newPoller(loop *EventLoop) (*Poller, error) {
	// EPOLL_CLOEXEC for consistency with the Go runtime's own poller.
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	return &Poller{
		loop:     loop,
		epollFD:  fd,
		events:   make([]unix.EpollEvent, initialEventListSize),
		channels: make(map[int]*Channel),
	}, nil
}

// poll waits up to timeoutMs for readiness, appends every ready channel
// to active with its revents set, and returns the instant after the
// wait. EINTR is retried via the caller's next iteration; every other
// error is logged and treated as transient.
func (p *Poller) poll(timeoutMs int, active *[]*Channel) Timestamp {
	n, err := unix.EpollWait(p.epollFD, p.events, timeoutMs)
	now := Now()
	metrics.Add(metrics.EpollWait, 1)
	if err != nil {
		if err != unix.EINTR {
			metrics.Add(metrics.EpollWaitErrors, 1)
			log.Errorf("poller: epoll_wait error: %v", err)
		}
		return now
	}
	if n == 0 {
		return now
	}
	metrics.Add(metrics.EpollEvents, uint64(n))
	p.fillActiveChannels(n, active)
	if n == len(p.events) {
		p.events = make([]unix.EpollEvent, 2*n)
	}
	return now
}

func (p *Poller) fillActiveChannels(n int, active *[]*Channel) {
	for i := 0; i < n; i++ {
		ch, ok := p.channels[int(p.events[i].Fd)]
		if !ok {
			// No channel is registered for this fd any more; its
			// readiness is stale.
			continue
		}
		ch.setRevents(p.events[i].Events)
		*active = append(*active, ch)
	}
}

// updateChannel registers the channel's current interest with epoll:
// ADD for channels not in the epoll set, MOD for registered ones, and
// DEL when a registered channel has no interest left.
func (p *Poller) updateChannel(ch *Channel) {
	switch ch.state {
	case channelNew, channelDeleted:
		if ch.state == channelNew {
			p.channels[ch.fd] = ch
		}
		ch.state = channelAdded
		p.update(unix.EPOLL_CTL_ADD, ch)
	case channelAdded:
		if ch.IsNoneEvent() {
			p.update(unix.EPOLL_CTL_DEL, ch)
			ch.state = channelDeleted
			return
		}
		p.update(unix.EPOLL_CTL_MOD, ch)
	}
}

// removeChannel erases the channel from the poller entirely. The channel
// must have no interest bits.
func (p *Poller) removeChannel(ch *Channel) {
	if !ch.IsNoneEvent() {
		log.Errorf("poller: removing channel fd %d with live interest", ch.fd)
	}
	delete(p.channels, ch.fd)
	if ch.state == channelAdded {
		p.update(unix.EPOLL_CTL_DEL, ch)
	}
	ch.state = channelNew
}

func (p *Poller) hasChannel(ch *Channel) bool {
	registered, ok := p.channels[ch.fd]
	return ok && registered == ch
}

func (p *Poller) update(op int, ch *Channel) {
	ev := unix.EpollEvent{Events: ch.events, Fd: int32(ch.fd)}
	if err := unix.EpollCtl(p.epollFD, op, ch.fd, &ev); err != nil {
		log.Errorf("poller: epoll_ctl op %d fd %d events %#x error: %v", op, ch.fd, ch.events, err)
	}
}

func (p *Poller) close() error {
	return os.NewSyscallError("close", unix.Close(p.epollFD))
}
