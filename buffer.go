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
	"bytes"

	"github.com/zluster/znet/metrics"
	"golang.org/x/sys/unix"
)

const (
	// cheapPrepend is the space reserved in front of the payload so a
	// length or type prefix can be prepended without copying.
	cheapPrepend = 8
	// initialBufferSize is the initial payload capacity of a Buffer.
	initialBufferSize = 1024
	// extraBufferSize is the per-read overflow region of ReadFd.
	extraBufferSize = 65536
)

var crlf = []byte("\r\n")

// Buffer is a growable byte buffer with separate read and write cursors,
// laid out as
//
//	| prependable | readable | writable |
//	0          read        write     capacity
//
// Appending keeps the unread bytes but may move them: it first slides
// them back to the prepend boundary to reclaim consumed space, and only
// grows into a new array when that is not enough. A slice returned by
// Peek before an Append no longer tracks the readable bytes afterwards,
// and after a slide its contents may have been overwritten.
type Buffer struct {
	buf        []byte
	readIndex  int
	writeIndex int
}

// NewBuffer creates an empty Buffer with the default capacity.
func NewBuffer() *Buffer {
	b := &Buffer{}
	b.init()
	return b
}

func (b *Buffer) init() {
	if b.buf == nil {
		b.buf = make([]byte, cheapPrepend+initialBufferSize)
		b.readIndex = cheapPrepend
		b.writeIndex = cheapPrepend
	}
}

// ReadableBytes returns the number of unread bytes.
func (b *Buffer) ReadableBytes() int {
	return b.writeIndex - b.readIndex
}

// WritableBytes returns the space left after the write cursor.
func (b *Buffer) WritableBytes() int {
	return len(b.buf) - b.writeIndex
}

// PrependableBytes returns the space in front of the read cursor.
func (b *Buffer) PrependableBytes() int {
	return b.readIndex
}

// Peek returns the unread bytes without consuming them.
// The slice aliases the buffer's storage and is valid until the next
// Retrieve, Append, AppendString or ReadFd.
func (b *Buffer) Peek() []byte {
	return b.buf[b.readIndex:b.writeIndex]
}

// FindCRLF returns the index, relative to the read cursor, of the first
// "\r\n" in the readable bytes, or -1.
func (b *Buffer) FindCRLF() int {
	return bytes.Index(b.Peek(), crlf)
}

// FindCRLFFrom is FindCRLF starting at offset from into the readable bytes.
func (b *Buffer) FindCRLFFrom(from int) int {
	if from >= b.ReadableBytes() {
		return -1
	}
	i := bytes.Index(b.Peek()[from:], crlf)
	if i < 0 {
		return -1
	}
	return from + i
}

// Append copies data after the write cursor, growing if needed.
func (b *Buffer) Append(data []byte) {
	b.init()
	b.ensureWritableBytes(len(data))
	copy(b.buf[b.writeIndex:], data)
	b.writeIndex += len(data)
}

// AppendString copies s after the write cursor.
func (b *Buffer) AppendString(s string) {
	b.init()
	b.ensureWritableBytes(len(s))
	copy(b.buf[b.writeIndex:], s)
	b.writeIndex += len(s)
}

// Prepend copies data into the space in front of the read cursor.
// The caller must not prepend more than PrependableBytes.
func (b *Buffer) Prepend(data []byte) {
	b.readIndex -= len(data)
	copy(b.buf[b.readIndex:], data)
}

// Retrieve consumes n readable bytes.
func (b *Buffer) Retrieve(n int) {
	if n < b.ReadableBytes() {
		b.readIndex += n
		return
	}
	b.RetrieveAll()
}

// RetrieveAll consumes everything and resets both cursors to the
// prepend boundary.
func (b *Buffer) RetrieveAll() {
	b.init()
	b.readIndex = cheapPrepend
	b.writeIndex = cheapPrepend
}

// RetrieveAsString consumes n readable bytes and returns them.
func (b *Buffer) RetrieveAsString(n int) string {
	if n > b.ReadableBytes() {
		n = b.ReadableBytes()
	}
	s := string(b.Peek()[:n])
	b.Retrieve(n)
	return s
}

// RetrieveAllAsString consumes all readable bytes and returns them.
func (b *Buffer) RetrieveAllAsString() string {
	return b.RetrieveAsString(b.ReadableBytes())
}

func (b *Buffer) ensureWritableBytes(n int) {
	if b.WritableBytes() < n {
		b.makeSpace(n)
	}
}

// makeSpace reclaims consumed space by sliding unread bytes back to the
// prepend boundary; only when that is still not enough does the buffer
// grow, to writeIndex+n.
func (b *Buffer) makeSpace(n int) {
	if b.WritableBytes()+b.PrependableBytes() < n+cheapPrepend {
		grown := make([]byte, b.writeIndex+n)
		copy(grown, b.buf[:b.writeIndex])
		b.buf = grown
		return
	}
	readable := b.ReadableBytes()
	copy(b.buf[cheapPrepend:], b.buf[b.readIndex:b.writeIndex])
	b.readIndex = cheapPrepend
	b.writeIndex = b.readIndex + readable
}

// ReadFd reads from fd with a scatter read into the writable region plus
// a bounded overflow region, so one syscall consumes whatever the socket
// has without growing the buffer ahead of demand. The overflow is only
// committed when the kernel returned more than the writable space.
// It returns the byte count from the kernel; n < 0 comes with the errno.
func (b *Buffer) ReadFd(fd int) (int, error) {
	b.init()
	var extra [extraBufferSize]byte
	writable := b.WritableBytes()
	iovs := [2][]byte{b.buf[b.writeIndex:], extra[:]}
	iovcnt := 2
	if writable >= extraBufferSize {
		iovcnt = 1
	}
	n, err := unix.Readv(fd, iovs[:iovcnt])
	metrics.Add(metrics.TCPReadvCalls, 1)
	if err != nil {
		metrics.Add(metrics.TCPReadvFails, 1)
		return -1, err
	}
	metrics.Add(metrics.TCPReadvBytes, uint64(n))
	if n <= writable {
		b.writeIndex += n
	} else {
		b.writeIndex = len(b.buf)
		b.Append(extra[:n-writable])
	}
	return n, nil
}

// WriteFd writes the readable bytes to fd and consumes what the kernel
// accepted. It returns the byte count; n < 0 comes with the errno.
func (b *Buffer) WriteFd(fd int) (int, error) {
	n, err := unix.Write(fd, b.Peek())
	metrics.Add(metrics.TCPWriteCalls, 1)
	if err != nil {
		metrics.Add(metrics.TCPWriteFails, 1)
		return -1, err
	}
	metrics.Add(metrics.TCPWriteBytes, uint64(n))
	b.Retrieve(n)
	return n, nil
}
