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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestBufferRoundTrip(t *testing.T) {
	b := NewBuffer()
	assert.Equal(t, 0, b.ReadableBytes())
	assert.Equal(t, initialBufferSize, b.WritableBytes())
	assert.Equal(t, cheapPrepend, b.PrependableBytes())

	payload := "hello, reactor"
	b.AppendString(payload)
	assert.Equal(t, len(payload), b.ReadableBytes())
	assert.Equal(t, payload, b.RetrieveAsString(len(payload)))
	assert.Equal(t, 0, b.ReadableBytes())

	b.Append([]byte(payload))
	b.RetrieveAll()
	assert.Equal(t, 0, b.ReadableBytes())
	assert.Equal(t, cheapPrepend, b.PrependableBytes())
}

func TestBufferPartialRetrieve(t *testing.T) {
	b := NewBuffer()
	b.AppendString("abcdef")
	b.Retrieve(2)
	assert.Equal(t, "cdef", string(b.Peek()))
	assert.Equal(t, cheapPrepend+2, b.PrependableBytes())
	assert.Equal(t, "cd", b.RetrieveAsString(2))
	assert.Equal(t, "ef", b.RetrieveAllAsString())
}

func TestBufferGrowth(t *testing.T) {
	b := NewBuffer()
	big := bytes.Repeat([]byte{'x'}, initialBufferSize+500)
	b.Append(big)
	assert.Equal(t, len(big), b.ReadableBytes())
	assert.Equal(t, big, b.Peek())
}

func TestBufferCompactBeforeGrow(t *testing.T) {
	b := NewBuffer()
	b.AppendString(string(bytes.Repeat([]byte{'a'}, 800)))
	b.Retrieve(700)
	// 100 readable left; 224 writable behind them and 700 consumed bytes
	// in front. Appending 500 fits after sliding the unread bytes back,
	// without reallocating.
	capBefore := len(b.buf)
	b.AppendString(string(bytes.Repeat([]byte{'b'}, 500)))
	assert.Equal(t, capBefore, len(b.buf))
	assert.Equal(t, 600, b.ReadableBytes())
	assert.Equal(t, cheapPrepend, b.PrependableBytes())
}

func TestBufferPrepend(t *testing.T) {
	b := NewBuffer()
	b.AppendString("payload")
	b.Prepend([]byte{0x00, 0x07})
	assert.Equal(t, cheapPrepend-2, b.PrependableBytes())
	assert.Equal(t, "\x00\x07payload", b.RetrieveAllAsString())
}

func TestBufferFindCRLF(t *testing.T) {
	b := NewBuffer()
	assert.Equal(t, -1, b.FindCRLF())
	b.AppendString("hello\r\nworld\r\n")
	assert.Equal(t, 5, b.FindCRLF())
	assert.Equal(t, 12, b.FindCRLFFrom(6))
	assert.Equal(t, -1, b.FindCRLFFrom(13))
	b.Retrieve(7)
	assert.Equal(t, 5, b.FindCRLF())
}

func newTestSocketpair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.Nil(t, err)
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestBufferReadFd(t *testing.T) {
	r, w := newTestSocketpair(t)
	payload := []byte("scatter read payload")
	_, err := unix.Write(w, payload)
	require.Nil(t, err)

	b := NewBuffer()
	before := b.ReadableBytes()
	n, err := b.ReadFd(r)
	require.Nil(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, before+n, b.ReadableBytes())
	assert.Equal(t, payload, b.Peek())
}

func TestBufferReadFdOverflow(t *testing.T) {
	r, w := newTestSocketpair(t)
	// More than the initial writable space, so the overflow region must
	// be committed.
	payload := bytes.Repeat([]byte{'z'}, initialBufferSize+3000)
	_, err := unix.Write(w, payload)
	require.Nil(t, err)

	b := NewBuffer()
	n, err := b.ReadFd(r)
	require.Nil(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, len(payload), b.ReadableBytes())
	assert.Equal(t, payload, b.Peek())
}

func TestBufferWriteFd(t *testing.T) {
	r, w := newTestSocketpair(t)
	b := NewBuffer()
	b.AppendString("drain me")
	n, err := b.WriteFd(w)
	require.Nil(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, 0, b.ReadableBytes())

	got := make([]byte, 64)
	m, err := unix.Read(r, got)
	require.Nil(t, err)
	assert.Equal(t, "drain me", string(got[:m]))
}
