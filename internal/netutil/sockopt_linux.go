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

package netutil

import "golang.org/x/sys/unix"

// SetKeepAlive turns on SO_KEEPALIVE and sets both the probe interval and
// the idle time to secs seconds.
func SetKeepAlive(fd, secs int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return err
	}
	// Option TCP_KEEPINTVL controls the time (in seconds) between individual keepalive probes.
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, secs); err != nil {
		return err
	}
	// Option TCP_KEEPIDLE controls the time (in seconds) the connection needs to remain idle
	// before TCP starts sending keepalive probes.
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, secs)
}

// SetNoDelay controls the TCP_NODELAY flag on fd.
func SetNoDelay(fd int, noDelay bool) error {
	var v int
	if noDelay {
		v = 1
	}
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v)
}
