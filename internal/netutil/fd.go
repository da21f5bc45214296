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

import (
	"errors"
	"fmt"
	"syscall"
)

// GetFD extracts the file descriptor out of a go net socket (a net.Conn,
// net.Listener or anything else that implements syscall.Conn).
func GetFD(socket interface{}) (int, error) {
	conn, ok := socket.(syscall.Conn)
	if !ok {
		return -1, fmt.Errorf("type %T doesn't implement syscall.Conn interface", socket)
	}
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return -1, fmt.Errorf("get raw connection fail %w", err)
	}

	fd := -1
	op := func(sysfd uintptr) {
		fd = int(sysfd)
	}
	err = rawConn.Control(op)
	if fd == -1 {
		return -1, errors.New("invalid file descriptor")
	}
	return fd, err
}
