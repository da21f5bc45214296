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
	"github.com/panjf2000/ants/v2"
)

var (
	maxRoutines = 0 // meaning INT32_MAX.
	usrPool, _  = ants.NewPool(maxRoutines)
)

// Submit hands a task to the shared business goroutine pool.
//
// Message callbacks run on the connection's I/O loop; anything that
// blocks or burns CPU there stalls every connection on that loop. Hand
// such work to Submit and call conn.Send with the result when done.
func Submit(task func()) error {
	return usrPool.Submit(task)
}
