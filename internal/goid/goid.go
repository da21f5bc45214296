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

// Package goid resolves the current goroutine id. Event loops use it to
// pin loop-owned state to the goroutine that runs the loop.
package goid

import "runtime"

const stackPrefix = len("goroutine ")

// Current returns the id of the calling goroutine.
//
// The id is parsed from the first line of runtime.Stack, which is of
// the form "goroutine 123 [running]:". The runtime never reuses an id
// for two live goroutines, which is all the loop-affinity checks need.
func Current() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id int64
	for _, c := range buf[stackPrefix:n] {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + int64(c-'0')
	}
	return id
}
