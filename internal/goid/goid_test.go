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

package goid_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zluster/znet/internal/goid"
)

func TestCurrentStable(t *testing.T) {
	first := goid.Current()
	require.Greater(t, first, int64(0))
	assert.Equal(t, first, goid.Current())
}

func TestCurrentDistinct(t *testing.T) {
	main := goid.Current()
	var wg sync.WaitGroup
	ids := make(chan int64, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- goid.Current()
		}()
	}
	wg.Wait()
	close(ids)
	seen := map[int64]bool{main: true}
	for id := range ids {
		assert.False(t, seen[id])
		seen[id] = true
	}
}
