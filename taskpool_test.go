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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmit(t *testing.T) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	count := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		err := Submit(func() {
			defer wg.Done()
			mu.Lock()
			count++
			mu.Unlock()
		})
		require.Nil(t, err)
	}
	wg.Wait()
	assert.Equal(t, 32, count)
}
