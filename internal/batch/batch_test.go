package batch

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunPreservesOrder(t *testing.T) {
	n := 50
	got := Run(n, 8, func(i int) int { return i * i })
	for i := 0; i < n; i++ {
		assert.Equal(t, i*i, got[i])
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	var current, maxSeen int64
	n := 200
	parallel := 4
	Run(n, parallel, func(i int) struct{} {
		c := atomic.AddInt64(&current, 1)
		for {
			m := atomic.LoadInt64(&maxSeen)
			if c <= m || atomic.CompareAndSwapInt64(&maxSeen, m, c) {
				break
			}
		}
		atomic.AddInt64(&current, -1)
		return struct{}{}
	})
	assert.LessOrEqual(t, int(maxSeen), parallel)
}

func TestRunZeroItems(t *testing.T) {
	got := Run(0, 4, func(i int) int { return i })
	assert.Empty(t, got)
}

func TestRunSingleWorker(t *testing.T) {
	got := Run(5, 1, func(i int) int { return i + 1 })
	assert.Equal(t, []int{1, 2, 3, 4, 5}, got)
}
