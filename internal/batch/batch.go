// Package batch provides the bounded-concurrency worker pool every engine's
// EncodeBatch/DecodeBatch delegates to, so the degree of parallelism is
// capped in exactly one place rather than reimplemented per engine.
package batch

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// MaxParallel is the default degree of parallelism used by Run when a
// caller doesn't override it: one worker per available processor.
func MaxParallel() int {
	if n := runtime.GOMAXPROCS(0); n > 0 {
		return n
	}
	return 1
}

// Run applies fn to every index in [0, n) and returns the results in input
// order, regardless of the order in which the underlying goroutines
// complete. One goroutine is launched per item, but the semaphore bounds
// how many may run at once, so at most parallel (at least 1) are ever
// in flight concurrently.
func Run[T any](n, parallel int, fn func(i int) T) []T {
	results := make([]T, n)
	if n == 0 {
		return results
	}
	if parallel < 1 {
		parallel = 1
	}
	if parallel > n {
		parallel = n
	}
	if parallel == 1 {
		for i := 0; i < n; i++ {
			results[i] = fn(i)
		}
		return results
	}

	ctx := context.Background()
	sem := semaphore.NewWeighted(int64(parallel))
	done := make(chan int, n)
	for i := 0; i < n; i++ {
		i := i
		_ = sem.Acquire(ctx, 1)
		go func() {
			defer sem.Release(1)
			results[i] = fn(i)
			done <- i
		}()
	}
	for received := 0; received < n; received++ {
		<-done
	}
	return results
}
