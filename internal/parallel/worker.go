// Package parallel provides the worker pool used to fan independent pieces
// of an operation out across goroutines.
//
// Window partitions and per-aggregate reductions are evaluated through
// TryProcessIndexed once the input exceeds the configured row threshold.
// Results always come back in input order, so parallel and sequential
// evaluation produce identical frames.
package parallel

import (
	"context"
	"runtime"
	"sync"
)

// DefaultThreshold is the row count from which work is fanned out.
const DefaultThreshold = 1000

// WorkerPool manages a pool of goroutines for parallel processing
type WorkerPool struct {
	numWorkers int
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewWorkerPool creates a new worker pool. A non-positive size uses one
// worker per CPU.
func NewWorkerPool(numWorkers int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		numWorkers: numWorkers,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Size returns the number of workers
func (wp *WorkerPool) Size() int {
	return wp.numWorkers
}

// ShouldParallelize reports whether rows is large enough to fan out.
func (wp *WorkerPool) ShouldParallelize(rows, threshold int) bool {
	return wp != nil && wp.numWorkers > 1 && rows >= threshold
}

// ProcessIndexed executes work items in parallel while preserving order
func ProcessIndexed[T, R any](
	wp *WorkerPool,
	items []T,
	worker func(int, T) R,
) []R {
	if len(items) == 0 {
		return nil
	}

	itemCh := make(chan indexedItem[T], len(items))
	resultCh := make(chan indexedResult[R], len(items))

	workers := wp.numWorkers
	if workers > len(items) {
		workers = len(items)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range itemCh {
				select {
				case <-wp.ctx.Done():
					return
				default:
					resultCh <- indexedResult[R]{
						index:  item.index,
						result: worker(item.index, item.value),
					}
				}
			}
		}()
	}

	go func() {
		defer close(itemCh)
		for i, item := range items {
			select {
			case <-wp.ctx.Done():
				return
			case itemCh <- indexedItem[T]{index: i, value: item}:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make([]R, len(items))
	for result := range resultCh {
		results[result.index] = result.result
	}

	return results
}

// TryProcessIndexed is ProcessIndexed for workers that can fail. It returns
// the error of the lowest failing index, or the pool's cancellation error
// when the pool was closed before every item ran. The results of items that
// succeeded are returned alongside the error so the caller can release them.
func TryProcessIndexed[T, R any](
	wp *WorkerPool,
	items []T,
	worker func(int, T) (R, error),
) ([]R, error) {
	type outcome struct {
		value R
		err   error
		done  bool
	}

	outcomes := ProcessIndexed(wp, items, func(i int, item T) outcome {
		v, err := worker(i, item)
		return outcome{value: v, err: err, done: true}
	})

	results := make([]R, len(items))
	var firstErr error
	for i, o := range outcomes {
		switch {
		case !o.done:
			if firstErr == nil {
				firstErr = context.Cause(wp.ctx)
			}
		case o.err != nil:
			if firstErr == nil {
				firstErr = o.err
			}
		default:
			results[i] = o.value
		}
	}
	return results, firstErr
}

// Close shuts down the worker pool
func (wp *WorkerPool) Close() {
	wp.cancel()
}

// indexedItem holds an item with its index
type indexedItem[T any] struct {
	index int
	value T
}

// indexedResult holds a result with its index
type indexedResult[R any] struct {
	index  int
	result R
}
