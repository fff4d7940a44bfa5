// Package batch provides a generic bounded-concurrency executor. Items are
// processed in fixed-size concurrent chunks with a hard barrier between
// chunks, per-item failure isolation, and an optional inter-chunk delay for
// provider rate limits.
package batch

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultWidth is the number of concurrent in-flight operations used when no
// width is configured.
const DefaultWidth = 5

// ItemError records a single item's failure without aborting its siblings.
type ItemError[T any] struct {
	Item  T
	Index int
	Err   error
}

// IndexedResult tags a successful result with the item's original position.
type IndexedResult[R any] struct {
	Index int
	Value R
}

// Result separates successes from failures, both sorted by original item order.
type Result[T, R any] struct {
	Results []IndexedResult[R]
	Errors  []ItemError[T]
}

// Options configures a Process call.
type Options struct {
	// Width is the chunk size: at most Width operations are in flight at once.
	Width int
	// Delay is slept between chunks (never after the last one).
	Delay time.Duration
	// OnChunkDone, when set, runs after each chunk settles with the number of
	// items settled so far. Returning an error stops the run before the next
	// chunk; items already settled are kept.
	OnChunkDone func(completed, total int) error

	// sleep is overridable in tests to observe inter-chunk delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// Process runs op over items in consecutive chunks of size Width. All items
// in a chunk run concurrently and the next chunk does not start until every
// one has settled. An op failure is captured as an ItemError and never
// cancels sibling invocations or later chunks. Context cancellation and a
// non-nil OnChunkDone error stop the run at the next chunk boundary; work
// already dispatched is allowed to finish.
func Process[T, R any](ctx context.Context, items []T, opts Options, op func(ctx context.Context, item T, index int) (R, error)) (Result[T, R], error) {
	width := opts.Width
	if width <= 0 {
		width = DefaultWidth
	}
	sleep := opts.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	values := make([]R, len(items))
	errs := make([]error, len(items))

	for start := 0; start < len(items); start += width {
		if err := ctx.Err(); err != nil {
			return collect(items, values, errs, start), err
		}

		end := start + width
		if end > len(items) {
			end = len(items)
		}

		g := new(errgroup.Group)
		for index := start; index < end; index++ {
			g.Go(func() error {
				values[index], errs[index] = op(ctx, items[index], index)
				return nil
			})
		}
		_ = g.Wait()

		if opts.OnChunkDone != nil {
			if err := opts.OnChunkDone(end, len(items)); err != nil {
				return collect(items, values, errs, end), err
			}
		}

		if end < len(items) && opts.Delay > 0 {
			if err := sleep(ctx, opts.Delay); err != nil {
				return collect(items, values, errs, end), err
			}
		}
	}

	return collect(items, values, errs, len(items)), nil
}

// collect folds the per-index slots into a Result covering the first settled
// items. Slot order preserves original item order.
func collect[T, R any](items []T, values []R, errs []error, settled int) Result[T, R] {
	result := Result[T, R]{}
	for index := 0; index < settled; index++ {
		if errs[index] != nil {
			result.Errors = append(result.Errors, ItemError[T]{Item: items[index], Index: index, Err: errs[index]})
			continue
		}
		result.Results = append(result.Results, IndexedResult[R]{Index: index, Value: values[index]})
	}
	return result
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
