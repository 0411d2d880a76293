// Package batch runs independent operations over a slice with a bounded
// number in flight.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Options configures a batch run.
type Options struct {
	// Concurrency is the maximum number of items in flight. Values below one
	// are treated as one.
	Concurrency int
	// Stagger delays the first item of worker w by Stagger*w.
	Stagger time.Duration
	// StopOnError stops claiming new items after the first failure.
	StopOnError bool
	// Progress is called from worker goroutines after every finished item.
	// It must be safe for concurrent use.
	Progress func(completed, total int)
}

// Outcome is the result of one item. Done is false for items that were never
// started because the batch stopped early.
type Outcome[R any] struct {
	Value R
	Err   error
	Done  bool
}

// ItemError is returned by Run when StopOnError aborts the batch.
type ItemError struct {
	Index int
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// ErrPanic marks an item whose operation panicked.
var ErrPanic = errors.New("operation panicked")

func safeCall[T, R any](ctx context.Context, op func(ctx context.Context, index int, item T) (R, error), i int, item T) (v R, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, p)
		}
	}()
	return op(ctx, i, item)
}

// Run applies op to every item with at most opts.Concurrency calls in
// flight. The outcomes are aligned with items whatever the completion order.
//
// A failing item is recorded in its slot and the worker moves on, unless
// StopOnError is set: then no further items are claimed and the first error
// is returned as an *ItemError. A cancelled ctx also stops claims and its
// error is returned. Items already running are never interrupted by Run.
// A panic in op is recovered and recorded as that item's ErrPanic error.
func Run[T, R any](ctx context.Context, items []T, op func(ctx context.Context, index int, item T) (R, error), opts Options) ([]Outcome[R], error) {
	total := len(items)
	outcomes := make([]Outcome[R], total)
	if total == 0 {
		return outcomes, nil
	}

	workers := opts.Concurrency
	if workers < 1 {
		workers = 1
	}
	if workers > total {
		workers = total
	}

	var (
		next      atomic.Int64
		completed atomic.Int64
		stopped   atomic.Bool
	)

	// claim hands out the next index, or -1 when the batch is drained or
	// stopped.
	claim := func() int {
		if stopped.Load() || ctx.Err() != nil {
			return -1
		}
		i := int(next.Add(1) - 1)
		if i >= total {
			return -1
		}
		return i
	}

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			if opts.Stagger > 0 && w > 0 {
				t := time.NewTimer(opts.Stagger * time.Duration(w))
				select {
				case <-t.C:
				case <-ctx.Done():
					t.Stop()
					return nil
				}
			}

			for {
				i := claim()
				if i < 0 {
					return nil
				}

				v, err := safeCall(ctx, op, i, items[i])
				outcomes[i] = Outcome[R]{Value: v, Err: err, Done: true}

				n := int(completed.Add(1))
				if opts.Progress != nil {
					opts.Progress(n, total)
				}

				if err != nil && opts.StopOnError {
					stopped.Store(true)
					return &ItemError{Index: i, Err: err}
				}
			}
		})
	}
	// only StopOnError makes a worker return an error; the group keeps the
	// first one
	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	if err := ctx.Err(); err != nil && int(completed.Load()) < total {
		return outcomes, err
	}
	return outcomes, nil
}
