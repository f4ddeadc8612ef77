// Package parallel runs the per-match map phase of a stage on a bounded
// number of goroutines.
package parallel

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/524D/mzvalid/internal/progress"
)

var (
	// ErrCancelled is returned when the reporter or the context asked to stop.
	ErrCancelled = errors.New("parallel: cancelled")
	// ErrPanic wraps a panic raised by fn. The remaining items are skipped.
	ErrPanic = errors.New("parallel: item failed")
)

// chunk is the number of items handed to a goroutine at once
const chunk = 256

// Range calls fn(i) for i in [0,n) using at most workers goroutines. fn must
// only write state owned by index i. Progress is incremented once per item
// and cancellation is checked between chunks. A panic in fn stops the range
// and is returned as an error wrapping ErrPanic.
func Range(ctx context.Context, r progress.Reporter, workers, n int, fn func(i int)) error {
	if workers < 1 {
		workers = 1
	}
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for start := 0; start < n; start += chunk {
		if progress.Cancelled(gCtx, r) {
			break
		}
		start := start
		end := start + chunk
		if end > n {
			end = n
		}
		g.Go(func() (err error) {
			i := start
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: index %d: %v", ErrPanic, i, r)
				}
			}()
			for ; i < end; i++ {
				if progress.Cancelled(gCtx, r) {
					return ErrCancelled
				}
				fn(i)
				r.IncrementProgress()
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil && progress.Cancelled(ctx, r) {
		err = ErrCancelled
	}
	return err
}
