package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"github.com/neurocohort/databank/pkg/common/logger"
)

var ErrPanic = errors.New("unit of work panicked")

// Pair ties a result to the key of the item that produced it.
type Pair[R any] struct {
	Key    string
	Result R
	Err    error
}

// Run applies fn to every item on a fixed number of workers and returns
// one pair per item, in input order. A failing or panicking unit does not
// stop the others; there is no cancellation and no retry.
func Run[T, R any](ctx context.Context, workers int, items []T, key func(T) string, fn func(context.Context, T) (R, error)) []Pair[R] {
	if workers < 1 {
		workers = 1
	}
	pairs := make([]Pair[R], len(items))

	var g errgroup.Group
	g.SetLimit(workers)
	for i := range items {
		i := i
		g.Go(func() error {
			pairs[i] = runOne(ctx, key(items[i]), items[i], fn)
			return nil
		})
	}
	_ = g.Wait()
	return pairs
}

func runOne[T, R any](ctx context.Context, k string, item T, fn func(context.Context, T) (R, error)) (pair Pair[R]) {
	pair.Key = k
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("unit", k).
				WithField("stack", string(debug.Stack())).
				Error("unit of work panicked")
			pair.Err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	pair.Result, pair.Err = fn(ctx, item)
	return pair
}
