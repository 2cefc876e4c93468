package utils

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrNoSources is returned by Race when it is given nothing to race.
var ErrNoSources = errors.New("race without sources")

// Source produces a value or fails. It must return once its context is
// canceled.
type Source[T any] func(ctx context.Context) (T, error)

type raceResult[T any] struct {
	value T
	err   error
}

// Race runs all sources concurrently and returns the outcome of the first one
// to return, whether it is a value or an error. The remaining sources are
// canceled, and Race only returns after all of them have exited.
func Race[T any](ctx context.Context, sources ...Source[T]) (T, error) {
	var zero T

	if len(sources) == 0 {
		return zero, ErrNoSources
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered so that losers never block on delivery.
	results := make(chan raceResult[T], len(sources))

	var wg sync.WaitGroup
	for _, source := range sources {
		wg.Add(1)
		go func(source Source[T]) {
			defer wg.Done()

			value, err := source(raceCtx)
			results <- raceResult[T]{value: value, err: err}
		}(source)
	}

	var first raceResult[T]
	select {
	case first = <-results:

	case <-ctx.Done():
		first = raceResult[T]{value: zero, err: ctx.Err()}
	}

	cancel()
	wg.Wait()

	return first.value, first.err
}

// Join runs all functions concurrently and waits for all of them. The first
// error cancels the others and is returned.
func Join(ctx context.Context, fns ...func(ctx context.Context) error) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for _, fn := range fns {
		fn := fn
		group.Go(func() error {
			return fn(groupCtx)
		})
	}

	return group.Wait()
}
