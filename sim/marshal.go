package sim

import (
	"context"
	"fmt"
)

type taskResult[T any] struct {
	value T
	err   error
}

// RunOnSimThread hands work to the simulation thread and blocks until it has
// run there. If ctx is cancelled first, RunOnSimThread returns ctx.Err(); a
// task that has not started by then is skipped, a task that has started runs
// to completion. A panic inside work is returned as an ErrRuntime error.
func RunOnSimThread[T any](
	ctx context.Context,
	poster TaskPoster,
	work func() (T, error),
) (T, error) {
	done := make(chan taskResult[T], 1)

	poster.Post(func() {
		if err := ctx.Err(); err != nil {
			done <- taskResult[T]{err: err}
			return
		}

		done <- runRecovered(work)
	})

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Do is RunOnSimThread for work that only reports an error.
func Do(ctx context.Context, poster TaskPoster, work func() error) error {
	_, err := RunOnSimThread(ctx, poster, func() (struct{}, error) {
		return struct{}{}, work()
	})

	return err
}

func runRecovered[T any](work func() (T, error)) (r taskResult[T]) {
	defer func() {
		if p := recover(); p != nil {
			r = taskResult[T]{err: fmt.Errorf("%w: %v", ErrRuntime, p)}
		}
	}()

	v, err := work()

	return taskResult[T]{value: v, err: err}
}
