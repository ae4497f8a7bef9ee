package browser

import (
	"context"
	"errors"
	"time"
)

type timedResult[T any] struct {
	val T
	err error
}

// timed runs op with a deadline. A stalled driver cannot hold the caller
// past timeout: op keeps running in its goroutine and its late result is
// dropped into the buffered channel and discarded.
func timed[T any](ctx context.Context, timeout time.Duration, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	opCtx, cancel := context.WithCancel(ctx)
	ch := make(chan timedResult[T], 1)
	go func() {
		v, err := op(opCtx)
		ch <- timedResult[T]{val: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		cancel()
		if r.err == nil {
			return r.val, nil
		}
		return zero, classify(name, r.err)
	case <-timer.C:
		cancel()
		return zero, NewError(KindTimeout, name, nil)
	case <-ctx.Done():
		cancel()
		return zero, NewError(KindUnexpected, name, ctx.Err())
	}
}

// timedDo is timed for operations without a result.
func timedDo(ctx context.Context, timeout time.Duration, name string, op func(ctx context.Context) error) error {
	_, err := timed(ctx, timeout, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// classify keeps errors that already carry a Kind and sorts the rest into
// NoSuchElement or Unexpected.
func classify(name string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, ErrNoSuchElement) {
		return NewError(KindNoSuchElement, name, err)
	}
	return NewError(KindUnexpected, name, err)
}
