// Package suspend bridges asynchronous operations to blocking calls.
//
// A script that calls template(), require() or cacheFn() expects an ordinary
// return value, while the work behind the call (cache round trips, template
// fetches, nested executions) completes asynchronously. Await parks only the
// calling goroutine until the operation resolves it, so every other rendering
// keeps running.
//
// Each call owns one pending record. The record's resolver must be invoked
// exactly once; a second invocation panics with ErrAlreadyResolved so the
// mistake surfaces at the faulty call site instead of being silently dropped.
// When the caller's context expires first, Await fails with a timeout error
// and a later resolve is absorbed by the record's buffer.
package suspend

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync/atomic"

	"kumascript/internal/common/errors"
)

// ErrAlreadyResolved is the panic value raised when a resolver fires twice.
var ErrAlreadyResolved = stderrors.New("suspend: call resolved more than once")

// Resolver delivers the outcome of a suspended operation.
type Resolver[T any] func(value T, err error)

var inFlight atomic.Int64

// InFlight reports the number of calls currently suspended process-wide.
func InFlight() int64 {
	return inFlight.Load()
}

type result[T any] struct {
	value T
	err   error
}

type pending[T any] struct {
	resolved atomic.Bool
	done     chan result[T]
}

func (p *pending[T]) resolve(value T, err error) {
	if !p.resolved.CompareAndSwap(false, true) {
		panic(ErrAlreadyResolved)
	}
	p.done <- result[T]{value: value, err: err}
}

// Await starts op on the calling goroutine and blocks until op resolves the
// call or ctx is done. op may resolve synchronously or hand the resolver to
// another goroutine. operation names the call in timeout errors.
func Await[T any](ctx context.Context, operation string, op func(resolve Resolver[T])) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, contextError(operation, err)
	}

	inFlight.Add(1)
	defer inFlight.Add(-1)

	p := &pending[T]{done: make(chan result[T], 1)}
	start(op, p)

	select {
	case r := <-p.done:
		return r.value, r.err
	case <-ctx.Done():
		// Prefer a result that raced the deadline.
		select {
		case r := <-p.done:
			return r.value, r.err
		default:
		}
		return zero, contextError(operation, ctx.Err())
	}
}

// Run executes fn on its own goroutine and suspends the caller until fn
// returns or ctx is done. fn receives ctx and should stop when it expires.
func Run[T any](ctx context.Context, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	return Await(ctx, operation, func(resolve Resolver[T]) {
		go func() {
			var (
				value T
				err   error
			)
			defer func() {
				if r := recover(); r != nil {
					var zero T
					resolve(zero, errors.InternalError(fmt.Sprintf("%s panicked: %v", operation, r), nil))
					return
				}
				resolve(value, err)
			}()
			value, err = fn(ctx)
		}()
	})
}

func start[T any](op func(resolve Resolver[T]), p *pending[T]) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if err, ok := r.(error); ok && stderrors.Is(err, ErrAlreadyResolved) {
			panic(r)
		}
		if p.resolved.Load() {
			panic(r)
		}
		var zero T
		p.resolve(zero, errors.InternalError(fmt.Sprintf("operation panicked: %v", r), nil))
	}()
	op(p.resolve)
}

func contextError(operation string, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.TimeoutError(operation, err)
	}
	return errors.InternalError(fmt.Sprintf("%s cancelled", operation), err)
}
