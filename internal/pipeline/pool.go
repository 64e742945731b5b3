package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome of one task. A failed task carries Err and a zero
// Value; it never cancels its siblings.
type Result[T any] struct {
	Subject string
	Value   T
	Err     error
	Took    time.Duration
}

// PanicError is the Err of a task that panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("task panicked: %v", e.Value) }

// Run executes task for every input on at most workers goroutines and hands
// each Result to collect from a single goroutine, the caller's, so collect
// needs no locking. A panicking task yields a Result carrying a *PanicError
// for its input and does not disturb the others. A collect error stops new tasks from starting, lets the
// running ones finish, and is returned. Cancelling ctx has the same effect
// and returns ctx.Err(). Run returns only after every task has exited.
func Run[I, T any](ctx context.Context, workers int, inputs []I, task func(context.Context, I) Result[T], collect func(Result[T]) error) error {
	if workers < 1 {
		workers = 1
	}
	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan Result[T], workers)
	go func() {
		var g errgroup.Group
		g.SetLimit(workers)
		for _, in := range inputs {
			if taskCtx.Err() != nil {
				break
			}
			g.Go(func() error {
				start := time.Now()
				r := runTask(taskCtx, in, task)
				if r.Took == 0 {
					r.Took = time.Since(start)
				}
				results <- r
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	var collectErr error
	for r := range results {
		if collectErr != nil {
			continue
		}
		if err := collect(r); err != nil {
			collectErr = err
			cancel()
		}
	}
	if collectErr != nil {
		return collectErr
	}
	return ctx.Err()
}

// runTask calls task, turning a panic into a failed Result named after in.
func runTask[I, T any](ctx context.Context, in I, task func(context.Context, I) Result[T]) (r Result[T]) {
	defer func() {
		if v := recover(); v != nil {
			r = Result[T]{Subject: fmt.Sprint(in), Err: &PanicError{Value: v, Stack: debug.Stack()}}
		}
	}()
	return task(ctx, in)
}
