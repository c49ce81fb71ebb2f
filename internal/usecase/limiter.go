package usecase

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the admission cap used for per-PR fetches.
const DefaultConcurrency = 5

// Task is one independent unit of work run by RunLimited.
type Task[T any] func(ctx context.Context) (T, error)

// Indexed pairs a task result with the position of the task in the input.
type Indexed[T any] struct {
	Index int
	Value T
}

// TaskFailure records the error of a single task.
type TaskFailure struct {
	Index int
	Err   error
}

// Settled holds the outcome of every task, partitioned by success.
// Both slices are ordered by input index.
type Settled[T any] struct {
	Results  []Indexed[T]
	Failures []TaskFailure
}

// LimitOptions tunes RunLimited.
type LimitOptions struct {
	// Limit is the maximum number of tasks in flight. Values below 1 mean 1.
	Limit int
	// TaskTimeout bounds each task individually. Zero disables the bound.
	TaskTimeout time.Duration
}

// RunLimited runs tasks with at most opts.Limit of them in flight.
// A failing or panicking task never cancels or blocks the others; every task
// settles before RunLimited returns.
func RunLimited[T any](ctx context.Context, opts LimitOptions, tasks []Task[T]) Settled[T] {
	limit := max(opts.Limit, 1)

	values := make([]T, len(tasks))
	errs := make([]error, len(tasks))

	// A plain Group (no WithContext) so one failure does not cancel siblings.
	var g errgroup.Group
	g.SetLimit(limit)
	for i, task := range tasks {
		g.Go(func() error {
			values[i], errs[i] = runTask(ctx, opts.TaskTimeout, task)
			return nil
		})
	}
	_ = g.Wait()

	var out Settled[T]
	for i := range tasks {
		if errs[i] != nil {
			out.Failures = append(out.Failures, TaskFailure{Index: i, Err: errs[i]})
			continue
		}
		out.Results = append(out.Results, Indexed[T]{Index: i, Value: values[i]})
	}
	return out
}

func runTask[T any](ctx context.Context, timeout time.Duration, task Task[T]) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return task(ctx)
}
