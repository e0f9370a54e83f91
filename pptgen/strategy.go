package pptgen

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Task generates the item at index i.
type Task func(ctx context.Context, i int) error

// Strategy schedules the per-slide tasks of a run. The returned slice holds
// each task's error at its index; a task that never ran has a nil entry and
// did not report success either.
type Strategy interface {
	Run(ctx context.Context, n int, task Task, stopOnError bool) []error
	Name() string
}

// Sequential runs tasks one after another in index order.
type Sequential struct{}

func (Sequential) Name() string { return "sequential" }

func (Sequential) Run(ctx context.Context, n int, task Task, stopOnError bool) []error {
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			break
		}
		errs[i] = safe(ctx, i, task)
		if errs[i] != nil && stopOnError {
			break
		}
	}
	return errs
}

// Concurrent runs up to Limit tasks at once. A failing task never cancels
// its siblings.
type Concurrent struct {
	Limit int
}

func (Concurrent) Name() string { return "concurrent" }

func (c Concurrent) Run(ctx context.Context, n int, task Task, _ bool) []error {
	errs := make([]error, n)
	limit := c.Limit
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			errs[i] = safe(ctx, i, task)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func safe(ctx context.Context, i int, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("slide %d panicked: %v", i+1, r)
		}
	}()
	return task(ctx, i)
}
