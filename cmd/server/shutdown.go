package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// worker is the part of the pipeline service the shutdown sequence drives.
type worker interface {
	Shutdown()
	Kill()
	Done() <-chan struct{}
}

// stopFn is one component in the ordered shutdown chain.
type stopFn struct {
	name string
	fn   func(context.Context) error
}

// waitForStop blocks until ctx ends or the worker stops on a control
// command. It reports whether ctx ended, which also stops a worker running
// under it.
func waitForStop(ctx context.Context, w worker) bool {
	select {
	case <-ctx.Done():
		return true
	case <-w.Done():
		return ctx.Err() != nil
	}
}

// workerStop lets the notice in flight finish, and kills it when ctx ends
// first. workerErr receives the result of the worker's Run.
func workerStop(w worker, workerErr <-chan error) func(context.Context) error {
	return func(ctx context.Context) error {
		w.Shutdown()
		select {
		case err := <-workerErr:
			return err
		case <-ctx.Done():
			w.Kill()
			return fmt.Errorf("notice in flight abandoned: %w", ctx.Err())
		}
	}
}

// runStops calls each stop function in order, each with an equal slice of
// budget. Failures are logged and returned joined.
func runStops(L log.Logger, budget time.Duration, fns []stopFn) error {
	if len(fns) == 0 {
		return nil
	}
	perComponent := budget / time.Duration(len(fns))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	var errs []error
	for _, s := range fns {
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
		ccancel()
	}
	return errors.Join(errs...)
}
