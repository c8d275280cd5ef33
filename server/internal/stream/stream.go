// Package stream runs a computation periodically until its consumer goes
// away.
package stream

import (
	"context"
	"time"
)

// Func is one iteration. A returned error stops the loop.
type Func func(ctx context.Context) error

// Run calls fn once, then again every interval, until ctx is cancelled or
// fn returns an error. With interval <= 0 fn runs exactly once.
//
// Iterations never overlap: a tick that arrives while fn is still running
// is dropped. Run returns fn's error, or nil when ctx ends the loop.
func Run(ctx context.Context, interval time.Duration, fn Func) error {
	if err := fn(ctx); err != nil {
		return err
	}
	if interval <= 0 {
		return nil
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if ctx.Err() != nil {
				return nil
			}
			if err := fn(ctx); err != nil {
				return err
			}
		}
	}
}
