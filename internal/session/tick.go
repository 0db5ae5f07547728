package session

import (
	"context"
	"time"
)

// tickSource fires a callback every interval until its context ends. The
// interval can be changed while running.
//
// Invariant: the callback is invoked at most once per interval.
type tickSource struct {
	interval time.Duration
	reset    chan time.Duration
}

// newTickSource returns a tickSource firing every interval.
//
// Precondition: interval must be > 0.
func newTickSource(interval time.Duration) *tickSource {
	if interval <= 0 {
		panic("session.newTickSource: interval must be > 0")
	}
	return &tickSource{interval: interval, reset: make(chan time.Duration, 1)}
}

// SetInterval changes the period. Only the latest request is kept.
func (t *tickSource) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	for {
		select {
		case t.reset <- d:
			return
		default:
		}
		select {
		case <-t.reset:
		default:
		}
	}
}

// Run invokes fn every interval until ctx is cancelled.
func (t *tickSource) Run(ctx context.Context, fn func()) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-t.reset:
			ticker.Reset(d)
		case <-ticker.C:
			fn()
		}
	}
}
