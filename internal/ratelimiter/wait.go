package ratelimiter

import (
	"context"
	"time"
)

// PollInterval is how long Wait sleeps when no tokens are available.
var PollInterval = 50 * time.Millisecond

// Wait acquires exactly n tokens, sleeping between partial grants.
// It returns early with ctx.Err() if ctx is done.
func (l *Limiter) Wait(ctx context.Context, n int64) error {
	for n > 0 {
		got := l.Acquire(n)
		n -= got
		if n == 0 {
			return nil
		}
		if got > 0 {
			continue
		}
		t := time.NewTimer(PollInterval)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	return nil
}
