// Package ratelimiter governs transfer throughput with token buckets.
//
// Every transfer is limited by two buckets: the one of its task and a global one
// shared by all tasks. A granted amount is taken from both.
package ratelimiter

import (
	"sync"

	"github.com/juju/ratelimit"
)

// Group holds the global bucket for one direction and creates per-task limiters.
type Group struct {
	mu     sync.Mutex
	clock  ratelimit.Clock
	global *ratelimit.Bucket // nil means unlimited
}

// NewGroup returns a Group with a global limit of rate bytes per second.
// Zero rate means unlimited.
func NewGroup(rate, burst int64) *Group {
	return NewGroupWithClock(rate, burst, nil)
}

// NewGroupWithClock is like NewGroup but uses clock to measure time.
func NewGroupWithClock(rate, burst int64, clock ratelimit.Clock) *Group {
	g := &Group{clock: clock}
	g.global = g.newBucket(rate, burst)
	return g
}

func (g *Group) newBucket(rate, burst int64) *ratelimit.Bucket {
	if rate <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = rate
	}
	if g.clock != nil {
		return ratelimit.NewBucketWithRateAndClock(float64(rate), burst, g.clock)
	}
	return ratelimit.NewBucketWithRate(float64(rate), burst)
}

// replaceBucket returns a new bucket holding no more tokens than old had left.
// A bucket replacing an unlimited one starts full. Must be called with g.mu held.
func (g *Group) replaceBucket(old *ratelimit.Bucket, rate, burst int64) *ratelimit.Bucket {
	b := g.newBucket(rate, burst)
	if b == nil || old == nil {
		return b
	}
	left := old.Available()
	if left < 0 {
		left = 0
	}
	if c := b.Capacity(); left < c {
		b.TakeAvailable(c - left)
	}
	return b
}

// SetRate replaces the global bucket. Zero rate means unlimited.
func (g *Group) SetRate(rate, burst int64) {
	g.mu.Lock()
	g.global = g.replaceBucket(g.global, rate, burst)
	g.mu.Unlock()
}

// NewLimiter returns a per-task limiter in this group.
func (g *Group) NewLimiter(rate, burst int64) *Limiter {
	return &Limiter{group: g, bucket: g.newBucket(rate, burst)}
}

// Limiter limits one direction of one task.
type Limiter struct {
	group  *Group
	bucket *ratelimit.Bucket // nil means unlimited
}

// SetRate replaces the task bucket. Zero rate means unlimited.
func (l *Limiter) SetRate(rate, burst int64) {
	l.group.mu.Lock()
	l.bucket = l.group.replaceBucket(l.bucket, rate, burst)
	l.group.mu.Unlock()
}

// Acquire takes up to n tokens and returns how many were granted.
// It never blocks. The result may be zero, in which case the caller should retry later.
func (l *Limiter) Acquire(n int64) int64 {
	if n <= 0 {
		return 0
	}
	l.group.mu.Lock()
	defer l.group.mu.Unlock()
	grant := n
	if l.bucket != nil {
		grant = min64(grant, l.bucket.Available())
	}
	if g := l.group.global; g != nil {
		grant = min64(grant, g.Available())
	}
	if grant <= 0 {
		return 0
	}
	if l.bucket != nil {
		l.bucket.TakeAvailable(grant)
	}
	if g := l.group.global; g != nil {
		g.TakeAvailable(grant)
	}
	return grant
}

// Unlimited reports whether neither the task nor the global bucket limits transfers.
func (l *Limiter) Unlimited() bool {
	l.group.mu.Lock()
	defer l.group.mu.Unlock()
	return l.bucket == nil && l.group.global == nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
