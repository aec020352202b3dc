package ratelimiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1e9, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) { c.Advance(d) }

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestUnlimited(t *testing.T) {
	g := NewGroup(0, 0)
	l := g.NewLimiter(0, 0)
	assert.True(t, l.Unlimited())
	assert.Equal(t, int64(1<<30), l.Acquire(1<<30))
}

func TestPartialGrant(t *testing.T) {
	clock := newFakeClock()
	g := NewGroupWithClock(0, 0, clock)
	l := g.NewLimiter(1000, 1000)
	assert.Equal(t, int64(600), l.Acquire(600))
	assert.Equal(t, int64(400), l.Acquire(600))
	assert.Equal(t, int64(0), l.Acquire(600))
	clock.Advance(100 * time.Millisecond)
	assert.Equal(t, int64(100), l.Acquire(600))
}

func TestMinimumOfTaskAndGlobal(t *testing.T) {
	clock := newFakeClock()
	g := NewGroupWithClock(500, 500, clock)
	a := g.NewLimiter(1000, 1000)
	b := g.NewLimiter(0, 0)
	assert.Equal(t, int64(300), a.Acquire(300))
	// global has 200 left, b has no task limit
	assert.Equal(t, int64(200), b.Acquire(1000))
	assert.Equal(t, int64(0), a.Acquire(1))
}

func TestGrantedBytesBound(t *testing.T) {
	const rate, burst = 10000, 2000
	clock := newFakeClock()
	g := NewGroupWithClock(0, 0, clock)
	l := g.NewLimiter(rate, burst)
	var granted int64
	const steps = 1000
	step := 7 * time.Millisecond
	for i := 0; i < steps; i++ {
		granted += l.Acquire(1500)
		clock.Advance(step)
		window := time.Duration(i+1) * step
		limit := int64(float64(rate)*window.Seconds()) + burst
		assert.LessOrEqual(t, granted, limit)
	}
	// the limiter is not starving either
	assert.Greater(t, granted, int64(0.9*rate*steps*step.Seconds()))
}

func TestSetRate(t *testing.T) {
	g := NewGroup(0, 0)
	l := g.NewLimiter(0, 0)
	l.SetRate(100, 100)
	assert.False(t, l.Unlimited())
	assert.Equal(t, int64(100), l.Acquire(1000))
	l.SetRate(0, 0)
	assert.Equal(t, int64(1000), l.Acquire(1000))
}

func TestSetRateKeepsSpentTokens(t *testing.T) {
	clock := newFakeClock()
	g := NewGroupWithClock(0, 0, clock)
	l := g.NewLimiter(1000, 1000)
	assert.Equal(t, int64(1000), l.Acquire(1000))

	// A rate change does not refill the bucket.
	l.SetRate(2000, 2000)
	assert.Equal(t, int64(0), l.Acquire(1000))
	clock.Advance(100 * time.Millisecond)
	assert.Equal(t, int64(200), l.Acquire(1000))

	// Tokens left over are capped by the new burst.
	clock.Advance(time.Second)
	l.SetRate(500, 500)
	assert.Equal(t, int64(500), l.Acquire(1000))
}

func TestGroupSetRateKeepsSpentTokens(t *testing.T) {
	clock := newFakeClock()
	g := NewGroupWithClock(1000, 1000, clock)
	l := g.NewLimiter(0, 0)
	assert.Equal(t, int64(1000), l.Acquire(1000))
	g.SetRate(1000, 1000)
	assert.Equal(t, int64(0), l.Acquire(1))
	clock.Advance(time.Second)
	assert.Equal(t, int64(1000), l.Acquire(1000))
}

func TestWait(t *testing.T) {
	g := NewGroup(0, 0)
	l := g.NewLimiter(0, 0)
	assert.NoError(t, l.Wait(context.Background(), 100))

	l.SetRate(1, 1)
	assert.Equal(t, int64(1), l.Acquire(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, context.Canceled, l.Wait(ctx, 1000))
}
