package semaphore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSemaphore(t *testing.T) {
	s := New(2)
	assert.NoError(t, s.Acquire(context.Background()))
	assert.True(t, s.TryAcquire())
	assert.False(t, s.TryAcquire())
	assert.Equal(t, 2, s.Len())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Equal(t, context.DeadlineExceeded, s.Acquire(ctx))

	s.Release()
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.TryAcquire())
}

func TestReleaseWithoutAcquire(t *testing.T) {
	s := New(1)
	assert.Panics(t, s.Release)
}
