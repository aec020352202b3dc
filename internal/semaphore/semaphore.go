// Package semaphore limits the number of tasks doing work at the same time.
package semaphore

import "context"

// Semaphore is a counting semaphore.
type Semaphore struct {
	slots chan struct{}
}

// New returns a Semaphore with n slots. n must be positive.
func New(n int) *Semaphore {
	return &Semaphore{slots: make(chan struct{}, n)}
}

// Acquire blocks until a slot is available or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes a slot if one is available without blocking.
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees a slot taken by Acquire or TryAcquire.
func (s *Semaphore) Release() {
	select {
	case <-s.slots:
	default:
		panic("semaphore: release without acquire")
	}
}

// Len returns the number of slots in use.
func (s *Semaphore) Len() int {
	return len(s.slots)
}

// Cap returns the number of slots.
func (s *Semaphore) Cap() int {
	return cap(s.slots)
}
