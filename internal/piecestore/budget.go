package piecestore

import "sync"

// Budget is the memory available for staging unverified pieces.
// One Budget may be shared by the stores of many torrents.
type Budget struct {
	mu     sync.Mutex
	limit  int64 // zero means unlimited
	used   int64
	spaceC chan struct{}
}

// NewBudget returns a Budget of limit bytes. Zero limit means unlimited.
func NewBudget(limit int64) *Budget {
	return &Budget{limit: limit, spaceC: make(chan struct{})}
}

// SetLimit changes the limit. Already staged pieces are kept even if they exceed it.
func (b *Budget) SetLimit(limit int64) {
	b.mu.Lock()
	b.limit = limit
	b.notify()
	b.mu.Unlock()
}

// Used returns the number of staged bytes.
func (b *Budget) Used() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// SpaceAvailable returns a channel that is closed the next time staged bytes are released.
func (b *Budget) SpaceAvailable() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spaceC
}

// reserve takes n bytes. force admits the reservation even if it exceeds the limit.
func (b *Budget) reserve(n int64, force bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !force && b.limit > 0 && b.used+n > b.limit {
		return false
	}
	b.used += n
	return true
}

func (b *Budget) release(n int64) {
	b.mu.Lock()
	b.used -= n
	b.notify()
	b.mu.Unlock()
}

func (b *Budget) notify() {
	close(b.spaceC)
	b.spaceC = make(chan struct{})
}
