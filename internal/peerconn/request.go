package peerconn

import (
	"sync"
	"time"

	"github.com/swarmget/swarmget/internal/piece"
	"github.com/swarmget/swarmget/internal/piecestore"
)

// Request is a pending block request. It is resolved once, when the block has been
// handed to the Sink, or when the request fails.
type Request struct {
	piece.BlockRequest

	// Guarded by Conn.mu.
	sentAt  time.Time
	retried bool

	once   sync.Once
	doneC  chan struct{}
	result piecestore.Result
	err    error
}

func newRequest(br piece.BlockRequest, now time.Time) *Request {
	return &Request{BlockRequest: br, sentAt: now, doneC: make(chan struct{})}
}

// Done returns a channel that is closed when the request is resolved.
func (r *Request) Done() <-chan struct{} {
	return r.doneC
}

// Result returns the store result for the block, or ErrTimeout, ErrPeerClosed, ErrChoked,
// ErrCanceled or the error of the Sink. It must be called after Done is closed.
func (r *Request) Result() (piecestore.Result, error) {
	return r.result, r.err
}

func (r *Request) resolve(res piecestore.Result, err error) {
	r.once.Do(func() {
		r.result, r.err = res, err
		close(r.doneC)
	})
}
