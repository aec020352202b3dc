package peerconn

import (
	"time"

	"github.com/swarmget/swarmget/internal/peerprotocol"
	"github.com/swarmget/swarmget/internal/piecestore"
)

func (c *Conn) ageLoop() {
	interval := c.config.RequestTimeout / 4
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			if !c.ageRequests(now) {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// ageRequests sends requests older than RequestTimeout again once and fails them after the
// second timeout. It returns false if the connection is closing.
func (c *Conn) ageRequests(now time.Time) bool {
	var expired []*Request
	c.mu.Lock()
	for br, r := range c.pending {
		if now.Sub(r.sentAt) < c.config.RequestTimeout {
			continue
		}
		msg := peerprotocol.RequestMessage{Index: br.Index, Begin: br.Begin, Length: br.Length}
		if !r.retried {
			r.retried = true
			r.sentAt = now
			c.Send(msg)
			continue
		}
		delete(c.pending, br)
		c.Send(peerprotocol.CancelMessage(msg))
		expired = append(expired, r)
	}
	c.mu.Unlock()
	for _, r := range expired {
		c.log.Debugf("request timed out: %+v", r.BlockRequest)
		r.resolve(piecestore.Result{}, ErrTimeout)
		if !c.emit(BlockDone{Request: r}) {
			return false
		}
	}
	return true
}
