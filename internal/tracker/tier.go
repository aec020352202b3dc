package tracker

import (
	"context"
	"math/rand"
	"sync"
)

// Tier is a list of trackers that are tried in turn.
// After a failure the next announce goes to the next tracker in the tier.
type Tier struct {
	trackers []Tracker
	mu       sync.Mutex
	index    int
}

var _ Tracker = (*Tier)(nil)

// NewTier returns a Tier of trackers in random order.
func NewTier(trackers []Tracker) *Tier {
	rand.Shuffle(len(trackers), func(i, j int) { trackers[i], trackers[j] = trackers[j], trackers[i] })
	return &Tier{trackers: trackers}
}

// Announce to the current tracker of the tier.
func (t *Tier) Announce(ctx context.Context, req AnnounceRequest) (*AnnounceResponse, error) {
	trk, index := t.current()
	resp, err := trk.Announce(ctx, req)
	if err != nil {
		t.mu.Lock()
		if t.index == index {
			t.index = (index + 1) % len(t.trackers)
		}
		t.mu.Unlock()
	}
	return resp, err
}

// URL of the current tracker.
func (t *Tier) URL() string {
	trk, _ := t.current()
	return trk.URL()
}

func (t *Tier) current() (Tracker, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.trackers[t.index], t.index
}
