package tracker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeTracker struct {
	url   string
	fail  bool
	calls int
}

func (f *fakeTracker) Announce(ctx context.Context, req AnnounceRequest) (*AnnounceResponse, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("unreachable")
	}
	return &AnnounceResponse{}, nil
}

func (f *fakeTracker) URL() string { return f.url }

func TestTierRotatesOnFailure(t *testing.T) {
	a := &fakeTracker{url: "a", fail: true}
	b := &fakeTracker{url: "b", fail: true}
	tier := NewTier([]Tracker{a, b})
	first := tier.URL()
	_, err := tier.Announce(context.Background(), AnnounceRequest{})
	assert.Error(t, err)
	assert.NotEqual(t, first, tier.URL())
	_, _ = tier.Announce(context.Background(), AnnounceRequest{})
	assert.Equal(t, first, tier.URL())
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestEventString(t *testing.T) {
	assert.Equal(t, "started", EventStarted.String())
	assert.Equal(t, "empty", EventNone.String())
}
