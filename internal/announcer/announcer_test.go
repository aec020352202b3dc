package announcer

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmget/swarmget/internal/logger"
	"github.com/swarmget/swarmget/internal/tracker"
)

type fakeTracker struct {
	mu     sync.Mutex
	events []tracker.Event
	err    error
	peers  []*net.TCPAddr
}

func (t *fakeTracker) URL() string { return "fake://tracker" }

func (t *fakeTracker) Announce(ctx context.Context, req tracker.AnnounceRequest) (*tracker.AnnounceResponse, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, req.Event)
	if t.err != nil {
		return nil, t.err
	}
	return &tracker.AnnounceResponse{Interval: time.Hour, Seeders: 3, Leechers: 4, Peers: t.peers}, nil
}

func (t *fakeTracker) Events() []tracker.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]tracker.Event(nil), t.events...)
}

func getTorrent() tracker.Torrent { return tracker.Torrent{Port: 6881} }

func TestPeriodicalAnnouncer(t *testing.T) {
	peer := &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5000}
	trk := &fakeTracker{peers: []*net.TCPAddr{peer}}
	completedC := make(chan struct{})
	newPeers := make(chan []*net.TCPAddr, 1)
	a := NewPeriodicalAnnouncer(trk, 50, time.Minute, getTorrent, completedC, newPeers, logger.New("test"))
	go a.Run()
	defer a.Close()

	select {
	case addrs := <-newPeers:
		assert.Equal(t, []*net.TCPAddr{peer}, addrs)
	case <-time.After(time.Second):
		t.Fatal("no peers received")
	}
	stats := a.Stats()
	assert.Equal(t, Working, stats.Status)
	assert.Equal(t, 3, stats.Seeders)
	assert.Equal(t, 4, stats.Leechers)

	close(completedC)
	<-newPeers
	assert.Equal(t, []tracker.Event{tracker.EventStarted, tracker.EventCompleted}, trk.Events())
}

func TestNoCompletedEventWhenAlreadyComplete(t *testing.T) {
	trk := &fakeTracker{peers: []*net.TCPAddr{{IP: net.IPv4(10, 0, 0, 1), Port: 5000}}}
	completedC := make(chan struct{})
	close(completedC)
	newPeers := make(chan []*net.TCPAddr, 1)
	a := NewPeriodicalAnnouncer(trk, 50, time.Minute, getTorrent, completedC, newPeers, logger.New("test"))
	go a.Run()
	<-newPeers
	a.Close()
	assert.Equal(t, []tracker.Event{tracker.EventStarted}, trk.Events())
}

func TestAnnounceErrorIsReported(t *testing.T) {
	trk := &fakeTracker{err: &tracker.Error{FailureReason: "unregistered torrent"}}
	a := NewPeriodicalAnnouncer(trk, 50, time.Minute, getTorrent, nil, nil, logger.New("test"))
	go a.Run()
	defer a.Close()

	require.Eventually(t, func() bool { return a.Stats().Status == NotWorking }, time.Second, 10*time.Millisecond)
	stats := a.Stats()
	require.NotNil(t, stats.Error)
	assert.Equal(t, "announce error: unregistered torrent", stats.Error.Message)
	assert.False(t, stats.Error.Unknown)
}

func TestNewAnnounceError(t *testing.T) {
	e := newAnnounceError(errors.New("boom"))
	assert.True(t, e.Unknown)
	assert.Equal(t, "*errors.errorString: boom", e.ErrorWithType())
}

func TestJitter(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jitter(100 * time.Second)
		assert.GreaterOrEqual(t, d, 90*time.Second)
		assert.LessOrEqual(t, d, 110*time.Second)
	}
}

func TestStopAnnouncer(t *testing.T) {
	trackers := []tracker.Tracker{&fakeTracker{}, &fakeTracker{}}
	resultC := make(chan struct{})
	a := NewStopAnnouncer(trackers, getTorrent(), time.Second, resultC, logger.New("test"))
	go a.Run()
	defer a.Close()
	select {
	case <-resultC:
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
	for _, trk := range trackers {
		assert.Equal(t, []tracker.Event{tracker.EventStopped}, trk.(*fakeTracker).Events())
	}
}

func TestDHTAnnouncer(t *testing.T) {
	calls := make(chan struct{}, 10)
	a := NewDHTAnnouncer(func() { calls <- struct{}{} }, time.Hour, 20*time.Millisecond)
	go a.Run()
	defer a.Close()
	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(time.Second):
			t.Fatal("no announce")
		}
	}
	a.NeedMorePeers(false)
	for len(calls) > 0 {
		<-calls
	}
	select {
	case <-calls:
		t.Fatal("unexpected announce")
	case <-time.After(100 * time.Millisecond):
	}
}
