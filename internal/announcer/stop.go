package announcer

import (
	"context"
	"fmt"
	"time"

	"github.com/swarmget/swarmget/internal/logger"
	"github.com/swarmget/swarmget/internal/tracker"
)

// StopAnnouncer sends the stopped event to all trackers of a torrent in parallel.
type StopAnnouncer struct {
	log      logger.Logger
	timeout  time.Duration
	trackers []tracker.Tracker
	torrent  tracker.Torrent
	resultC  chan struct{}
	closeC   chan struct{}
	doneC    chan struct{}
}

// NewStopAnnouncer returns a StopAnnouncer. A value is sent to resultC when all trackers
// have responded or timeout has passed.
func NewStopAnnouncer(trackers []tracker.Tracker, t tracker.Torrent, timeout time.Duration, resultC chan struct{}, l logger.Logger) *StopAnnouncer {
	return &StopAnnouncer{
		log:      l,
		timeout:  timeout,
		trackers: trackers,
		torrent:  t,
		resultC:  resultC,
		closeC:   make(chan struct{}),
		doneC:    make(chan struct{}),
	}
}

// Close cancels pending requests and waits for Run to return.
func (a *StopAnnouncer) Close() {
	close(a.closeC)
	<-a.doneC
}

// Run the announcer. Invoke with go statement.
func (a *StopAnnouncer) Run() {
	defer close(a.doneC)

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
		case <-a.closeC:
			cancel()
		}
	}()

	req := tracker.AnnounceRequest{Torrent: a.torrent, Event: tracker.EventStopped}
	errC := make(chan error, len(a.trackers))
	for _, trk := range a.trackers {
		go func(trk tracker.Tracker) {
			_, err := trk.Announce(ctx, req)
			if err != nil {
				err = fmt.Errorf("%s: %w", trk.URL(), err)
			}
			errC <- err
		}(trk)
	}
	var failed int
	for range a.trackers {
		if err := <-errC; err != nil {
			a.log.Debugln("cannot announce stop:", err)
			failed++
		}
	}
	if failed > 0 {
		a.log.Debugf("stopped event is not delivered to %d of %d trackers", failed, len(a.trackers))
	}
	select {
	case a.resultC <- struct{}{}:
	case <-a.closeC:
	}
}
