// Package announcer runs the announce loops of a torrent for trackers and the DHT.
package announcer

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v3"

	"github.com/swarmget/swarmget/internal/logger"
	"github.com/swarmget/swarmget/internal/tracker"
)

// Jitter is the fraction by which announce intervals are randomized in both directions.
const Jitter = 0.1

// PeriodicalAnnouncer announces a torrent to one tracker in the interval given by the tracker.
type PeriodicalAnnouncer struct {
	Tracker tracker.Tracker

	numWant    int
	getTorrent func() tracker.Torrent
	completedC chan struct{}
	newPeers   chan []*net.TCPAddr
	log        logger.Logger

	// Fields below are owned by the Run goroutine.
	stats        Stats
	interval     time.Duration
	minInterval  time.Duration
	lastAnnounce time.Time
	retry        backoff.BackOff
	timer        *time.Timer
	ctx          context.Context
	cancel       context.CancelFunc

	moreWanted atomic.Bool
	wakeC      chan struct{}
	resultC    chan announceResult
	statsC     chan chan Stats
	closeC     chan struct{}
	doneC      chan struct{}
}

type announceResult struct {
	resp *tracker.AnnounceResponse
	err  error
}

// NewPeriodicalAnnouncer returns an announcer for trk. Peers returned by the tracker are sent to newPeers.
// Closing completedC sends a completed event unless it is already closed when Run starts.
func NewPeriodicalAnnouncer(trk tracker.Tracker, numWant int, minInterval time.Duration, getTorrent func() tracker.Torrent, completedC chan struct{}, newPeers chan []*net.TCPAddr, l logger.Logger) *PeriodicalAnnouncer {
	return &PeriodicalAnnouncer{
		Tracker:     trk,
		numWant:     numWant,
		getTorrent:  getTorrent,
		completedC:  completedC,
		newPeers:    newPeers,
		log:         l,
		minInterval: minInterval,
		retry: &backoff.ExponentialBackOff{
			InitialInterval:     5 * time.Second,
			RandomizationFactor: 0.5,
			Multiplier:          2,
			MaxInterval:         30 * time.Minute,
			Clock:               backoff.SystemClock,
		},
		wakeC:   make(chan struct{}, 1),
		resultC: make(chan announceResult),
		statsC:  make(chan chan Stats),
		closeC:  make(chan struct{}),
		doneC:   make(chan struct{}),
	}
}

// Close stops the announcer and waits for Run to return.
func (a *PeriodicalAnnouncer) Close() {
	close(a.closeC)
	<-a.doneC
}

// Stats of the tracker. It returns zero Stats after Close.
func (a *PeriodicalAnnouncer) Stats() Stats {
	c := make(chan Stats, 1)
	select {
	case a.statsC <- c:
	case <-a.closeC:
		return Stats{}
	}
	select {
	case s := <-c:
		return s
	case <-a.closeC:
		return Stats{}
	}
}

// NeedMorePeers makes the announcer use the minimum interval instead of the regular one.
func (a *PeriodicalAnnouncer) NeedMorePeers(val bool) {
	a.moreWanted.Store(val)
	select {
	case a.wakeC <- struct{}{}:
	default:
	}
}

// Run the announcer. Invoke with go statement.
func (a *PeriodicalAnnouncer) Run() {
	defer close(a.doneC)
	a.retry.Reset()
	a.timer = time.NewTimer(math.MaxInt64)
	defer a.timer.Stop()
	a.ctx, a.cancel = context.WithCancel(context.Background())
	defer func() { a.cancel() }()

	// BEP 3: no completed event is sent if the download was complete when started.
	select {
	case <-a.completedC:
		a.completedC = nil
	default:
	}

	a.start(tracker.EventStarted, a.numWant)
	for {
		select {
		case <-a.timer.C:
			if a.stats.Status != Contacting {
				a.start(tracker.EventNone, a.numWant)
			}
		case res := <-a.resultC:
			if res.err != nil {
				a.failed(res.err)
			} else if !a.succeeded(res.resp) {
				return
			}
		case <-a.wakeC:
			if a.stats.Status == Working {
				a.timer.Reset(time.Until(a.lastAnnounce.Add(a.nextAnnounce())))
			}
		case <-a.completedC:
			if a.stats.Status == Contacting {
				// The completed event replaces the running announce.
				a.cancel()
				a.ctx, a.cancel = context.WithCancel(context.Background())
			}
			a.start(tracker.EventCompleted, 0)
			a.completedC = nil
		case c := <-a.statsC:
			c <- a.stats
		case <-a.closeC:
			return
		}
	}
}

func (a *PeriodicalAnnouncer) start(event tracker.Event, numWant int) {
	a.stats.Status = Contacting
	go a.announce(a.ctx, event, numWant)
}

// announce runs in its own goroutine. Nothing is sent after ctx is canceled.
func (a *PeriodicalAnnouncer) announce(ctx context.Context, event tracker.Event, numWant int) {
	req := tracker.AnnounceRequest{
		Torrent: a.getTorrent(),
		Event:   event,
		NumWant: numWant,
	}
	resp, err := a.Tracker.Announce(ctx, req)
	if errors.Is(err, context.Canceled) {
		return
	}
	select {
	case a.resultC <- announceResult{resp: resp, err: err}:
	case <-ctx.Done():
	}
}

// succeeded returns false if the announcer is closed while sending peers.
func (a *PeriodicalAnnouncer) succeeded(resp *tracker.AnnounceResponse) bool {
	a.lastAnnounce = time.Now()
	a.stats = Stats{
		Status:   Working,
		Seeders:  int(resp.Seeders),
		Leechers: int(resp.Leechers),
	}
	a.interval = resp.Interval
	if resp.MinInterval > 0 {
		a.minInterval = resp.MinInterval
	}
	a.retry.Reset()
	if resp.WarningMessage != "" {
		a.log.Debugln("tracker warning:", resp.WarningMessage)
	}
	if len(resp.Peers) > 0 && a.newPeers != nil {
		select {
		case a.newPeers <- resp.Peers:
		case <-a.closeC:
			return false
		}
	}
	a.timer.Reset(a.nextAnnounce())
	return true
}

func (a *PeriodicalAnnouncer) failed(err error) {
	a.lastAnnounce = time.Now()
	a.stats.Status = NotWorking
	a.stats.Error = newAnnounceError(err)
	if a.stats.Error.Unknown {
		a.log.Errorln("announce error:", a.stats.Error.ErrorWithType())
	} else {
		a.log.Debugln("announce error:", a.stats.Error.Err.Error())
	}
	var terr *tracker.Error
	if errors.As(err, &terr) && terr.RetryIn > 0 {
		a.timer.Reset(terr.RetryIn)
	} else {
		a.timer.Reset(a.retry.NextBackOff())
	}
}

// nextAnnounce returns the jittered delay after a successful announce.
func (a *PeriodicalAnnouncer) nextAnnounce() time.Duration {
	d := a.interval
	if a.moreWanted.Load() && a.minInterval > 0 {
		d = a.minInterval
	}
	return jitter(d)
}

func jitter(d time.Duration) time.Duration {
	f := 1 + Jitter*(2*rand.Float64()-1) // nolint: gosec
	return time.Duration(float64(d) * f)
}
