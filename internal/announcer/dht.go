package announcer

import "time"

// DHTAnnouncer calls a function periodically to request peers of a torrent from the DHT.
// The first call is made when Run starts.
type DHTAnnouncer struct {
	announce    func()
	interval    time.Duration
	minInterval time.Duration
	hungry      bool
	hungryC     chan bool
	closeC      chan struct{}
	doneC       chan struct{}
}

// NewDHTAnnouncer returns a DHTAnnouncer calling announce every interval,
// or every minInterval while more peers are needed.
func NewDHTAnnouncer(announce func(), interval, minInterval time.Duration) *DHTAnnouncer {
	return &DHTAnnouncer{
		announce:    announce,
		interval:    interval,
		minInterval: minInterval,
		hungry:      true,
		hungryC:     make(chan bool),
		closeC:      make(chan struct{}),
		doneC:       make(chan struct{}),
	}
}

// Close the announcer.
func (a *DHTAnnouncer) Close() {
	close(a.closeC)
	<-a.doneC
}

// NeedMorePeers switches between the regular and the minimum interval.
func (a *DHTAnnouncer) NeedMorePeers(val bool) {
	select {
	case a.hungryC <- val:
	case <-a.doneC:
	}
}

func (a *DHTAnnouncer) period() time.Duration {
	if a.hungry {
		return a.minInterval
	}
	return a.interval
}

// Run the announcer. Invoke with go statement.
func (a *DHTAnnouncer) Run() {
	defer close(a.doneC)

	var last time.Time
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			a.announce()
			last = time.Now()
			timer.Reset(jitter(a.period()))
		case a.hungry = <-a.hungryC:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(time.Until(last.Add(jitter(a.period()))))
		case <-a.closeC:
			return
		}
	}
}
