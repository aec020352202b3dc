package torrent

import (
	"net"

	"github.com/rcrowley/go-metrics"

	"github.com/swarmget/swarmget/internal/acceptor"
	"github.com/swarmget/swarmget/internal/announcer"
	"github.com/swarmget/swarmget/internal/peersource"
	"github.com/swarmget/swarmget/internal/tracker"
)

type startRequest struct {
	Response chan chan error
}

func (t *torrent) start() {
	// Do not start before files are opened.
	if t.store == nil {
		return
	}

	// Stop announcing Stopped event if in "Stopping" state.
	if t.stoppedEventAnnouncer != nil {
		t.stoppedEventAnnouncer.Close()
		t.handleStopped()
	}

	// Do not start if already started.
	if t.errC != nil {
		return
	}

	t.log.Info("starting torrent")
	t.errC = make(chan error, 1)
	t.lastError = nil
	t.downloadSpeed = metrics.NewMeter()
	t.uploadSpeed = metrics.NewMeter()

	t.startAcceptor()
	t.startAnnouncers()
	t.addFixedPeers()
	t.dialAddresses()
}

func (t *torrent) addFixedPeers() {
	if len(t.fixedPeers) > 0 {
		t.handleNewPeers(t.fixedPeers, peersource.Manual)
	}
}

func (t *torrent) startAnnouncers() {
	if len(t.announcers) == 0 {
		for _, tr := range t.trackers {
			t.startNewAnnouncer(tr)
		}
	}
	cfg := &t.session.config
	if t.dhtAnnouncer == nil && t.session.dht != nil {
		port := t.port
		t.dhtAnnouncer = announcer.NewDHTAnnouncer(func() { t.announceDHT(port) }, cfg.DHTAnnounceInterval, cfg.DHTMinAnnounceInterval)
		go t.dhtAnnouncer.Run()
	}
	if t.session.lsd != nil {
		t.session.lsd.Register(t.infoHash, t.port, t.lsdPeersC)
	}
}

func (t *torrent) startNewAnnouncer(tr tracker.Tracker) {
	an := announcer.NewPeriodicalAnnouncer(
		tr,
		t.session.config.TrackerNumWant,
		t.session.config.TrackerMinAnnounceInterval,
		t.announcerFields,
		t.completeC,
		t.addrsFromTrackers,
		t.log,
	)
	t.announcers = append(t.announcers, an)
	go an.Run()
}

func (t *torrent) startAcceptor() {
	if t.acceptor != nil {
		return
	}
	listener, err := net.ListenTCP("tcp4", &net.TCPAddr{Port: t.port})
	if err != nil {
		t.log.Warningf("cannot listen port %d: %s", t.port, err)
		return
	}
	t.log.Info("Listening peers on tcp://" + listener.Addr().String())
	t.port = listener.Addr().(*net.TCPAddr).Port
	t.acceptor = acceptor.New(listener, t.incomingConnC, t.log)
	go t.acceptor.Run()
}
