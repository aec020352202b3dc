package torrent

import (
	"net"

	"github.com/rcrowley/go-metrics"

	"github.com/swarmget/swarmget/internal/announcer"
	"github.com/swarmget/swarmget/internal/tracker"
)

func (t *torrent) handleStopped() {
	t.stoppedEventAnnouncer = nil
	t.errC <- t.lastError
	t.errC = nil
	t.log.Info("torrent has stopped")
}

// stopping reports whether the stopped event is being announced.
func (t *torrent) stopping() bool {
	return t.stoppedEventAnnouncer != nil
}

func (t *torrent) stop(err error) {
	if !t.running() || t.stopping() {
		return
	}

	t.log.Info("stopping torrent")
	t.lastError = err
	if err != nil && err != errClosed {
		t.log.Error(err)
	}

	t.stopAcceptor()
	t.stopOutgoingHandshakers()
	t.stopIncomingHandshakers()
	t.stopPeers()

	// Trackers that have responded are told that we are leaving.
	trackers := make([]tracker.Tracker, 0, len(t.announcers))
	for _, an := range t.announcers {
		if an.Stats().Status == announcer.Working {
			trackers = append(trackers, an.Tracker)
		}
	}
	t.stopPeriodicalAnnouncers()

	t.writeBitfield()
	t.writeStats()

	t.resetSpeeds()

	// Start new announcer to announce Stopped event to the trackers.
	// The torrent is in "Stopping" state until it is done.
	t.stoppedEventAnnouncer = announcer.NewStopAnnouncer(trackers, t.announcerFields(), t.session.config.TrackerStopTimeout, t.announcersStoppedC, t.log)
	go t.stoppedEventAnnouncer.Run()

	t.addrList.Reset()
}

func (t *torrent) resetSpeeds() {
	t.downloadSpeed.Stop()
	t.downloadSpeed = metrics.NilMeter{}
	t.uploadSpeed.Stop()
	t.uploadSpeed = metrics.NilMeter{}
}

func (t *torrent) stopOutgoingHandshakers() {
	t.log.Debugln("stopping outgoing handshakers")
	for addr, cancel := range t.outgoingHandshakers {
		cancel()
		delete(t.outgoingHandshakers, addr)
		t.forgetIP(addr)
	}
}

func (t *torrent) stopIncomingHandshakers() {
	t.log.Debugln("stopping incoming handshakers")
	for addr, cancel := range t.incomingHandshakers {
		cancel()
		delete(t.incomingHandshakers, addr)
		t.forgetIP(addr)
	}
}

func (t *torrent) forgetIP(hostport string) {
	host, _, err := net.SplitHostPort(hostport)
	if err == nil {
		delete(t.connectedPeerIPs, host)
	}
}

func (t *torrent) stopPeriodicalAnnouncers() {
	t.log.Debugln("stopping announcers")
	for _, an := range t.announcers {
		an.Close()
	}
	t.announcers = nil
	if t.dhtAnnouncer != nil {
		t.dhtAnnouncer.Close()
		t.dhtAnnouncer = nil
		t.session.unregisterDHT(t)
	}
	if t.session.lsd != nil {
		t.session.lsd.Unregister(t.infoHash)
	}
}

func (t *torrent) stopAcceptor() {
	t.log.Debugln("stopping acceptor")
	if t.acceptor != nil {
		t.acceptor.Close()
	}
	t.acceptor = nil
}

func (t *torrent) stopPeers() {
	t.log.Debugln("closing peer connections")
	for pe := range t.peers {
		t.closePeer(pe)
	}
}
