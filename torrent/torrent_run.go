package torrent

import (
	"time"

	"github.com/swarmget/swarmget/internal/peersource"
)

// Torrent event loop
func (t *torrent) run() {
	t.seedDurationTicker = time.NewTicker(time.Second)
	defer t.seedDurationTicker.Stop()

	t.unchokeTicker = time.NewTicker(10 * time.Second)
	defer t.unchokeTicker.Stop()

	t.dialTicker = time.NewTicker(time.Second)
	defer t.dialTicker.Stop()

	t.resumeWriteTicker = time.NewTicker(t.session.config.BitfieldWriteInterval)
	defer t.resumeWriteTicker.Stop()

	for {
		select {
		case <-t.closeC:
			t.close()
			close(t.doneC)
			return
		case od := <-t.openCommandC:
			t.handleOpened(od)
		case req := <-t.startCommandC:
			t.start()
			req.Response <- t.errC
		case <-t.stopCommandC:
			t.stop(nil)
		case <-t.announcersStoppedC:
			t.handleStopped()
		case req := <-t.statsCommandC:
			req.Response <- t.stats()
		case req := <-t.peersCommandC:
			req.Response <- t.getPeers()
		case l := <-t.speedLimitCommandC:
			t.downloadLimiter.SetRate(rate(l.TaskDownload))
			t.uploadLimiter.SetRate(rate(l.TaskUpload))
		case addrs := <-t.addrsFromTrackers:
			t.handleNewPeers(addrs, peersource.Tracker)
		case addrs := <-t.dhtPeersC:
			t.handleNewPeers(addrs, peersource.DHT)
		case addrs := <-t.lsdPeersC:
			t.handleNewPeers(addrs, peersource.LSD)
		case addrs := <-t.addPeersCommandC:
			t.fixedPeers = append(t.fixedPeers, addrs...)
			t.handleNewPeers(addrs, peersource.Manual)
		case conn := <-t.incomingConnC:
			t.handleNewConnection(conn)
		case now := <-t.seedDurationTicker.C:
			t.updateSeedDuration(now)
		case <-t.unchokeTicker.C:
			t.unchoker.TickUnchoke(t.getPeersForUnchoker(), t.completed)
		case <-t.dialTicker.C:
			t.dialAddresses()
		case now := <-t.resumeWriteTicker.C:
			t.writeResume(now)
		case ih := <-t.incomingHandshakeC:
			t.handleIncomingHandshakeDone(ih)
		case oh := <-t.outgoingHandshakeC:
			t.handleOutgoingHandshakeDone(oh)
		case pe := <-t.peerDisconnectedC:
			t.closePeer(pe)
		case pm := <-t.messages:
			t.handlePeerMessage(pm)
		}
	}
}

func (t *torrent) updateSeedDuration(now time.Time) {
	if !t.running() || !t.completed {
		t.lastSeedTick = time.Time{}
		return
	}
	if !t.lastSeedTick.IsZero() {
		t.resumerStats.SeededFor += now.Sub(t.lastSeedTick)
	}
	t.lastSeedTick = now
}
