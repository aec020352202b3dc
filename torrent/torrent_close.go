package torrent

import (
	"github.com/swarmget/swarmget/internal/peer"
)

func (t *torrent) close() {
	// Stop if running.
	t.stop(errClosed)

	// Maybe we are in "Stopping" state. Close "stopped" event announcer.
	if t.stoppedEventAnnouncer != nil {
		t.stoppedEventAnnouncer.Close()
		t.handleStopped()
	}

	// Pieces verified while opening are saved even if the torrent has never been started.
	t.writeBitfield()
	t.writeStats()

	t.downloadSpeed.Stop()
	t.uploadSpeed.Stop()
}

func (t *torrent) closePeer(pe *peer.Peer) {
	if _, ok := t.peers[pe]; !ok {
		return
	}
	pe.Close()
	addr := pe.Addr()
	delete(t.peers, pe)
	delete(t.incomingPeers, pe)
	delete(t.outgoingPeers, pe)
	delete(t.peerIDs, pe.ID)
	delete(t.connectedPeerIPs, addr.IP.String())
	if t.piecePicker != nil {
		t.piecePicker.HandleDisconnect(pe)
	}
	t.unchoker.HandleDisconnect(pe)
	t.pexDropPeer(addr)
	t.recentlySeen.Add(addr)
	if err := pe.Err(); err != nil {
		pe.Logger().Debugln("disconnected:", err)
	}
}
