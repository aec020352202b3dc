package torrent

import (
	"time"

	"github.com/swarmget/swarmget/internal/peer"
)

// requestBlocks fills the request pipeline of the peer.
func (t *torrent) requestBlocks(pe *peer.Peer) {
	if !t.running() || t.stopping() || t.completed {
		return
	}
	if pe.PeerChoking() {
		return
	}
	n := t.maxAllowedRequests(pe) - pe.Outstanding()
	if n <= 0 {
		return
	}
	for _, br := range t.piecePicker.PickFor(pe, n) {
		if _, err := pe.RequestBlock(br); err != nil {
			pe.Logger().Debugln("cannot request block:", err)
			t.piecePicker.HandleCancel(pe, br)
		}
	}
}

func (t *torrent) maxAllowedRequests(pe *peer.Peer) int {
	ret := t.session.config.RequestQueueLength
	if pe.ExtensionHandshake != nil && pe.ExtensionHandshake.RequestQueue > 0 && pe.ExtensionHandshake.RequestQueue < ret {
		ret = pe.ExtensionHandshake.RequestQueue
	}
	return ret
}

// updateInterestedState sends interested if the peer has a piece that we don't have.
func (t *torrent) updateInterestedState(pe *peer.Peer) {
	if t.completed {
		pe.SetInterested(false)
		return
	}
	for i := uint32(0); i < t.layout.NumPieces; i++ {
		if pe.Bitfield.Test(i) && !t.store.Have(i) {
			pe.SetInterested(true)
			return
		}
	}
	pe.SetInterested(false)
}

func (t *torrent) writeResume(now time.Time) {
	if !t.running() {
		return
	}
	t.writeBitfield()
	if now.Sub(t.lastStatsWriteAt) >= t.session.config.StatsWriteInterval {
		t.writeStats()
		t.lastStatsWriteAt = now
	}
}

// writeBitfield saves the bitfield if it has changed since the last write.
// A torrent without a saved bitfield is hash checked when opened next time.
func (t *torrent) writeBitfield() {
	if t.resume == nil || t.store == nil {
		return
	}
	bf := t.store.Bitfield()
	if t.bitfieldSaved && bf.Count() == t.lastBitfieldWrite {
		return
	}
	if err := t.resume.WriteBitfield(bf.Bytes()); err != nil {
		t.log.Errorf("cannot write bitfield to resume db: %s", err)
		return
	}
	t.bitfieldSaved = true
	t.lastBitfieldWrite = bf.Count()
}

func (t *torrent) writeStats() {
	if t.resume == nil {
		return
	}
	if err := t.resume.WriteStats(t.resumerStats); err != nil {
		t.log.Errorf("cannot write stats to resume db: %s", err)
	}
}
