package torrent

import (
	"errors"
	"net"

	"github.com/swarmget/swarmget/internal/bitfield"
	"github.com/swarmget/swarmget/internal/peer"
	"github.com/swarmget/swarmget/internal/peerconn"
	"github.com/swarmget/swarmget/internal/peerprotocol"
	"github.com/swarmget/swarmget/internal/piecestore"
)

func (t *torrent) handlePeerMessage(pm peer.Message) {
	pe := pm.Peer
	if _, ok := t.peers[pe]; !ok {
		return
	}
	switch msg := pm.Message.(type) {
	case peerprotocol.BitfieldMessage:
		bf, err := bitfield.FromBytes(msg.Data, t.layout.NumPieces)
		if err != nil {
			pe.Logger().Errorln("invalid bitfield:", err)
			t.closePeer(pe)
			break
		}
		pe.Bitfield = bf
		t.piecePicker.HandleBitfield(pe)
		t.updateInterestedState(pe)
		t.requestBlocks(pe)
	case peerprotocol.HaveMessage:
		if msg.Index >= t.layout.NumPieces {
			pe.Logger().Errorln("unexpected piece index:", msg.Index)
			t.closePeer(pe)
			break
		}
		t.piecePicker.HandleHave(pe, msg.Index)
		if !t.store.Have(msg.Index) {
			pe.SetInterested(true)
		}
		t.requestBlocks(pe)
	case peerprotocol.UnchokeMessage:
		t.requestBlocks(pe)
	case peerprotocol.ChokeMessage:
		// Pending requests are returned with BlockDone events before this message.
	case peerprotocol.InterestedMessage:
		t.unchoker.FastUnchoke(pe)
	case peerprotocol.NotInterestedMessage:
	case peerprotocol.PortMessage:
		if t.session.dht != nil {
			addr := &net.UDPAddr{IP: pe.Addr().IP, Port: int(msg.Port)}
			t.session.dht.AddNode(addr.String())
		}
	case peerprotocol.ExtensionMessage:
		t.handleExtensionMessage(pe, msg)
	case peerconn.BlockDone:
		t.handleBlockDone(pe, msg.Request)
	case peerconn.BlockUploaded:
		n := int64(msg.Length)
		t.uploadSpeed.Mark(n)
		t.session.uploadSpeed.Mark(n)
		t.bytesUploaded.Add(n)
		t.resumerStats.BytesUploaded += n
		pe.Uploaded(n)
	default:
		pe.Logger().Debugf("unhandled message type: %T", msg)
	}
}

func (t *torrent) handleExtensionMessage(pe *peer.Peer, msg peerprotocol.ExtensionMessage) {
	switch msg.ExtendedID {
	case peerprotocol.ExtensionIDHandshake:
		hs, err := peerprotocol.ParseExtensionHandshake(msg.Payload)
		if err != nil {
			pe.Logger().Debugln(err)
			t.closePeer(pe)
			return
		}
		pe.ExtensionHandshake = &hs
		if t.session.config.PEXEnabled {
			pe.StartPEX(t.connectedAddrs(), &t.recentlySeen)
		}
	case peerprotocol.ExtensionIDPEX:
		if !t.session.config.PEXEnabled {
			return
		}
		t.handlePEXMessage(pe, msg.Payload)
	default:
		pe.Logger().Debugln("unknown extension message id:", msg.ExtendedID)
	}
}

func (t *torrent) handleBlockDone(pe *peer.Peer, req *peerconn.Request) {
	res, err := req.Result()
	br := req.BlockRequest
	switch {
	case err == nil:
		n := int64(br.Length)
		t.downloadSpeed.Mark(n)
		t.session.downloadSpeed.Mark(n)
		t.bytesDownloaded.Add(n)
		t.resumerStats.BytesDownloaded += n
		pe.Downloaded(n)
		for _, other := range t.piecePicker.HandleBlockDone(pe, br) {
			other.Cancel(br)
			t.requestBlocks(other)
		}
		if res.Duplicate {
			t.resumerStats.BytesWasted += n
		}
		switch {
		case res.Completed:
			t.handlePieceCompleted(br.Index)
		case res.HashFailed:
			t.handleHashFailure(br.Index, res.Contributors)
		}
	case errors.Is(err, peerconn.ErrTimeout):
		pe.Logger().Debugln("block timed out:", br)
		t.piecePicker.HandleTimeout(pe, br)
		t.requestFromOthers(pe, br.Index)
	case errors.Is(err, peerconn.ErrChoked), errors.Is(err, peerconn.ErrPeerClosed):
		t.piecePicker.HandleCancel(pe, br)
	default:
		t.piecePicker.HandleCancel(pe, br)
		var derr *piecestore.DiskError
		if errors.As(err, &derr) {
			t.stop(derr)
			return
		}
		pe.Logger().Errorln("cannot save block:", err)
		t.closePeer(pe)
		return
	}
	t.requestBlocks(pe)
}

func (t *torrent) handlePieceCompleted(index uint32) {
	t.log.Debugf("piece #%d completed", index)
	for pe := range t.peers {
		if !pe.Bitfield.Test(index) {
			pe.Send(peerprotocol.HaveMessage{Index: index})
		}
	}
	t.piecesDone.Set(index)
	if t.piecesDone.All() {
		t.handleCompleted()
		return
	}
	for pe := range t.peers {
		t.updateInterestedState(pe)
	}
}

func (t *torrent) handleHashFailure(index uint32, contributors []string) {
	t.log.Warningf("piece #%d failed hash check", index)
	t.resumerStats.BytesWasted += int64(t.layout.Length(index))
	maxFailures := t.session.config.MaxHashFailures
	for pe := range t.peers {
		if !contains(contributors, pe.String()) {
			continue
		}
		pe.HashFailureCount++
		if maxFailures > 0 && pe.HashFailureCount >= maxFailures {
			pe.Logger().Warningln("disconnecting peer after corrupt pieces:", pe.HashFailureCount)
			t.addrList.Block(pe.Addr().IP)
			t.closePeer(pe)
		}
	}
}

func (t *torrent) handleCompleted() {
	if t.completed {
		return
	}
	t.log.Info("download completed")
	t.markCompleted()
	t.writeBitfield()
	for pe := range t.peers {
		pe.SetInterested(false)
		// Peers that are seeding are of no use to us anymore.
		if pe.Bitfield.All() {
			t.closePeer(pe)
		}
	}
	t.addrList.Reset()
	t.stopOutgoingHandshakers()
	t.session.notifyComplete(t)
	if !t.session.config.Seed {
		t.stop(nil)
	}
}

// requestFromOthers fills the queues of peers other than pe that have the piece.
func (t *torrent) requestFromOthers(pe *peer.Peer, index uint32) {
	for other := range t.peers {
		if other != pe && other.Bitfield.Test(index) {
			t.requestBlocks(other)
		}
	}
}

func contains(l []string, s string) bool {
	for _, x := range l {
		if x == s {
			return true
		}
	}
	return false
}
