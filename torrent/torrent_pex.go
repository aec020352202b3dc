package torrent

import (
	"net"

	"github.com/swarmget/swarmget/internal/peer"
	"github.com/swarmget/swarmget/internal/peerprotocol"
	"github.com/swarmget/swarmget/internal/peersource"
	"github.com/swarmget/swarmget/internal/tracker"
)

func (t *torrent) connectedAddrs() []*net.TCPAddr {
	addrs := make([]*net.TCPAddr, 0, len(t.peers))
	for pe := range t.peers {
		addrs = append(addrs, t.listenAddr(pe))
	}
	return addrs
}

// listenAddr returns the address other peers can connect to the peer at.
func (t *torrent) listenAddr(pe *peer.Peer) *net.TCPAddr {
	addr := pe.Addr()
	if pe.Incoming && pe.ExtensionHandshake != nil && pe.ExtensionHandshake.Port > 0 {
		return &net.TCPAddr{IP: addr.IP, Port: int(pe.ExtensionHandshake.Port)}
	}
	return addr
}

func (t *torrent) pexAddPeer(addr *net.TCPAddr) {
	if !t.session.config.PEXEnabled {
		return
	}
	key := addr.String()
	for pe := range t.peers {
		if pe.String() != key {
			pe.PEXAdd(addr)
		}
	}
}

func (t *torrent) pexDropPeer(addr *net.TCPAddr) {
	if !t.session.config.PEXEnabled {
		return
	}
	for pe := range t.peers {
		pe.PEXDrop(addr)
	}
}

func (t *torrent) handlePEXMessage(pe *peer.Peer, payload []byte) {
	msg, err := peerprotocol.ParsePEX(payload)
	if err != nil {
		pe.Logger().Debugln(err)
		return
	}
	addrs, err := tracker.DecodePeersCompact([]byte(msg.Added))
	if err != nil {
		pe.Logger().Debugln("invalid pex peers:", err)
		return
	}
	t.handleNewPeers(addrs, peersource.PEX)
}
