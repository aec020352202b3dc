package torrent

import (
	"context"
	"net"

	"github.com/swarmget/swarmget/internal/btconn"
	"github.com/swarmget/swarmget/internal/logger"
	"github.com/swarmget/swarmget/internal/peer"
	"github.com/swarmget/swarmget/internal/peerconn"
	"github.com/swarmget/swarmget/internal/peerprotocol"
	"github.com/swarmget/swarmget/internal/peersource"
	"github.com/swarmget/swarmget/internal/unchoker"
)

type outgoingHandshakeResult struct {
	Addr       *net.TCPAddr
	Source     peersource.Source
	Conn       net.Conn
	Extensions peerprotocol.Extensions
	PeerID     [20]byte
	Error      error
}

type incomingHandshakeResult struct {
	Conn       net.Conn
	Extensions peerprotocol.Extensions
	PeerID     [20]byte
	Error      error
}

func (t *torrent) setNeedMorePeers(val bool) {
	for _, an := range t.announcers {
		an.NeedMorePeers(val)
	}
	if t.dhtAnnouncer != nil {
		t.dhtAnnouncer.NeedMorePeers(val)
	}
}

func (t *torrent) handleNewPeers(addrs []*net.TCPAddr, source peersource.Source) {
	t.log.Debugf("received %d peers from %s", len(addrs), source)
	if !t.running() || t.stopping() {
		return
	}
	if t.completed {
		return
	}
	if t.addrList.Push(addrs, source) > 0 {
		t.setNeedMorePeers(false)
	}
	t.dialAddresses()
}

func (t *torrent) dialAddresses() {
	if !t.running() || t.stopping() || t.completed {
		return
	}
	cfg := &t.session.config
	for len(t.outgoingHandshakers) < cfg.MaxPeerDial && len(t.peers)+len(t.outgoingHandshakers) < cfg.MaxPeers {
		candidates := t.addrList.NextCandidates(1)
		if len(candidates) == 0 {
			t.setNeedMorePeers(true)
			return
		}
		addr, source := candidates[0].Addr, candidates[0].Source
		ip := addr.IP.String()
		if _, ok := t.connectedPeerIPs[ip]; ok {
			continue
		}
		ctx, cancel := context.WithCancel(context.Background())
		t.outgoingHandshakers[addr.String()] = cancel
		t.connectedPeerIPs[ip] = struct{}{}
		go t.dial(ctx, addr, source)
	}
}

func (t *torrent) dial(ctx context.Context, addr *net.TCPAddr, source peersource.Source) {
	cfg := &t.session.config
	conn, ext, id, err := btconn.Dial(ctx, addr, cfg.PeerConnectTimeout, cfg.PeerHandshakeTimeout, t.session.extensions, t.infoHash, t.peerID)
	res := outgoingHandshakeResult{Addr: addr, Source: source, Conn: conn, Extensions: ext, PeerID: id, Error: err}
	select {
	case t.outgoingHandshakeC <- res:
	case <-ctx.Done():
		if conn != nil {
			_ = conn.Close()
		}
	case <-t.closeC:
		if conn != nil {
			_ = conn.Close()
		}
	}
}

func (t *torrent) handleOutgoingHandshakeDone(oh outgoingHandshakeResult) {
	cancel, ok := t.outgoingHandshakers[oh.Addr.String()]
	if !ok {
		// Handshake was cancelled by stop.
		if oh.Conn != nil {
			_ = oh.Conn.Close()
		}
		return
	}
	cancel()
	delete(t.outgoingHandshakers, oh.Addr.String())
	if oh.Error != nil {
		t.log.Debugln("cannot connect:", oh.Error)
		delete(t.connectedPeerIPs, oh.Addr.IP.String())
		t.dialAddresses()
		return
	}
	t.addrList.SetPeerID(oh.Addr, oh.PeerID)
	t.startPeer(oh.Conn, oh.Source, t.outgoingPeers, oh.PeerID, oh.Extensions, false)
}

func (t *torrent) handleNewConnection(conn net.Conn) {
	if len(t.incomingHandshakers)+len(t.incomingPeers) >= t.session.config.MaxPeerAccept {
		t.log.Debugln("peer limit reached, rejecting peer", conn.RemoteAddr().String())
		_ = conn.Close()
		return
	}
	ip := conn.RemoteAddr().(*net.TCPAddr).IP.String()
	if _, ok := t.connectedPeerIPs[ip]; ok {
		t.log.Debugln("received duplicate connection from same IP:", conn.RemoteAddr().String())
		_ = conn.Close()
		return
	}
	t.connectedPeerIPs[ip] = struct{}{}
	cancelC := make(chan struct{})
	t.incomingHandshakers[conn.RemoteAddr().String()] = func() {
		close(cancelC)
		_ = conn.Close()
	}
	go t.accept(conn, cancelC)
}

func (t *torrent) accept(conn net.Conn, cancelC chan struct{}) {
	ext, id, _, err := btconn.Accept(conn, t.session.config.PeerHandshakeTimeout, t.checkInfoHash, t.session.extensions, t.peerID)
	res := incomingHandshakeResult{Conn: conn, Extensions: ext, PeerID: id, Error: err}
	select {
	case t.incomingHandshakeC <- res:
	case <-cancelC:
	case <-t.closeC:
		_ = conn.Close()
	}
}

func (t *torrent) checkInfoHash(infoHash [20]byte) bool {
	return infoHash == t.infoHash
}

func (t *torrent) handleIncomingHandshakeDone(ih incomingHandshakeResult) {
	key := ih.Conn.RemoteAddr().String()
	if _, ok := t.incomingHandshakers[key]; !ok {
		_ = ih.Conn.Close()
		return
	}
	delete(t.incomingHandshakers, key)
	if ih.Error != nil {
		t.log.Debugln("incoming handshake failed:", ih.Error)
		delete(t.connectedPeerIPs, ih.Conn.RemoteAddr().(*net.TCPAddr).IP.String())
		return
	}
	t.startPeer(ih.Conn, peersource.Incoming, t.incomingPeers, ih.PeerID, ih.Extensions, true)
}

func (t *torrent) startPeer(
	conn net.Conn,
	source peersource.Source,
	peers map[*peer.Peer]struct{},
	peerID [20]byte,
	extensions peerprotocol.Extensions,
	incoming bool,
) {
	addr := conn.RemoteAddr().(*net.TCPAddr)
	if _, ok := t.peerIDs[peerID]; ok {
		t.log.Debugf("peer with same id already connected. addr: %s id: %x", addr, peerID)
		_ = conn.Close()
		delete(t.connectedPeerIPs, addr.IP.String())
		t.dialAddresses()
		return
	}
	t.peerIDs[peerID] = struct{}{}

	cfg := &t.session.config
	pcfg := peerconn.Config{
		ReadTimeout:        cfg.PeerReadTimeout,
		RequestTimeout:     cfg.RequestTimeout,
		RequestQueueLength: cfg.RequestQueueLength,
		MaxRequestsIn:      cfg.MaxRequestsIn,
		KeepAlivePeriod:    cfg.PeerKeepAlivePeriod,
		NumPieces:          t.layout.NumPieces,
	}
	var l logger.Logger
	if incoming {
		l = logger.New("peer -> " + addr.String())
	} else {
		l = logger.New("peer <- " + addr.String())
	}
	pc := peerconn.New(conn, pcfg, t.store, t.store, t.downloadLimiter, t.uploadLimiter, l)
	pe := peer.New(pc, peerID, extensions, source, incoming, t.layout.NumPieces)
	t.peers[pe] = struct{}{}
	peers[pe] = struct{}{}
	go pe.Run(t.messages, t.peerDisconnectedC)

	t.pexAddPeer(addr)
	t.sendFirstMessages(pe)
}

func (t *torrent) sendFirstMessages(pe *peer.Peer) {
	bf := t.store.Bitfield()
	if bf.Count() > 0 {
		pe.Send(peerprotocol.BitfieldMessage{Data: bf.Bytes()})
	}
	if extProto := pe.Extensions.ExtensionProtocol() && t.session.extensions.ExtensionProtocol(); extProto {
		var yourIP net.IP
		if addr := pe.Addr(); addr != nil {
			yourIP = addr.IP
		}
		hs := peerprotocol.NewExtensionHandshake("swarmget "+Version, uint16(t.port), yourIP, t.session.config.RequestQueueLength)
		if !t.session.config.PEXEnabled {
			delete(hs.M, peerprotocol.ExtensionKeyPEX)
		}
		msg, err := peerprotocol.NewExtensionMessage(peerprotocol.ExtensionIDHandshake, hs)
		if err == nil {
			pe.Send(msg)
		}
	}
	if t.session.dht != nil && pe.Extensions.DHT() {
		pe.Send(peerprotocol.PortMessage{Port: t.session.config.DHTPort})
	}
}

func (t *torrent) getPeersForUnchoker() []unchoker.Peer {
	peers := make([]unchoker.Peer, 0, len(t.peers))
	for pe := range t.peers {
		peers = append(peers, pe)
	}
	return peers
}
