// Package peer holds the torrent side state of a connected peer.
package peer

import (
	"net"
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/swarmget/swarmget/internal/bitfield"
	"github.com/swarmget/swarmget/internal/peerconn"
	"github.com/swarmget/swarmget/internal/peerprotocol"
	"github.com/swarmget/swarmget/internal/peersource"
	"github.com/swarmget/swarmget/internal/pexlist"
)

// Peer is a connected peer of a torrent. Fields other than the embedded Conn are
// accessed only from the run loop of the torrent.
type Peer struct {
	*peerconn.Conn

	ID          [20]byte
	Extensions  peerprotocol.Extensions
	Source      peersource.Source
	Incoming    bool
	ConnectedAt time.Time

	// Bitfield advertised by the peer.
	Bitfield *bitfield.Bitfield

	// ExtensionHandshake is set after the peer sends its BEP 10 handshake.
	ExtensionHandshake *peerprotocol.ExtensionHandshake

	// HashFailureCount is the number of failed pieces the peer contributed to.
	HashFailureCount int

	optimistic bool

	downloadSpeed metrics.Meter
	uploadSpeed   metrics.Meter

	pex *pex

	closeC chan struct{}
	doneC  chan struct{}
}

// Message is a message received from a peer, or an event of its connection.
type Message struct {
	*Peer
	Message interface{}
}

// New returns a Peer for an established connection.
func New(conn *peerconn.Conn, id [20]byte, ext peerprotocol.Extensions, source peersource.Source, incoming bool, numPieces uint32) *Peer {
	return &Peer{
		Conn:          conn,
		ID:            id,
		Extensions:    ext,
		Source:        source,
		Incoming:      incoming,
		ConnectedAt:   time.Now(),
		Bitfield:      bitfield.New(numPieces),
		downloadSpeed: metrics.NewMeter(),
		uploadSpeed:   metrics.NewMeter(),
		closeC:        make(chan struct{}),
		doneC:         make(chan struct{}),
	}
}

// String returns the address of the peer.
func (p *Peer) String() string {
	return p.Conn.String()
}

// Client returns the client name derived from the peer id.
func (p *Peer) Client() string {
	return clientName(p.ID)
}

// Run the connection and forward its messages. A peer whose connection has closed is sent
// to disconnect. Invoke with go statement.
func (p *Peer) Run(messages chan Message, disconnect chan *Peer) {
	defer close(p.doneC)
	go p.Conn.Run()
	for {
		select {
		case msg, ok := <-p.Conn.Messages():
			if !ok {
				select {
				case disconnect <- p:
				case <-p.closeC:
				}
				return
			}
			select {
			case messages <- Message{Peer: p, Message: msg}:
			case <-p.closeC:
				return
			}
		case <-p.closeC:
			return
		}
	}
}

// Close the peer connection and wait for Run to return.
func (p *Peer) Close() {
	if p.pex != nil {
		p.pex.close()
	}
	close(p.closeC)
	p.Conn.Close()
	<-p.doneC
	p.downloadSpeed.Stop()
	p.uploadSpeed.Stop()
}

// Interested reports whether the peer is interested in our pieces.
func (p *Peer) Interested() bool { return p.Conn.PeerInterested() }

// SetOptimistic marks the peer as unchoked in an optimistic slot.
func (p *Peer) SetOptimistic(value bool) { p.optimistic = value }

// Optimistic returns the value set by SetOptimistic.
func (p *Peer) Optimistic() bool { return p.optimistic }

// DownloadSpeed is the one minute average of bytes/s received from the peer.
func (p *Peer) DownloadSpeed() int { return int(p.downloadSpeed.Rate1()) }

// UploadSpeed is the one minute average of bytes/s sent to the peer.
func (p *Peer) UploadSpeed() int { return int(p.uploadSpeed.Rate1()) }

// HashFailures returns HashFailureCount.
func (p *Peer) HashFailures() int { return p.HashFailureCount }

// Downloaded records n bytes of accepted piece data.
func (p *Peer) Downloaded(n int64) { p.downloadSpeed.Mark(n) }

// Uploaded records n bytes of sent piece data.
func (p *Peer) Uploaded(n int64) { p.uploadSpeed.Mark(n) }

// SupportsPEX reports whether the peer accepts ut_pex messages.
func (p *Peer) SupportsPEX() bool {
	if p.ExtensionHandshake == nil {
		return false
	}
	_, ok := p.ExtensionHandshake.M[peerprotocol.ExtensionKeyPEX]
	return ok
}

// StartPEX starts sending peer exchange messages with the initial peers.
func (p *Peer) StartPEX(initialPeers []*net.TCPAddr, recentlySeen *pexlist.RecentlySeen) {
	if p.pex != nil || !p.SupportsPEX() {
		return
	}
	p.pex = newPEX(p.Conn, p.ExtensionHandshake.M[peerprotocol.ExtensionKeyPEX], initialPeers, recentlySeen)
	go p.pex.run()
}

// PEXAdd announces a newly connected peer at the next PEX message.
func (p *Peer) PEXAdd(addr *net.TCPAddr) {
	if p.pex != nil {
		p.pex.add(addr)
	}
}

// PEXDrop announces a disconnected peer at the next PEX message.
func (p *Peer) PEXDrop(addr *net.TCPAddr) {
	if p.pex != nil {
		p.pex.drop(addr)
	}
}
