package addrlist

import (
	"net"
	"time"

	"github.com/google/btree"

	"github.com/swarmget/swarmget/internal/peersource"
)

// PeerInfo is a candidate peer address.
type PeerInfo struct {
	Addr *net.TCPAddr
	// PeerID is zero unless a handshake with the address has been done before.
	PeerID    [20]byte
	Source    peersource.Source
	FirstSeen time.Time
}

type peerAddr struct {
	PeerInfo
	seq uint64
}

var _ btree.Item = (*peerAddr)(nil)

// Less orders by source preference, then by arrival.
func (p *peerAddr) Less(than btree.Item) bool {
	o := than.(*peerAddr)
	if p.Source != o.Source {
		return p.Source < o.Source
	}
	return p.seq < o.seq
}
