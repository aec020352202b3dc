package pexlist

import (
	"net"

	"github.com/swarmget/swarmget/internal/tracker"
)

// MaxLength is the number of addresses kept in RecentlySeen.
const MaxLength = 25

// RecentlySeen keeps the addresses of the last disconnected peers in a ring.
// New PEX lists start with them in the dropped part.
type RecentlySeen struct {
	peers  []tracker.CompactPeer
	offset int
}

// Add addr, replacing the oldest address when full.
func (l *RecentlySeen) Add(addr *net.TCPAddr) {
	if addr.IP.To4() == nil {
		return
	}
	cp := tracker.NewCompactPeer(addr)
	if contains(l.peers, cp) {
		return
	}
	if len(l.peers) < MaxLength {
		l.peers = append(l.peers, cp)
		return
	}
	l.peers[l.offset] = cp
	l.offset = (l.offset + 1) % MaxLength
}

// Peers returns the addresses in the list.
func (l *RecentlySeen) Peers() []tracker.CompactPeer {
	return l.peers
}

// Len returns the number of addresses in the list.
func (l *RecentlySeen) Len() int {
	return len(l.peers)
}
