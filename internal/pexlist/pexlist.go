// Package pexlist collects peer address changes to gossip to a connected peer with ut_pex.
package pexlist

import (
	"net"

	"github.com/swarmget/swarmget/internal/peerprotocol"
	"github.com/swarmget/swarmget/internal/tracker"
)

// BEP 11: except for the first message, added and dropped lists hold at most 50 entries each.
const maxPeers = 50

// PEXList holds the changes since the last message sent to one peer.
// It is not safe for concurrent use.
type PEXList struct {
	added   []tracker.CompactPeer
	dropped []tracker.CompactPeer
	flushed bool
}

// New returns an empty list.
func New() *PEXList {
	return &PEXList{}
}

// NewWithRecentlySeen returns a list with rs in the dropped part.
func NewWithRecentlySeen(rs []tracker.CompactPeer) *PEXList {
	l := New()
	l.dropped = append(l.dropped, rs...)
	return l
}

// Add moves addr to the added part.
func (l *PEXList) Add(addr *net.TCPAddr) {
	if addr.IP.To4() == nil {
		return
	}
	p := tracker.NewCompactPeer(addr)
	l.dropped = remove(l.dropped, p)
	if !contains(l.added, p) {
		l.added = append(l.added, p)
	}
}

// Drop moves addr to the dropped part.
func (l *PEXList) Drop(addr *net.TCPAddr) {
	if addr.IP.To4() == nil {
		return
	}
	p := tracker.NewCompactPeer(addr)
	l.added = remove(l.added, p)
	if !contains(l.dropped, p) {
		l.dropped = append(l.dropped, p)
	}
}

// Empty reports whether there is nothing to send.
func (l *PEXList) Empty() bool {
	return len(l.added) == 0 && len(l.dropped) == 0
}

// Flush returns the next message and removes its entries from the list.
// Entries over the limit stay for the next message.
func (l *PEXList) Flush() peerprotocol.PEXMessage {
	var msg peerprotocol.PEXMessage
	msg.Added, l.added = l.take(l.added)
	msg.Dropped, l.dropped = l.take(l.dropped)
	l.flushed = true
	return msg
}

func (l *PEXList) take(peers []tracker.CompactPeer) (string, []tracker.CompactPeer) {
	n := len(peers)
	if l.flushed && n > maxPeers {
		n = maxPeers
	}
	b := make([]byte, 0, n*tracker.CompactPeerLen)
	for _, p := range peers[:n] {
		b = p.Append(b)
	}
	return string(b), append(peers[:0:0], peers[n:]...)
}

func contains(peers []tracker.CompactPeer, p tracker.CompactPeer) bool {
	for _, q := range peers {
		if q == p {
			return true
		}
	}
	return false
}

func remove(peers []tracker.CompactPeer, p tracker.CompactPeer) []tracker.CompactPeer {
	for i, q := range peers {
		if q == p {
			return append(peers[:i], peers[i+1:]...)
		}
	}
	return peers
}
