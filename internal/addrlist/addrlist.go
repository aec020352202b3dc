// Package addrlist implements the deduplicated pool of candidate peer addresses.
//
// An AddrList is not safe for concurrent use. It is owned by the run loop of a torrent
// and discovery sources feed it through that loop.
package addrlist

import (
	"net"
	"time"

	"github.com/google/btree"

	"github.com/swarmget/swarmget/internal/peersource"
)

// AddrList holds addresses that are not connected yet.
type AddrList struct {
	tree  *btree.BTree
	byKey map[string]*peerAddr

	// Addresses handed out by NextCandidates are not accepted again before retryAfter.
	recent     map[string]time.Time
	retryAfter time.Duration

	blocked map[string]struct{} // IP strings

	// Peer IDs learned from handshakes, by address.
	peerIDs map[string][20]byte

	maxItems   int
	listenPort int
	clientIP   net.IP
	seq        uint64
	now        func() time.Time
}

// New returns an empty list holding at most maxItems addresses.
// Addresses of our own client, identified by listenPort and clientIP, are never added.
func New(maxItems, listenPort int, clientIP net.IP, retryAfter time.Duration) *AddrList {
	return &AddrList{
		tree:       btree.New(2),
		byKey:      make(map[string]*peerAddr),
		recent:     make(map[string]time.Time),
		retryAfter: retryAfter,
		blocked:    make(map[string]struct{}),
		peerIDs:    make(map[string][20]byte),
		maxItems:   maxItems,
		listenPort: listenPort,
		clientIP:   clientIP,
		now:        time.Now,
	}
}

// Len returns the number of candidates.
func (d *AddrList) Len() int {
	return d.tree.Len()
}

// Reset removes all candidates and forgets recently used addresses.
func (d *AddrList) Reset() {
	d.tree.Clear(false)
	d.byKey = make(map[string]*peerAddr)
	d.recent = make(map[string]time.Time)
	d.peerIDs = make(map[string][20]byte)
}

// SetPeerID records the peer ID sent by addr in a handshake.
// Candidates with that address carry it from now on.
func (d *AddrList) SetPeerID(addr *net.TCPAddr, id [20]byte) {
	key := addr.String()
	d.peerIDs[key] = id
	if p, ok := d.byKey[key]; ok {
		p.PeerID = id
	}
}

// Block removes ip from the list and rejects it in future pushes.
func (d *AddrList) Block(ip net.IP) {
	d.blocked[ip.String()] = struct{}{}
	for key, p := range d.byKey {
		if p.Addr.IP.Equal(ip) {
			d.tree.Delete(p)
			delete(d.byKey, key)
		}
	}
}

// Push adds addrs found by source and returns how many were new.
// An address already in the list keeps the source it was first seen from.
func (d *AddrList) Push(addrs []*net.TCPAddr, source peersource.Source) int {
	now := d.now()
	var added int
	for _, addr := range addrs {
		if !d.acceptable(addr) {
			continue
		}
		key := addr.String()
		if _, ok := d.byKey[key]; ok {
			continue
		}
		if t, ok := d.recent[key]; ok {
			if now.Sub(t) < d.retryAfter {
				continue
			}
			delete(d.recent, key)
		}
		d.seq++
		p := &peerAddr{PeerInfo: PeerInfo{Addr: addr, PeerID: d.peerIDs[key], Source: source, FirstSeen: now}, seq: d.seq}
		d.byKey[key] = p
		d.tree.ReplaceOrInsert(p)
		added++
	}
	for d.tree.Len() > d.maxItems {
		p := d.tree.DeleteMax().(*peerAddr)
		delete(d.byKey, p.Addr.String())
	}
	return added
}

func (d *AddrList) acceptable(addr *net.TCPAddr) bool {
	if addr == nil || addr.Port == 0 || addr.IP == nil || addr.IP.IsUnspecified() {
		return false
	}
	if addr.Port == d.listenPort && (addr.IP.IsLoopback() || (d.clientIP != nil && addr.IP.Equal(d.clientIP))) {
		return false
	}
	_, blocked := d.blocked[addr.IP.String()]
	return !blocked
}

// NextCandidates removes and returns up to n candidates, preferred sources first.
func (d *AddrList) NextCandidates(n int) []PeerInfo {
	now := d.now()
	var ret []PeerInfo
	for len(ret) < n && d.tree.Len() > 0 {
		p := d.tree.DeleteMin().(*peerAddr)
		key := p.Addr.String()
		delete(d.byKey, key)
		d.recent[key] = now
		ret = append(ret, p.PeerInfo)
	}
	d.expireRecent(now)
	return ret
}

func (d *AddrList) expireRecent(now time.Time) {
	for key, t := range d.recent {
		if now.Sub(t) >= d.retryAfter {
			delete(d.recent, key)
		}
	}
}

// Get returns the candidate for addr, if present.
func (d *AddrList) Get(addr *net.TCPAddr) (PeerInfo, bool) {
	p, ok := d.byKey[addr.String()]
	if !ok {
		return PeerInfo{}, false
	}
	return p.PeerInfo, true
}
