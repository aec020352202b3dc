// Package unchoker decides which peers are allowed to download from us.
package unchoker

import (
	"math/rand"
	"sort"
)

// Unchoker selects peers to unchoke by their recent transfer speed.
// Regular slots go to the fastest interested peers. Every third round the optimistic
// slots are given to random interested peers so new peers get a chance to prove themselves.
type Unchoker struct {
	numUnchoked           int
	numOptimisticUnchoked int

	round uint8

	peersUnchoked           map[Peer]struct{}
	peersUnchokedOptimistic map[Peer]struct{}
}

// Peer is the view of a connected peer needed for choking decisions.
type Peer interface {
	// Choke and Unchoke send the message and set our choking state.
	Choke()
	Unchoke()
	// Choking reports whether we choke the peer.
	Choking() bool
	// Interested reports whether the peer is interested in our pieces.
	Interested() bool

	SetOptimistic(value bool)
	Optimistic() bool

	// Speeds in bytes/s.
	DownloadSpeed() int
	UploadSpeed() int

	// HashFailures is the number of failed pieces the peer has contributed to.
	HashFailures() int
}

// New returns an Unchoker with the given number of regular and optimistic slots.
func New(numUnchoked, numOptimisticUnchoked int) *Unchoker {
	return &Unchoker{
		numUnchoked:             numUnchoked,
		numOptimisticUnchoked:   numOptimisticUnchoked,
		peersUnchoked:           make(map[Peer]struct{}, numUnchoked),
		peersUnchokedOptimistic: make(map[Peer]struct{}, numOptimisticUnchoked),
	}
}

// NumUnchoked returns the number of peers in regular and optimistic slots.
func (u *Unchoker) NumUnchoked() (regular, optimistic int) {
	return len(u.peersUnchoked), len(u.peersUnchokedOptimistic)
}

// HandleDisconnect must be called to remove the peer from internal indexes.
func (u *Unchoker) HandleDisconnect(pe Peer) {
	delete(u.peersUnchoked, pe)
	delete(u.peersUnchokedOptimistic, pe)
}

// sortPeers orders peers by speed, fastest first. Peers that sent corrupt data go last.
// Download speed counts while downloading, upload speed while seeding.
func sortPeers(peers []Peer, completed bool) {
	speed := Peer.DownloadSpeed
	if completed {
		speed = Peer.UploadSpeed
	}
	sort.SliceStable(peers, func(i, j int) bool {
		fi, fj := peers[i].HashFailures(), peers[j].HashFailures()
		if (fi > 0) != (fj > 0) {
			return fi == 0
		}
		return speed(peers[i]) > speed(peers[j])
	})
}

// TickUnchoke must be called periodically, every 10 seconds.
func (u *Unchoker) TickUnchoke(allPeers []Peer, torrentCompleted bool) {
	optimistic := u.round == 0
	var peers []Peer
	for _, pe := range allPeers {
		if pe.Interested() {
			peers = append(peers, pe)
		} else {
			u.chokePeer(pe)
		}
	}
	sortPeers(peers, torrentCompleted)
	var i, unchoked int
	for ; i < len(peers) && unchoked < u.numUnchoked; i++ {
		// Optimistic peers keep their slot until the next optimistic round.
		if !optimistic && peers[i].Optimistic() {
			continue
		}
		u.unchokePeer(peers[i])
		unchoked++
	}
	peers = peers[i:]
	if optimistic {
		for n := 0; n < u.numOptimisticUnchoked && len(peers) > 0; n++ {
			k := rand.Intn(len(peers)) // nolint: gosec
			u.optimisticUnchokePeer(peers[k])
			peers[k], peers = peers[len(peers)-1], peers[:len(peers)-1]
		}
	} else {
		rest := peers[:0]
		for _, pe := range peers {
			if pe.Optimistic() {
				continue
			}
			rest = append(rest, pe)
		}
		peers = rest
	}
	for _, pe := range peers {
		u.chokePeer(pe)
	}
	u.round = (u.round + 1) % 3
}

func (u *Unchoker) chokePeer(pe Peer) {
	pe.SetOptimistic(false)
	delete(u.peersUnchoked, pe)
	delete(u.peersUnchokedOptimistic, pe)
	if !pe.Choking() {
		pe.Choke()
	}
}

func (u *Unchoker) unchokePeer(pe Peer) {
	if pe.Optimistic() {
		pe.SetOptimistic(false)
		delete(u.peersUnchokedOptimistic, pe)
	}
	u.peersUnchoked[pe] = struct{}{}
	if pe.Choking() {
		pe.Unchoke()
	}
}

func (u *Unchoker) optimisticUnchokePeer(pe Peer) {
	delete(u.peersUnchoked, pe)
	u.peersUnchokedOptimistic[pe] = struct{}{}
	pe.SetOptimistic(true)
	if pe.Choking() {
		pe.Unchoke()
	}
}

// FastUnchoke must be called when a peer becomes interested.
// The peer is unchoked immediately if a slot is free instead of waiting for the next tick.
func (u *Unchoker) FastUnchoke(pe Peer) {
	if !pe.Choking() || !pe.Interested() {
		return
	}
	if len(u.peersUnchoked) < u.numUnchoked {
		u.unchokePeer(pe)
	} else if len(u.peersUnchokedOptimistic) < u.numOptimisticUnchoked {
		u.optimisticUnchokePeer(pe)
	}
}
