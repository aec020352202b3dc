package piecepicker

import (
	"sort"

	"github.com/swarmget/swarmget/internal/peer"
	"github.com/swarmget/swarmget/internal/piece"
)

/*

These are the things to consider when selecting a block for downloading:

  * Piece is complete (hash checked and written to disk)
  * Block is staged in memory
  * Peer has the piece
  * Block is requested from another peer
  * Is endgame mode activated (all incomplete pieces are requested)

Whether the peer is choking us is checked by the caller.
Do not forget to re-check these when making changes.

*/

// Store is the completion state the picker reads from.
type Store interface {
	Have(index uint32) bool
	MissingBlocks(index uint32) []piece.Block
}

// PiecePicker decides which blocks to request from which peer.
// It keeps track of availability of pieces among connected peers
// and of the outstanding requests of every peer.
type PiecePicker struct {
	store     Store
	numPieces uint32

	availability []int
	available    uint32

	requests      map[piece.BlockRequest]map[*peer.Peer]struct{}
	requestsCount []int // per piece

	// Blocks that timed out at a peer are not requested from that peer again.
	timedOut map[*peer.Peer]map[piece.BlockRequest]struct{}

	maxDuplicateDownload int
	endgame              bool

	sorted []uint32
}

// New returns a new PiecePicker for a torrent with numPieces pieces.
func New(store Store, numPieces uint32, maxDuplicateDownload int) *PiecePicker {
	if maxDuplicateDownload < 1 {
		maxDuplicateDownload = 1
	}
	return &PiecePicker{
		store:                store,
		numPieces:            numPieces,
		availability:         make([]int, numPieces),
		requests:             make(map[piece.BlockRequest]map[*peer.Peer]struct{}),
		requestsCount:        make([]int, numPieces),
		timedOut:             make(map[*peer.Peer]map[piece.BlockRequest]struct{}),
		maxDuplicateDownload: maxDuplicateDownload,
		sorted:               make([]uint32, 0, numPieces),
	}
}

// Available returns the number of pieces that at least one connected peer has.
func (p *PiecePicker) Available() uint32 {
	return p.available
}

// Availability returns the number of connected peers having the piece.
func (p *PiecePicker) Availability(i uint32) int {
	return p.availability[i]
}

// Endgame reports whether the picker issues duplicate requests.
func (p *PiecePicker) Endgame() bool {
	p.updateEndgame()
	return p.endgame
}

// HandleBitfield must be called after the bitfield of the peer is set from a bitfield message.
func (p *PiecePicker) HandleBitfield(pe *peer.Peer) {
	for i := uint32(0); i < p.numPieces; i++ {
		if pe.Bitfield.Test(i) {
			p.incAvailability(i)
		}
	}
}

// HandleHave must be called to set the availability of the piece at the peer.
func (p *PiecePicker) HandleHave(pe *peer.Peer, i uint32) {
	if i >= p.numPieces || pe.Bitfield.Test(i) {
		return
	}
	pe.Bitfield.Set(i)
	p.incAvailability(i)
}

// HandleDisconnect must be called to remove the peer from internal indexes.
func (p *PiecePicker) HandleDisconnect(pe *peer.Peer) {
	for i := uint32(0); i < p.numPieces; i++ {
		if pe.Bitfield.Test(i) {
			p.decAvailability(i)
		}
	}
	for br, peers := range p.requests {
		if _, ok := peers[pe]; ok {
			p.removeRequest(br, pe)
		}
	}
	delete(p.timedOut, pe)
}

// HandleCancel must be called when a request is not going to be satisfied,
// after a timeout, a choke or a cancel. The block becomes eligible for picking again.
func (p *PiecePicker) HandleCancel(pe *peer.Peer, br piece.BlockRequest) {
	p.removeRequest(br, pe)
}

// HandleTimeout must be called when the peer did not send the block in time.
// The block becomes eligible for picking again, but only for other peers.
func (p *PiecePicker) HandleTimeout(pe *peer.Peer, br piece.BlockRequest) {
	p.removeRequest(br, pe)
	blocks, ok := p.timedOut[pe]
	if !ok {
		blocks = make(map[piece.BlockRequest]struct{})
		p.timedOut[pe] = blocks
	}
	blocks[br] = struct{}{}
}

// TimedOut reports whether the block has timed out at the peer.
func (p *PiecePicker) TimedOut(pe *peer.Peer, br piece.BlockRequest) bool {
	_, ok := p.timedOut[pe][br]
	return ok
}

// HandleBlockDone must be called when a block requested from the peer is received.
// Other peers that the same block is requested from are returned; their requests must be canceled.
func (p *PiecePicker) HandleBlockDone(pe *peer.Peer, br piece.BlockRequest) []*peer.Peer {
	p.removeRequest(br, pe)
	for _, blocks := range p.timedOut {
		delete(blocks, br)
	}
	peers := p.requests[br]
	if len(peers) == 0 {
		return nil
	}
	losers := make([]*peer.Peer, 0, len(peers))
	for other := range peers {
		losers = append(losers, other)
	}
	for _, other := range losers {
		p.removeRequest(br, other)
	}
	return losers
}

// Requested returns the peers that the block is currently requested from.
func (p *PiecePicker) Requested(br piece.BlockRequest) []*peer.Peer {
	peers := make([]*peer.Peer, 0, len(p.requests[br]))
	for pe := range p.requests[br] {
		peers = append(peers, pe)
	}
	return peers
}

// PickFor selects up to n blocks to request from the peer and records them as requested.
// Pieces are visited rarest first, ties broken by lower index. Blocks not requested from any
// peer are preferred. In endgame blocks already requested from other peers are picked too,
// until a block is requested from maxDuplicateDownload peers.
func (p *PiecePicker) PickFor(pe *peer.Peer, n int) []piece.BlockRequest {
	if n <= 0 {
		return nil
	}
	p.sortByRarity(pe)
	ret := p.pick(pe, n, false)
	for _, br := range ret {
		p.addRequest(br, pe)
	}
	p.updateEndgame()
	if !p.endgame || len(ret) == n {
		return ret
	}
	dups := p.pick(pe, n-len(ret), true)
	for _, br := range dups {
		p.addRequest(br, pe)
	}
	return append(ret, dups...)
}

func (p *PiecePicker) pick(pe *peer.Peer, n int, duplicate bool) []piece.BlockRequest {
	var ret []piece.BlockRequest
	for _, i := range p.sorted {
		for _, b := range p.store.MissingBlocks(i) {
			if len(ret) == n {
				return ret
			}
			br := b.Request(i)
			peers := p.requests[br]
			if _, ok := peers[pe]; ok {
				continue
			}
			if p.TimedOut(pe, br) {
				continue
			}
			if !duplicate && len(peers) > 0 {
				continue
			}
			if duplicate && len(peers) >= p.maxDuplicateDownload {
				continue
			}
			ret = append(ret, br)
		}
	}
	return ret
}

// sortByRarity fills p.sorted with incomplete pieces that the peer has.
func (p *PiecePicker) sortByRarity(pe *peer.Peer) {
	p.sorted = p.sorted[:0]
	for i := uint32(0); i < p.numPieces; i++ {
		if pe.Bitfield.Test(i) && !p.store.Have(i) {
			p.sorted = append(p.sorted, i)
		}
	}
	sort.Slice(p.sorted, func(a, b int) bool {
		i, j := p.sorted[a], p.sorted[b]
		if p.availability[i] != p.availability[j] {
			return p.availability[i] < p.availability[j]
		}
		return i < j
	})
}

// updateEndgame enters endgame when every incomplete piece has at least one outstanding request.
// Endgame is left when a piece becomes unrequested again, e.g. after a hash failure.
func (p *PiecePicker) updateEndgame() {
	incomplete := false
	for i := uint32(0); i < p.numPieces; i++ {
		if p.store.Have(i) {
			continue
		}
		incomplete = true
		if p.requestsCount[i] == 0 {
			p.endgame = false
			return
		}
	}
	p.endgame = incomplete
}

func (p *PiecePicker) addRequest(br piece.BlockRequest, pe *peer.Peer) {
	peers, ok := p.requests[br]
	if !ok {
		peers = make(map[*peer.Peer]struct{}, 1)
		p.requests[br] = peers
	}
	if _, ok := peers[pe]; ok {
		return
	}
	peers[pe] = struct{}{}
	p.requestsCount[br.Index]++
}

func (p *PiecePicker) removeRequest(br piece.BlockRequest, pe *peer.Peer) {
	peers, ok := p.requests[br]
	if !ok {
		return
	}
	if _, ok := peers[pe]; !ok {
		return
	}
	delete(peers, pe)
	p.requestsCount[br.Index]--
	if len(peers) == 0 {
		delete(p.requests, br)
	}
}

func (p *PiecePicker) incAvailability(i uint32) {
	p.availability[i]++
	if p.availability[i] == 1 {
		p.available++
	}
}

func (p *PiecePicker) decAvailability(i uint32) {
	p.availability[i]--
	if p.availability[i] == 0 {
		p.available--
	}
}
