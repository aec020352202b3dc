package unchoker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type testPeer struct {
	name          string
	choking       bool
	interested    bool
	optimistic    bool
	downloadSpeed int
	uploadSpeed   int
	hashFailures  int
}

func (p *testPeer) Choke()                   { p.choking = true }
func (p *testPeer) Unchoke()                 { p.choking = false }
func (p *testPeer) Choking() bool            { return p.choking }
func (p *testPeer) Interested() bool         { return p.interested }
func (p *testPeer) SetOptimistic(value bool) { p.optimistic = value }
func (p *testPeer) Optimistic() bool         { return p.optimistic }
func (p *testPeer) DownloadSpeed() int       { return p.downloadSpeed }
func (p *testPeer) UploadSpeed() int         { return p.uploadSpeed }
func (p *testPeer) HashFailures() int        { return p.hashFailures }

func asPeers(tps []*testPeer) []Peer {
	peers := make([]Peer, len(tps))
	for i := range tps {
		peers[i] = tps[i]
	}
	return peers
}

func unchoked(tps []*testPeer) []string {
	var names []string
	for _, p := range tps {
		if !p.choking {
			names = append(names, p.name)
		}
	}
	return names
}

func TestTickUnchokeBySpeed(t *testing.T) {
	tps := []*testPeer{
		{name: "a", choking: true, interested: true},
		{name: "b", choking: true, interested: true, downloadSpeed: 2},
		{name: "c", choking: true, interested: true, downloadSpeed: 4},
		{name: "d", choking: true},
	}
	u := New(2, 0)
	u.TickUnchoke(asPeers(tps), false)
	assert.Equal(t, []string{"b", "c"}, unchoked(tps))

	// Nothing changed, same peers stay unchoked.
	u.TickUnchoke(asPeers(tps), false)
	assert.Equal(t, []string{"b", "c"}, unchoked(tps))

	// Peer a becomes the fastest.
	tps[0].downloadSpeed = 10
	u.TickUnchoke(asPeers(tps), false)
	assert.Equal(t, []string{"a", "c"}, unchoked(tps))
}

func TestTickUnchokeSeedingUsesUploadSpeed(t *testing.T) {
	tps := []*testPeer{
		{name: "a", choking: true, interested: true, downloadSpeed: 100},
		{name: "b", choking: true, interested: true, uploadSpeed: 5},
	}
	u := New(1, 0)
	u.TickUnchoke(asPeers(tps), true)
	assert.Equal(t, []string{"b"}, unchoked(tps))
}

func TestHashFailuresSortLast(t *testing.T) {
	tps := []*testPeer{
		{name: "bad", choking: true, interested: true, downloadSpeed: 100, hashFailures: 1},
		{name: "good", choking: true, interested: true, downloadSpeed: 1},
	}
	u := New(1, 0)
	u.TickUnchoke(asPeers(tps), false)
	assert.Equal(t, []string{"good"}, unchoked(tps))
}

func TestOptimisticUnchoke(t *testing.T) {
	tps := []*testPeer{
		{name: "a", choking: true, interested: true, downloadSpeed: 3},
		{name: "b", choking: true, interested: true, downloadSpeed: 2},
		{name: "c", choking: true, interested: true, downloadSpeed: 1},
	}
	u := New(1, 1)
	// First round is optimistic.
	u.TickUnchoke(asPeers(tps), false)
	assert.Len(t, unchoked(tps), 2)
	assert.False(t, tps[0].choking)
	regular, optimistic := u.NumUnchoked()
	assert.Equal(t, 1, regular)
	assert.Equal(t, 1, optimistic)

	// Optimistic peer keeps its slot in the next two rounds.
	var opt *testPeer
	for _, p := range tps[1:] {
		if p.optimistic {
			opt = p
		}
	}
	if assert.NotNil(t, opt) {
		u.TickUnchoke(asPeers(tps), false)
		assert.False(t, opt.choking)
		u.TickUnchoke(asPeers(tps), false)
		assert.False(t, opt.choking)
	}
}

func TestUninterestedPeerIsChoked(t *testing.T) {
	tps := []*testPeer{{name: "a", interested: false}}
	u := New(1, 0)
	u.TickUnchoke(asPeers(tps), false)
	assert.True(t, tps[0].choking)
}

func TestFastUnchoke(t *testing.T) {
	p := &testPeer{name: "a", choking: true, interested: true}
	u := New(1, 1)
	u.FastUnchoke(p)
	assert.False(t, p.choking)
	assert.False(t, p.optimistic)

	q := &testPeer{name: "b", choking: true, interested: true}
	u.FastUnchoke(q)
	assert.False(t, q.choking)
	assert.True(t, q.optimistic)

	r := &testPeer{name: "c", choking: true, interested: true}
	u.FastUnchoke(r)
	assert.True(t, r.choking)
}
