package pexlist

import (
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/swarmget/swarmget/internal/tracker"
)

func newAddr(ip string) *net.TCPAddr {
	return &net.TCPAddr{IP: net.ParseIP(ip), Port: 1}
}

func TestRecentlySeen(t *testing.T) {
	var l RecentlySeen
	assert.Equal(t, 0, l.Len())
	l.Add(newAddr("1.1.1.1"))
	l.Add(newAddr("1.1.1.1"))
	assert.Equal(t, 1, l.Len())
	for i := 0; i < 24; i++ {
		l.Add(newAddr("2.2.2." + strconv.Itoa(i)))
	}
	assert.Equal(t, MaxLength, l.Len())
	l.Add(newAddr("3.3.3.3"))
	assert.Equal(t, MaxLength, l.Len())
	assert.Equal(t, tracker.NewCompactPeer(newAddr("3.3.3.3")), l.Peers()[0])
}

func TestAddDrop(t *testing.T) {
	l := New()
	assert.True(t, l.Empty())
	l.Add(newAddr("1.1.1.1"))
	l.Add(newAddr("2.2.2.2"))
	l.Drop(newAddr("1.1.1.1"))

	msg := l.Flush()
	added, err := tracker.DecodePeersCompact([]byte(msg.Added))
	assert.NoError(t, err)
	dropped, err := tracker.DecodePeersCompact([]byte(msg.Dropped))
	assert.NoError(t, err)
	assert.Len(t, added, 1)
	assert.Equal(t, "2.2.2.2:1", added[0].String())
	assert.Len(t, dropped, 1)
	assert.Equal(t, "1.1.1.1:1", dropped[0].String())
	assert.True(t, l.Empty())
}

func TestFlushLimit(t *testing.T) {
	l := New()
	add := func(n int) {
		for i := 0; i < n; i++ {
			l.Add(newAddr("10.0." + strconv.Itoa(i/256) + "." + strconv.Itoa(i%256)))
		}
	}
	add(80)
	// First message is not limited.
	msg := l.Flush()
	assert.Len(t, msg.Added, 80*tracker.CompactPeerLen)

	add(180)
	msg = l.Flush()
	assert.Len(t, msg.Added, maxPeers*tracker.CompactPeerLen)
	assert.False(t, l.Empty())
}
