package peer

import (
	"net"
	"time"

	"github.com/swarmget/swarmget/internal/peerconn"
	"github.com/swarmget/swarmget/internal/peerprotocol"
	"github.com/swarmget/swarmget/internal/pexlist"
)

// PEXInterval is the period of ut_pex messages.
var PEXInterval = time.Minute

// pex sends peer exchange messages to one peer.
type pex struct {
	conn  *peerconn.Conn
	extID uint8

	list *pexlist.PEXList

	addC  chan *net.TCPAddr
	dropC chan *net.TCPAddr

	closeC chan struct{}
	doneC  chan struct{}
}

func newPEX(conn *peerconn.Conn, extID uint8, initialPeers []*net.TCPAddr, recentlySeen *pexlist.RecentlySeen) *pex {
	l := pexlist.NewWithRecentlySeen(recentlySeen.Peers())
	for _, addr := range initialPeers {
		if addr.String() != conn.String() {
			l.Add(addr)
		}
	}
	return &pex{
		conn:   conn,
		extID:  extID,
		list:   l,
		addC:   make(chan *net.TCPAddr),
		dropC:  make(chan *net.TCPAddr),
		closeC: make(chan struct{}),
		doneC:  make(chan struct{}),
	}
}

func (p *pex) close() {
	close(p.closeC)
	<-p.doneC
}

func (p *pex) run() {
	defer close(p.doneC)

	p.flush()

	ticker := time.NewTicker(PEXInterval)
	defer ticker.Stop()

	for {
		select {
		case addr := <-p.addC:
			p.list.Add(addr)
		case addr := <-p.dropC:
			p.list.Drop(addr)
		case <-ticker.C:
			p.flush()
		case <-p.closeC:
			return
		}
	}
}

func (p *pex) add(addr *net.TCPAddr) {
	select {
	case p.addC <- addr:
	case <-p.doneC:
	}
}

func (p *pex) drop(addr *net.TCPAddr) {
	select {
	case p.dropC <- addr:
	case <-p.doneC:
	}
}

func (p *pex) flush() {
	if p.list.Empty() {
		return
	}
	msg, err := peerprotocol.NewExtensionMessage(p.extID, p.list.Flush())
	if err != nil {
		p.conn.Logger().Error(err)
		return
	}
	p.conn.Send(msg)
}
