package torrent

import (
	"net"
	"strings"
	"time"

	"github.com/nictuku/dht"

	"github.com/swarmget/swarmget/internal/tracker"
)

// dhtRequest is a pending get_peers query of a torrent. Port is announced to the nodes that reply.
type dhtRequest struct {
	t    *torrent
	port int
}

// processDHTResults sends at most one request per second to the DHT node and
// delivers the peers it finds to the torrents with the same info hash.
func (s *Session) processDHTResults() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if r, ok := s.nextDHTRequest(); ok {
				s.dht.PeersRequestPort(string(r.t.infoHash[:]), true, r.port)
			}
		case res := <-s.dht.PeersRequestResults:
			for ih, peers := range res {
				s.deliverDHTPeers(ih, parseDHTPeers(peers))
			}
		case <-s.closeC:
			return
		}
	}
}

func (s *Session) deliverDHTPeers(ih dht.InfoHash, addrs []*net.TCPAddr) {
	if len(addrs) == 0 {
		return
	}
	s.mTorrents.RLock()
	torrents := append([]*Torrent(nil), s.torrentsByInfoHash[ih]...)
	s.mTorrents.RUnlock()
	for _, t := range torrents {
		select {
		case t.t.dhtPeersC <- addrs:
		case <-t.t.closeC:
		default:
			// Run loop is busy, next result will be delivered.
		}
	}
}

// nextDHTRequest removes the oldest request from the queue.
func (s *Session) nextDHTRequest() (dhtRequest, bool) {
	s.mPeerRequests.Lock()
	defer s.mPeerRequests.Unlock()
	if len(s.dhtPeerRequests) == 0 {
		return dhtRequest{}, false
	}
	r := s.dhtPeerRequests[0]
	s.dhtPeerRequests = s.dhtPeerRequests[1:]
	return r, true
}

func (s *Session) unregisterDHT(t *torrent) {
	s.mPeerRequests.Lock()
	defer s.mPeerRequests.Unlock()
	for i, r := range s.dhtPeerRequests {
		if r.t == t {
			s.dhtPeerRequests = append(s.dhtPeerRequests[:i], s.dhtPeerRequests[i+1:]...)
			return
		}
	}
}

// announceDHT is called by the DHT announcer of the torrent.
// A torrent has at most one request in the queue.
func (t *torrent) announceDHT(port int) {
	s := t.session
	s.mPeerRequests.Lock()
	defer s.mPeerRequests.Unlock()
	for i := range s.dhtPeerRequests {
		if s.dhtPeerRequests[i].t == t {
			s.dhtPeerRequests[i].port = port
			return
		}
	}
	s.dhtPeerRequests = append(s.dhtPeerRequests, dhtRequest{t: t, port: port})
}

// parseDHTPeers decodes the compact IPv4 addresses returned by the DHT node. Others are skipped.
func parseDHTPeers(peers []string) []*net.TCPAddr {
	var b strings.Builder
	for _, p := range peers {
		if len(p) == tracker.CompactPeerLen {
			b.WriteString(p)
		}
	}
	addrs, _ := tracker.DecodePeersCompact([]byte(b.String()))
	return addrs
}
