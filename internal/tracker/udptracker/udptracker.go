// Package udptracker implements the UDP tracker protocol (BEP 15).
package udptracker

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"net/url"
	"time"

	"github.com/swarmget/swarmget/internal/tracker"
)

type action int32

const (
	actionConnect action = iota
	actionAnnounce
	actionScrape
	actionError
)

// UDPTracker announces to one UDP tracker through a shared Transport.
type UDPTracker struct {
	rawURL    string
	host      string
	urlData   string
	key       uint32
	transport *Transport
}

var _ tracker.Tracker = (*UDPTracker)(nil)

// New returns a tracker for u using transport.
func New(rawURL string, u *url.URL, transport *Transport) *UDPTracker {
	return &UDPTracker{
		rawURL:    rawURL,
		host:      u.Host,
		urlData:   u.RequestURI(),
		key:       rand32(),
		transport: transport,
	}
}

// URL of the tracker.
func (t *UDPTracker) URL() string {
	return t.rawURL
}

// Announce connects if needed and sends an announce request.
func (t *UDPTracker) Announce(ctx context.Context, req tracker.AnnounceRequest) (*tracker.AnnounceResponse, error) {
	ip, port, err := tracker.ResolveHost(ctx, t.host)
	if err != nil {
		return nil, err
	}
	addr := &net.UDPAddr{IP: ip, Port: port}
	connID, err := t.transport.connectionID(ctx, addr)
	if err != nil {
		return nil, err
	}
	resp, err := t.transport.roundTrip(ctx, addr, func(trxID int32) []byte {
		return t.announcePacket(connID, trxID, req)
	})
	if err != nil {
		return nil, err
	}
	return parseAnnounceResponse(resp)
}

func (t *UDPTracker) announcePacket(connID int64, trxID int32, req tracker.AnnounceRequest) []byte {
	be := binary.BigEndian
	b := make([]byte, 0, 98+2+len(t.urlData)+len(t.urlData)/255*2)
	b = be.AppendUint64(b, uint64(connID))
	b = be.AppendUint32(b, uint32(actionAnnounce))
	b = be.AppendUint32(b, uint32(trxID))
	b = append(b, req.Torrent.InfoHash[:]...)
	b = append(b, req.Torrent.PeerID[:]...)
	b = be.AppendUint64(b, uint64(req.Torrent.BytesDownloaded))
	b = be.AppendUint64(b, uint64(req.Torrent.BytesLeft))
	b = be.AppendUint64(b, uint64(req.Torrent.BytesUploaded))
	b = be.AppendUint32(b, uint32(req.Event))
	b = be.AppendUint32(b, 0) // ip
	b = be.AppendUint32(b, t.key)
	b = be.AppendUint32(b, uint32(int32(req.NumWant)))
	b = be.AppendUint16(b, uint16(req.Torrent.Port))
	// URL data option (BEP 41)
	for s := t.urlData; len(s) > 0 && s != "/"; {
		n := len(s)
		if n > 255 {
			n = 255
		}
		b = append(b, 0x2, byte(n))
		b = append(b, s[:n]...)
		s = s[n:]
	}
	return b
}

func parseAnnounceResponse(b []byte) (*tracker.AnnounceResponse, error) {
	if len(b) < 20 || action(binary.BigEndian.Uint32(b)) != actionAnnounce {
		return nil, errors.New("invalid announce response")
	}
	be := binary.BigEndian
	peers, err := tracker.DecodePeersCompact(b[20:])
	if err != nil {
		return nil, err
	}
	return &tracker.AnnounceResponse{
		Interval: time.Duration(be.Uint32(b[8:12])) * time.Second,
		Leechers: int32(be.Uint32(b[12:16])),
		Seeders:  int32(be.Uint32(b[16:20])),
		Peers:    peers,
	}, nil
}
