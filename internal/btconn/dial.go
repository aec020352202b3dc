// Package btconn establishes BitTorrent connections by doing the protocol handshake.
package btconn

import (
	"context"
	"net"
	"time"

	"github.com/swarmget/swarmget/internal/logger"
	"github.com/swarmget/swarmget/internal/peerprotocol"
)

// Dial connects to addr and does the handshake for infoHash.
// The returned connection is ready for peer protocol messages and has no deadline set.
// All failures are returned as *DialError, including *peerprotocol.ProtocolError for bad handshakes.
func Dial(
	ctx context.Context,
	addr *net.TCPAddr,
	dialTimeout, handshakeTimeout time.Duration,
	ourExtensions peerprotocol.Extensions,
	infoHash [20]byte,
	ourID [20]byte,
) (conn net.Conn, peerExtensions peerprotocol.Extensions, peerID [20]byte, err error) {
	log := logger.New("conn -> " + addr.String())
	defer func() {
		if err != nil {
			err = &DialError{Addr: addr, Err: err}
		}
	}()

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err = dialer.DialContext(ctx, "tcp4", addr.String())
	if err != nil {
		return
	}
	log.Debug("Connected")
	defer func() {
		if err != nil {
			_ = conn.Close()
		}
	}()

	// Close the connection if ctx is cancelled during the handshake.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	if err = conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return
	}
	out := peerprotocol.EncodeHandshake(peerprotocol.Handshake{Extensions: ourExtensions, InfoHash: infoHash, PeerID: ourID})
	if _, err = conn.Write(out); err != nil {
		return
	}
	var ih [20]byte
	peerExtensions, ih, err = peerprotocol.ReadHandshakeHeader(conn)
	if err != nil {
		return
	}
	if ih != infoHash {
		err = &peerprotocol.ProtocolError{Message: "invalid info hash in handshake"}
		return
	}
	peerID, err = peerprotocol.ReadPeerID(conn)
	if err != nil {
		return
	}
	if peerID == ourID {
		err = errOwnConnection
		return
	}
	if err = conn.SetDeadline(time.Time{}); err != nil {
		return
	}
	if ctx.Err() != nil {
		err = ctx.Err()
	}
	return
}
