package btconn

import (
	"net"
	"time"

	"github.com/swarmget/swarmget/internal/peerprotocol"
)

// Accept does the handshake on an incoming connection.
// hasInfoHash reports whether we serve the info hash sent by the peer; the handshake
// is answered only if it does. The connection is not closed on error.
func Accept(
	conn net.Conn,
	handshakeTimeout time.Duration,
	hasInfoHash func([20]byte) bool,
	ourExtensions peerprotocol.Extensions,
	ourID [20]byte,
) (peerExtensions peerprotocol.Extensions, peerID [20]byte, infoHash [20]byte, err error) {
	if err = conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return
	}
	peerExtensions, infoHash, err = peerprotocol.ReadHandshakeHeader(conn)
	if err != nil {
		return
	}
	if !hasInfoHash(infoHash) {
		err = errUnknownHash
		return
	}
	out := peerprotocol.EncodeHandshake(peerprotocol.Handshake{Extensions: ourExtensions, InfoHash: infoHash, PeerID: ourID})
	if _, err = conn.Write(out); err != nil {
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
	err = conn.SetDeadline(time.Time{})
	return
}
