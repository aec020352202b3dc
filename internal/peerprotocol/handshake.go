package peerprotocol

import (
	"bytes"
	"io"
)

// ProtocolName is sent at the start of every handshake.
const ProtocolName = "BitTorrent protocol"

// HandshakeLength is the size of an encoded handshake.
const HandshakeLength = 1 + len(ProtocolName) + 8 + 20 + 20

// Extensions is the reserved field of the handshake.
type Extensions [8]byte

// NewExtensions returns reserved bytes advertising the given features.
func NewExtensions(extensionProtocol, dht bool) Extensions {
	var e Extensions
	if extensionProtocol {
		e[5] |= 0x10
	}
	if dht {
		e[7] |= 0x01
	}
	return e
}

// ExtensionProtocol reports whether the extension protocol bit is set.
func (e Extensions) ExtensionProtocol() bool { return e[5]&0x10 != 0 }

// DHT reports whether the peer runs a DHT node and accepts port messages.
func (e Extensions) DHT() bool { return e[7]&0x01 != 0 }

// Handshake is the first message exchanged on a peer connection.
type Handshake struct {
	Extensions Extensions
	InfoHash   [20]byte
	PeerID     [20]byte
}

// EncodeHandshake returns the wire form of h.
func EncodeHandshake(h Handshake) []byte {
	b := make([]byte, 0, HandshakeLength)
	b = append(b, byte(len(ProtocolName)))
	b = append(b, ProtocolName...)
	b = append(b, h.Extensions[:]...)
	b = append(b, h.InfoHash[:]...)
	b = append(b, h.PeerID[:]...)
	return b
}

// DecodeHandshake parses a handshake from the start of b.
// A short buffer yields *NeedMoreBytes, a malformed header *ProtocolError.
func DecodeHandshake(b []byte) (Handshake, error) {
	var h Handshake
	if err := checkProtocolHeader(b); err != nil {
		return h, err
	}
	if len(b) < HandshakeLength {
		return h, &NeedMoreBytes{Missing: HandshakeLength - len(b)}
	}
	p := 1 + len(ProtocolName)
	copy(h.Extensions[:], b[p:p+8])
	copy(h.InfoHash[:], b[p+8:p+28])
	copy(h.PeerID[:], b[p+28:p+48])
	return h, nil
}

func checkProtocolHeader(b []byte) error {
	if len(b) == 0 {
		return &NeedMoreBytes{Missing: HandshakeLength}
	}
	if int(b[0]) != len(ProtocolName) {
		return protocolErrorf("invalid protocol name length: %d", b[0])
	}
	n := len(b) - 1
	if n > len(ProtocolName) {
		n = len(ProtocolName)
	}
	if !bytes.Equal(b[1:1+n], []byte(ProtocolName[:n])) {
		return protocolErrorf("invalid protocol name")
	}
	return nil
}

// ReadHandshakeHeader reads the protocol header, extensions and info hash from r.
// The peer id is read separately so that the receiving side can check the
// info hash before answering.
func ReadHandshakeHeader(r io.Reader) (ext Extensions, infoHash [20]byte, err error) {
	b := make([]byte, HandshakeLength-20)
	if _, err = io.ReadFull(r, b); err != nil {
		return
	}
	if err = checkProtocolHeader(b); err != nil {
		return
	}
	p := 1 + len(ProtocolName)
	copy(ext[:], b[p:p+8])
	copy(infoHash[:], b[p+8:])
	return
}

// ReadPeerID reads the trailing peer id of a handshake from r.
func ReadPeerID(r io.Reader) (id [20]byte, err error) {
	_, err = io.ReadFull(r, id[:])
	return
}
