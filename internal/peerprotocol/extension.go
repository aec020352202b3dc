package peerprotocol

import (
	"bytes"
	"fmt"
	"net"

	"github.com/zeebo/bencode"
)

const (
	// ExtensionIDHandshake is the extended message id of the extension handshake.
	ExtensionIDHandshake uint8 = iota
	// ExtensionIDPEX is the id we assign to ut_pex messages sent to us.
	ExtensionIDPEX
)

// ExtensionKeyPEX is the name of the peer exchange extension.
const ExtensionKeyPEX = "ut_pex"

// ExtensionHandshake is the payload of the BEP 10 handshake.
type ExtensionHandshake struct {
	M            map[string]uint8 `bencode:"m"`
	V            string           `bencode:"v,omitempty"`
	Port         uint16           `bencode:"p,omitempty"`
	YourIP       string           `bencode:"yourip,omitempty"`
	RequestQueue int              `bencode:"reqq,omitempty"`
}

// NewExtensionHandshake returns our handshake advertising ut_pex.
func NewExtensionHandshake(version string, port uint16, yourIP net.IP, requestQueue int) ExtensionHandshake {
	h := ExtensionHandshake{
		M:            map[string]uint8{ExtensionKeyPEX: ExtensionIDPEX},
		V:            version,
		Port:         port,
		RequestQueue: requestQueue,
	}
	if ip4 := yourIP.To4(); ip4 != nil {
		h.YourIP = string(ip4)
	} else if yourIP != nil {
		h.YourIP = string(yourIP)
	}
	return h
}

// PEXMessage is the payload of a ut_pex message. Added and Dropped are compact peer lists.
type PEXMessage struct {
	Added      string `bencode:"added"`
	AddedFlags string `bencode:"added.f,omitempty"`
	Dropped    string `bencode:"dropped"`
}

// NewExtensionMessage bencodes payload into an extended message with the given id.
func NewExtensionMessage(id uint8, payload interface{}) (ExtensionMessage, error) {
	b, err := bencode.EncodeBytes(payload)
	if err != nil {
		return ExtensionMessage{}, err
	}
	return ExtensionMessage{ExtendedID: id, Payload: b}, nil
}

// ParseExtensionHandshake decodes the payload of an extension handshake.
func ParseExtensionHandshake(payload []byte) (ExtensionHandshake, error) {
	var h ExtensionHandshake
	if err := bencode.NewDecoder(bytes.NewReader(payload)).Decode(&h); err != nil {
		return h, &ProtocolError{Message: fmt.Sprintf("invalid extension handshake: %s", err)}
	}
	if h.RequestQueue < 0 {
		h.RequestQueue = 0
	}
	return h, nil
}

// ParsePEX decodes the payload of a ut_pex message.
func ParsePEX(payload []byte) (PEXMessage, error) {
	var m PEXMessage
	if err := bencode.NewDecoder(bytes.NewReader(payload)).Decode(&m); err != nil {
		return m, &ProtocolError{Message: fmt.Sprintf("invalid pex message: %s", err)}
	}
	return m, nil
}
