package peerprotocol

import "encoding/binary"

// Message is a framed peer message.
type Message interface {
	ID() MessageID
	// appendPayload appends the bytes following the message id.
	appendPayload(b []byte) []byte
	payloadLength() int
}

// KeepAliveMessage is the zero-length frame.
type KeepAliveMessage struct{}

// ChokeMessage tells the peer we will not serve its requests.
type ChokeMessage struct{}

// UnchokeMessage tells the peer it may request blocks.
type UnchokeMessage struct{}

// InterestedMessage tells the peer we want pieces it has.
type InterestedMessage struct{}

// NotInterestedMessage tells the peer we want nothing from it.
type NotInterestedMessage struct{}

// HaveMessage announces a newly verified piece.
type HaveMessage struct {
	Index uint32
}

// BitfieldMessage carries the sender's completion bitfield.
type BitfieldMessage struct {
	Data []byte
}

// RequestMessage asks for a block.
type RequestMessage struct {
	Index, Begin, Length uint32
}

// CancelMessage withdraws an earlier request.
type CancelMessage struct {
	Index, Begin, Length uint32
}

// PieceMessage carries block data.
type PieceMessage struct {
	Index, Begin uint32
	Data         []byte
}

// PortMessage announces the UDP port of the sender's DHT node.
type PortMessage struct {
	Port uint16
}

// ExtensionMessage is a BEP 10 message. Payload is the raw bencoded body.
type ExtensionMessage struct {
	ExtendedID uint8
	Payload    []byte
}

// ID of a keepalive is never written to the wire.
func (KeepAliveMessage) ID() MessageID     { return 0xff }
func (ChokeMessage) ID() MessageID         { return Choke }
func (UnchokeMessage) ID() MessageID       { return Unchoke }
func (InterestedMessage) ID() MessageID    { return Interested }
func (NotInterestedMessage) ID() MessageID { return NotInterested }
func (HaveMessage) ID() MessageID          { return Have }
func (BitfieldMessage) ID() MessageID      { return Bitfield }
func (RequestMessage) ID() MessageID       { return Request }
func (CancelMessage) ID() MessageID        { return Cancel }
func (PieceMessage) ID() MessageID         { return Piece }
func (PortMessage) ID() MessageID          { return Port }
func (ExtensionMessage) ID() MessageID     { return Extension }

func (KeepAliveMessage) appendPayload(b []byte) []byte     { return b }
func (ChokeMessage) appendPayload(b []byte) []byte         { return b }
func (UnchokeMessage) appendPayload(b []byte) []byte       { return b }
func (InterestedMessage) appendPayload(b []byte) []byte    { return b }
func (NotInterestedMessage) appendPayload(b []byte) []byte { return b }

func (m HaveMessage) appendPayload(b []byte) []byte {
	return binary.BigEndian.AppendUint32(b, m.Index)
}

func (m BitfieldMessage) appendPayload(b []byte) []byte { return append(b, m.Data...) }

func (m RequestMessage) appendPayload(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, m.Index)
	b = binary.BigEndian.AppendUint32(b, m.Begin)
	return binary.BigEndian.AppendUint32(b, m.Length)
}

func (m CancelMessage) appendPayload(b []byte) []byte {
	return RequestMessage(m).appendPayload(b)
}

func (m PieceMessage) appendPayload(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, m.Index)
	b = binary.BigEndian.AppendUint32(b, m.Begin)
	return append(b, m.Data...)
}

func (m PortMessage) appendPayload(b []byte) []byte {
	return binary.BigEndian.AppendUint16(b, m.Port)
}

func (m ExtensionMessage) appendPayload(b []byte) []byte {
	b = append(b, m.ExtendedID)
	return append(b, m.Payload...)
}

func (KeepAliveMessage) payloadLength() int     { return 0 }
func (ChokeMessage) payloadLength() int         { return 0 }
func (UnchokeMessage) payloadLength() int       { return 0 }
func (InterestedMessage) payloadLength() int    { return 0 }
func (NotInterestedMessage) payloadLength() int { return 0 }
func (HaveMessage) payloadLength() int          { return 4 }
func (m BitfieldMessage) payloadLength() int    { return len(m.Data) }
func (RequestMessage) payloadLength() int       { return 12 }
func (CancelMessage) payloadLength() int        { return 12 }
func (m PieceMessage) payloadLength() int       { return 8 + len(m.Data) }
func (PortMessage) payloadLength() int          { return 2 }
func (m ExtensionMessage) payloadLength() int   { return 1 + len(m.Payload) }
