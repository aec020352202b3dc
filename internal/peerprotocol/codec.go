// Package peerprotocol encodes and decodes the BitTorrent peer wire protocol.
package peerprotocol

import "encoding/binary"

const (
	// MaxBlockLength is the largest block we request or serve.
	MaxBlockLength = 16 * 1024

	// DefaultMaxFrameLength bounds any frame whose type has no tighter limit.
	DefaultMaxFrameLength = 256 * 1024
)

// EncodeMessage returns the length-prefixed frame for m.
func EncodeMessage(m Message) []byte {
	return AppendMessage(nil, m)
}

// AppendMessage appends the frame for m to b.
func AppendMessage(b []byte, m Message) []byte {
	if _, ok := m.(KeepAliveMessage); ok {
		return binary.BigEndian.AppendUint32(b, 0)
	}
	b = binary.BigEndian.AppendUint32(b, uint32(1+m.payloadLength()))
	b = append(b, byte(m.ID()))
	return m.appendPayload(b)
}

// Decoder decodes frames from a byte buffer.
// The zero value uses DefaultMaxFrameLength and no bitfield length check.
type Decoder struct {
	// MaxFrameLength rejects frames claiming more bytes than this.
	MaxFrameLength uint32
	// MaxBlockLength rejects piece and request messages above this block size.
	MaxBlockLength uint32
	// NumPieces, when set, is used to validate bitfield lengths and piece indexes.
	NumPieces uint32
}

// DecodeFrame decodes one frame from b with default limits.
func DecodeFrame(b []byte) (Message, int, error) {
	var d Decoder
	return d.Decode(b)
}

// Decode decodes one frame from the start of b and returns the message and the
// number of bytes consumed. An incomplete frame yields *NeedMoreBytes. Piece and
// bitfield payloads are copied so b may be reused by the caller.
func (d *Decoder) Decode(b []byte) (Message, int, error) {
	if len(b) < 4 {
		return nil, 0, &NeedMoreBytes{Missing: 4 - len(b)}
	}
	length := binary.BigEndian.Uint32(b)
	if length == 0 {
		return KeepAliveMessage{}, 4, nil
	}
	if length > d.maxFrameLength() {
		return nil, 0, protocolErrorf("frame length %d exceeds limit %d", length, d.maxFrameLength())
	}
	if len(b) >= 5 {
		// Fail early before the whole payload arrives.
		if err := d.checkLength(MessageID(b[4]), length-1); err != nil {
			return nil, 0, err
		}
	}
	total := 4 + int(length)
	if len(b) < total {
		return nil, 0, &NeedMoreBytes{Missing: total - len(b)}
	}
	msg, err := d.parse(MessageID(b[4]), b[5:total])
	if err != nil {
		return nil, 0, err
	}
	return msg, total, nil
}

func (d *Decoder) maxFrameLength() uint32 {
	if d.MaxFrameLength == 0 {
		return DefaultMaxFrameLength
	}
	return d.MaxFrameLength
}

func (d *Decoder) maxBlockLength() uint32 {
	if d.MaxBlockLength == 0 {
		return MaxBlockLength
	}
	return d.MaxBlockLength
}

func (d *Decoder) checkLength(id MessageID, n uint32) error {
	var ok bool
	switch id {
	case Choke, Unchoke, Interested, NotInterested:
		ok = n == 0
	case Have:
		ok = n == 4
	case Request, Cancel:
		ok = n == 12
	case Port:
		ok = n == 2
	case Piece:
		ok = n >= 8 && n-8 <= d.maxBlockLength()
	case Bitfield:
		ok = d.NumPieces == 0 || n == (d.NumPieces+7)/8
	case Extension:
		ok = n >= 1
	default:
		// Unknown messages are skipped by the caller.
		ok = true
	}
	if !ok {
		return protocolErrorf("invalid payload length %d for %s message", n, id)
	}
	return nil
}

func (d *Decoder) checkIndex(i uint32) error {
	if d.NumPieces != 0 && i >= d.NumPieces {
		return protocolErrorf("piece index out of range: %d", i)
	}
	return nil
}

func (d *Decoder) parse(id MessageID, p []byte) (Message, error) {
	be := binary.BigEndian
	switch id {
	case Choke:
		return ChokeMessage{}, nil
	case Unchoke:
		return UnchokeMessage{}, nil
	case Interested:
		return InterestedMessage{}, nil
	case NotInterested:
		return NotInterestedMessage{}, nil
	case Have:
		m := HaveMessage{Index: be.Uint32(p)}
		return m, d.checkIndex(m.Index)
	case Bitfield:
		return BitfieldMessage{Data: append([]byte(nil), p...)}, nil
	case Request:
		m := RequestMessage{Index: be.Uint32(p), Begin: be.Uint32(p[4:]), Length: be.Uint32(p[8:])}
		if m.Length > d.maxBlockLength() {
			return nil, protocolErrorf("requested block too large: %d", m.Length)
		}
		return m, d.checkIndex(m.Index)
	case Cancel:
		m := CancelMessage{Index: be.Uint32(p), Begin: be.Uint32(p[4:]), Length: be.Uint32(p[8:])}
		return m, d.checkIndex(m.Index)
	case Piece:
		m := PieceMessage{Index: be.Uint32(p), Begin: be.Uint32(p[4:]), Data: append([]byte(nil), p[8:]...)}
		return m, d.checkIndex(m.Index)
	case Port:
		return PortMessage{Port: be.Uint16(p)}, nil
	case Extension:
		return ExtensionMessage{ExtendedID: p[0], Payload: append([]byte(nil), p[1:]...)}, nil
	default:
		return UnknownMessage{MessageID: id}, nil
	}
}

// UnknownMessage is returned for message ids this package does not implement.
// Receivers ignore it.
type UnknownMessage struct {
	MessageID MessageID
}

func (m UnknownMessage) ID() MessageID               { return m.MessageID }
func (UnknownMessage) appendPayload(b []byte) []byte { return b }
func (UnknownMessage) payloadLength() int            { return 0 }
