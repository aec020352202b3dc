package peerprotocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshakeRoundTrip(t *testing.T) {
	h := Handshake{
		Extensions: NewExtensions(true, true),
		InfoHash:   [20]byte{1, 2, 3},
		PeerID:     [20]byte{4, 5, 6},
	}
	b := EncodeHandshake(h)
	require.Len(t, b, HandshakeLength)
	assert.Equal(t, byte(19), b[0])
	assert.Equal(t, ProtocolName, string(b[1:20]))

	h2, err := DecodeHandshake(b)
	require.NoError(t, err)
	assert.Equal(t, h, h2)
	assert.True(t, h2.Extensions.ExtensionProtocol())
	assert.True(t, h2.Extensions.DHT())
}

func TestHandshakePartial(t *testing.T) {
	b := EncodeHandshake(Handshake{})
	_, err := DecodeHandshake(b[:30])
	var nmb *NeedMoreBytes
	require.ErrorAs(t, err, &nmb)
	assert.Equal(t, HandshakeLength-30, nmb.Missing)
}

func TestHandshakeInvalid(t *testing.T) {
	b := EncodeHandshake(Handshake{})
	b[0] = 18
	_, err := DecodeHandshake(b)
	var perr *ProtocolError
	assert.ErrorAs(t, err, &perr)

	b = EncodeHandshake(Handshake{})
	b[5] = 'X'
	_, err = DecodeHandshake(b[:10])
	assert.ErrorAs(t, err, &perr)
}

func TestFrameLayout(t *testing.T) {
	b := EncodeMessage(HaveMessage{Index: 7})
	assert.Equal(t, []byte{0, 0, 0, 5, 4, 0, 0, 0, 7}, b)
	assert.Equal(t, []byte{0, 0, 0, 0}, EncodeMessage(KeepAliveMessage{}))
}

func TestDecodeMessages(t *testing.T) {
	msgs := []Message{
		KeepAliveMessage{},
		ChokeMessage{},
		UnchokeMessage{},
		InterestedMessage{},
		NotInterestedMessage{},
		HaveMessage{Index: 3},
		BitfieldMessage{Data: []byte{0xf0}},
		RequestMessage{Index: 1, Begin: 16384, Length: 16384},
		CancelMessage{Index: 1, Begin: 0, Length: 16384},
		PieceMessage{Index: 2, Begin: 4, Data: []byte("data")},
		PortMessage{Port: 6881},
		ExtensionMessage{ExtendedID: 1, Payload: []byte("de")},
	}
	var stream []byte
	for _, m := range msgs {
		stream = AppendMessage(stream, m)
	}
	var d Decoder
	for _, want := range msgs {
		got, n, err := d.Decode(stream)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		stream = stream[n:]
	}
	assert.Empty(t, stream)
}

func TestDecodeIncremental(t *testing.T) {
	full := EncodeMessage(PieceMessage{Index: 1, Begin: 0, Data: make([]byte, 100)})
	var d Decoder
	for i := 0; i < len(full); i++ {
		_, _, err := d.Decode(full[:i])
		var nmb *NeedMoreBytes
		require.ErrorAs(t, err, &nmb, "prefix %d", i)
		assert.Greater(t, nmb.Missing, 0)
	}
	m, n, err := d.Decode(full)
	require.NoError(t, err)
	assert.Equal(t, len(full), n)
	assert.Len(t, m.(PieceMessage).Data, 100)
}

func TestDecodeOversized(t *testing.T) {
	var perr *ProtocolError

	_, _, err := DecodeFrame([]byte{0x10, 0, 0, 0})
	assert.ErrorAs(t, err, &perr)

	// have message with a bad payload length
	_, _, err = DecodeFrame([]byte{0, 0, 0, 3, 4})
	assert.ErrorAs(t, err, &perr)

	// piece block larger than allowed
	b := EncodeMessage(PieceMessage{Data: make([]byte, MaxBlockLength+1)})
	_, _, err = DecodeFrame(b[:5])
	assert.ErrorAs(t, err, &perr)
}

func TestDecodeBitfieldLength(t *testing.T) {
	d := Decoder{NumPieces: 10}
	_, _, err := d.Decode(EncodeMessage(BitfieldMessage{Data: []byte{0xff}}))
	var perr *ProtocolError
	assert.ErrorAs(t, err, &perr)

	_, _, err = d.Decode(EncodeMessage(HaveMessage{Index: 10}))
	assert.ErrorAs(t, err, &perr)

	m, _, err := d.Decode(EncodeMessage(BitfieldMessage{Data: []byte{0xff, 0xc0}}))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xc0}, m.(BitfieldMessage).Data)
}

func TestExtensionHandshake(t *testing.T) {
	m, err := NewExtensionMessage(ExtensionIDHandshake, NewExtensionHandshake("swarmget", 6881, nil, 250))
	require.NoError(t, err)
	h, err := ParseExtensionHandshake(m.Payload)
	require.NoError(t, err)
	assert.Equal(t, ExtensionIDPEX, h.M[ExtensionKeyPEX])
	assert.Equal(t, uint16(6881), h.Port)
	assert.Equal(t, 250, h.RequestQueue)
}
