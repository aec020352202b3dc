package peerprotocol

import "strconv"

// MessageID identifies the type of a framed peer message.
type MessageID uint8

// Peer message types.
const (
	Choke MessageID = iota
	Unchoke
	Interested
	NotInterested
	Have
	Bitfield
	Request
	Piece
	Cancel
	Port
	Extension MessageID = 20
)

var messageIDNames = map[MessageID]string{
	Choke:         "choke",
	Unchoke:       "unchoke",
	Interested:    "interested",
	NotInterested: "not interested",
	Have:          "have",
	Bitfield:      "bitfield",
	Request:       "request",
	Piece:         "piece",
	Cancel:        "cancel",
	Port:          "port",
	Extension:     "extension",
}

func (m MessageID) String() string {
	if s, ok := messageIDNames[m]; ok {
		return s
	}
	return strconv.Itoa(int(m))
}
