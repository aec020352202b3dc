package peerconn

// State of a peer connection as seen in snapshots.
type State int

// Connection states.
const (
	Handshaking State = iota
	ExchangingBitfield
	Active
	// Choked means the remote peer is choking us.
	Choked
	// Choking means we are choking the remote peer.
	Choking
	Closed
)

var stateNames = [...]string{
	Handshaking:        "handshaking",
	ExchangingBitfield: "exchanging bitfield",
	Active:             "active",
	Choked:             "choked",
	Choking:            "choking",
	Closed:             "closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
