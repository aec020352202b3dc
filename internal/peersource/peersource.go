// Package peersource enumerates where a peer address came from.
package peersource

// Source of a peer address.
type Source int

// Sources in order of dial preference.
const (
	Manual Source = iota
	LSD
	PEX
	Tracker
	DHT
	Incoming
)

func (s Source) String() string {
	switch s {
	case Manual:
		return "manual"
	case LSD:
		return "lsd"
	case PEX:
		return "pex"
	case Tracker:
		return "tracker"
	case DHT:
		return "dht"
	case Incoming:
		return "incoming"
	default:
		return "unknown"
	}
}
