package tracker

import (
	"encoding/binary"
	"errors"
	"net"
)

// CompactPeerLen is the size of an IPv4 address and port in compact form.
const CompactPeerLen = 6

// CompactPeer is an IPv4 address and port. It can be used as a map key.
type CompactPeer struct {
	IP   [net.IPv4len]byte
	Port uint16
}

// NewCompactPeer converts addr. addr must be an IPv4 address.
func NewCompactPeer(addr *net.TCPAddr) CompactPeer {
	p := CompactPeer{Port: uint16(addr.Port)}
	copy(p.IP[:], addr.IP.To4())
	return p
}

// Addr returns p as a TCP address.
func (p CompactPeer) Addr() *net.TCPAddr {
	ip := make(net.IP, net.IPv4len)
	copy(ip, p.IP[:])
	return &net.TCPAddr{IP: ip, Port: int(p.Port)}
}

// Append appends the 6 byte form of p to b.
func (p CompactPeer) Append(b []byte) []byte {
	b = append(b, p.IP[:]...)
	return binary.BigEndian.AppendUint16(b, p.Port)
}

// DecodePeersCompact parses a compact peer list.
func DecodePeersCompact(b []byte) ([]*net.TCPAddr, error) {
	if len(b)%CompactPeerLen != 0 {
		return nil, errors.New("invalid peer list length")
	}
	addrs := make([]*net.TCPAddr, 0, len(b)/CompactPeerLen)
	for i := 0; i < len(b); i += CompactPeerLen {
		var p CompactPeer
		copy(p.IP[:], b[i:i+4])
		p.Port = binary.BigEndian.Uint16(b[i+4 : i+6])
		addrs = append(addrs, p.Addr())
	}
	return addrs, nil
}

// EncodePeersCompact returns the compact form of addrs. Non IPv4 addresses are skipped.
func EncodePeersCompact(addrs []*net.TCPAddr) []byte {
	b := make([]byte, 0, len(addrs)*CompactPeerLen)
	for _, a := range addrs {
		if a.IP.To4() == nil {
			continue
		}
		b = NewCompactPeer(a).Append(b)
	}
	return b
}
