// Package bitfield implements the piece completion vector exchanged with peers.
package bitfield

import (
	"encoding/hex"
	"errors"
	"math/bits"
)

// ErrLength is returned by FromBytes when the byte slice does not match the bit count.
var ErrLength = errors.New("bitfield: invalid length")

// ErrSpareBits is returned by FromBytes when unused trailing bits are set.
var ErrSpareBits = errors.New("bitfield: spare bits set")

// Bitfield is an ordered set of bits. Bit 0 is the most significant bit of the first byte.
type Bitfield struct {
	b      []byte
	length uint32
}

// New returns a Bitfield with length cleared bits.
func New(length uint32) *Bitfield {
	return &Bitfield{b: make([]byte, numBytes(length)), length: length}
}

// FromBytes copies b into a new Bitfield of length bits.
// Input coming from the network is validated strictly.
func FromBytes(b []byte, length uint32) (*Bitfield, error) {
	if uint32(len(b)) != numBytes(length) {
		return nil, ErrLength
	}
	if mod := length % 8; mod != 0 && b[len(b)-1]&(0xff>>mod) != 0 {
		return nil, ErrSpareBits
	}
	v := New(length)
	copy(v.b, b)
	return v, nil
}

func numBytes(length uint32) uint32 { return (length + 7) / 8 }

// Bytes returns the underlying bytes. Modifying the slice modifies the Bitfield.
func (b *Bitfield) Bytes() []byte { return b.b }

// Len returns the number of bits.
func (b *Bitfield) Len() uint32 { return b.length }

// Hex returns the bytes as a hex string.
func (b *Bitfield) Hex() string { return hex.EncodeToString(b.b) }

// Copy returns an independent copy.
func (b *Bitfield) Copy() *Bitfield {
	c := New(b.length)
	copy(c.b, b.b)
	return c
}

// Set sets bit i. Panics if i is out of range.
func (b *Bitfield) Set(i uint32) {
	b.check(i)
	b.b[i/8] |= 0x80 >> (i % 8)
}

// Clear clears bit i. Panics if i is out of range.
func (b *Bitfield) Clear(i uint32) {
	b.check(i)
	b.b[i/8] &^= 0x80 >> (i % 8)
}

// Test reports whether bit i is set. Panics if i is out of range.
func (b *Bitfield) Test(i uint32) bool {
	b.check(i)
	return b.b[i/8]&(0x80>>(i%8)) != 0
}

// Count returns the number of set bits.
func (b *Bitfield) Count() uint32 {
	var n int
	for _, v := range b.b {
		n += bits.OnesCount8(v)
	}
	return uint32(n)
}

// All reports whether every bit is set.
func (b *Bitfield) All() bool { return b.Count() == b.length }

// Empty reports whether no bit is set.
func (b *Bitfield) Empty() bool {
	for _, v := range b.b {
		if v != 0 {
			return false
		}
	}
	return true
}

// SetAll sets every bit.
func (b *Bitfield) SetAll() {
	for i := uint32(0); i < b.length; i++ {
		b.Set(i)
	}
}

func (b *Bitfield) check(i uint32) {
	if i >= b.length {
		panic("bitfield: index out of range")
	}
}
