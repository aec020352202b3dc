package piece

import (
	"bytes"
	"crypto/sha1" // nolint: gosec

	"github.com/swarmget/swarmget/internal/filesection"
)

// Piece binds a piece of the layout to open files.
type Piece struct {
	Index  uint32
	Length uint32
	Data   filesection.Sections
	Hash   []byte
}

// NewPieces returns the pieces of l backed by files, which are in the same order as l.Files.
func NewPieces(l *Layout, files []filesection.ReadWriterAt) []Piece {
	pieces := make([]Piece, l.NumPieces)
	for i := range pieces {
		idx := uint32(i)
		p := Piece{Index: idx, Length: l.Length(idx), Hash: l.Hash(idx)}
		for _, sp := range l.Spans(idx) {
			p.Data = append(p.Data, filesection.Section{File: files[sp.File], Offset: sp.FileOffset, Length: sp.Length})
		}
		pieces[i] = p
	}
	return pieces
}

// VerifyHash reports whether data hashes to the expected value.
func (p *Piece) VerifyHash(data []byte) bool {
	sum := sha1.Sum(data) // nolint: gosec
	return bytes.Equal(sum[:], p.Hash)
}

// Verify reads the piece from disk into buf and checks its hash.
func (p *Piece) Verify(buf []byte) (bool, error) {
	buf = buf[:p.Length]
	if err := p.Data.ReadFull(buf); err != nil {
		return false, err
	}
	return p.VerifyHash(buf), nil
}
