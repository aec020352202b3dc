package piecestore

import (
	"context"
)

// ReadBlock reads a block of a complete piece for uploading to a peer.
func (s *Store) ReadBlock(index, begin, length uint32) ([]byte, error) {
	if index >= s.layout.NumPieces || uint64(begin)+uint64(length) > uint64(s.layout.Length(index)) {
		return nil, ErrInvalidBlock
	}
	if !s.Have(index) {
		return nil, ErrNotAvailable
	}
	b := make([]byte, length)
	if _, err := s.pieces[index].Data.ReadAt(b, int64(begin)); err != nil {
		return nil, err
	}
	return b, nil
}

// Verify hash checks pieces that are not complete against the content on disk and marks
// the matching ones complete. It is used when files exist but no bitfield has been saved.
// progress, if not nil, is called after every piece.
func (s *Store) Verify(ctx context.Context, progress func(checked uint32)) (uint32, error) {
	buf := make([]byte, s.layout.PieceLength)
	var found uint32
	for i := range s.pieces {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		p := &s.pieces[i]
		if s.Have(p.Index) {
			continue
		}
		ok, err := p.Verify(buf)
		if err != nil {
			return found, err
		}
		if ok {
			s.mu.Lock()
			if _, staged := s.staged[p.Index]; !staged {
				s.bitfield.Set(p.Index)
				found++
			}
			s.mu.Unlock()
		}
		if progress != nil {
			progress(p.Index + 1)
		}
	}
	return found, nil
}
