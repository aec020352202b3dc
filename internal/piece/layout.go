// Package piece maps the piece space of a torrent to files and blocks.
package piece

import (
	"path/filepath"

	"github.com/swarmget/swarmget/internal/metainfo"
)

// BlockSize is the length of every block except possibly the last one of a piece.
const BlockSize = 16 * 1024

// FileRange is the place of one file in the concatenated torrent content.
type FileRange struct {
	Path   string
	Offset int64
	Length int64
}

// Span is the part of a piece that falls into one file.
type Span struct {
	File       int   // index into Layout.Files
	FileOffset int64 // offset within the file
	Length     int64
}

// Layout is derived once from the info dictionary and never changes.
type Layout struct {
	// BlockSize is the block grid used for requests. Defaults to the package BlockSize.
	BlockSize   uint32
	PieceLength uint32
	TotalLength int64
	NumPieces   uint32
	Files       []FileRange
	hashes      []byte
}

// NewLayout builds the layout of info.
func NewLayout(info *metainfo.Info) *Layout {
	l := &Layout{
		BlockSize:   BlockSize,
		PieceLength: info.PieceLength,
		TotalLength: info.TotalLength,
		NumPieces:   info.NumPieces,
		hashes:      info.Pieces,
	}
	var off int64
	for _, f := range info.GetFiles() {
		p := filepath.Join(f.Path...)
		if info.MultiFile() {
			p = filepath.Join(info.Name, p)
		}
		l.Files = append(l.Files, FileRange{Path: p, Offset: off, Length: f.Length})
		off += f.Length
	}
	return l
}

// Length returns the length of piece i. Only the last piece may be shorter.
func (l *Layout) Length(i uint32) uint32 {
	if i == l.NumPieces-1 {
		if mod := uint32(l.TotalLength % int64(l.PieceLength)); mod != 0 {
			return mod
		}
	}
	return l.PieceLength
}

// Hash returns the expected SHA-1 of piece i.
func (l *Layout) Hash(i uint32) []byte {
	return l.hashes[i*20 : i*20+20]
}

// Spans returns the file regions of piece i in order. Zero-length files are skipped.
func (l *Layout) Spans(i uint32) []Span {
	begin := int64(i) * int64(l.PieceLength)
	end := begin + int64(l.Length(i))
	var spans []Span
	for fi, f := range l.Files {
		if f.Length == 0 || f.Offset+f.Length <= begin {
			continue
		}
		if f.Offset >= end {
			break
		}
		from, to := max64(begin, f.Offset), min64(end, f.Offset+f.Length)
		spans = append(spans, Span{File: fi, FileOffset: from - f.Offset, Length: to - from})
	}
	return spans
}

// NumBlocks returns the number of blocks in piece i.
func (l *Layout) NumBlocks(i uint32) uint32 {
	bs := l.BlockSize
	return (l.Length(i) + bs - 1) / bs
}

// Blocks returns all blocks of piece i.
func (l *Layout) Blocks(i uint32) []Block {
	bs := l.BlockSize
	n := l.NumBlocks(i)
	blocks := make([]Block, n)
	for j := uint32(0); j < n; j++ {
		blocks[j] = Block{Index: j, Begin: j * bs, Length: bs}
	}
	if mod := l.Length(i) % bs; mod != 0 {
		blocks[n-1].Length = mod
	}
	return blocks
}

// FindBlock returns the block of piece i that starts at begin with the given length.
func (l *Layout) FindBlock(i, begin, length uint32) (Block, bool) {
	if i >= l.NumPieces || begin%l.BlockSize != 0 {
		return Block{}, false
	}
	idx := begin / l.BlockSize
	if idx >= l.NumBlocks(i) {
		return Block{}, false
	}
	b := l.Blocks(i)[idx]
	return b, b.Length == length
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
