package metainfo

import (
	"crypto/sha1" // nolint: gosec
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/zeebo/bencode"
)

var (
	errInvalidPieceData   = errors.New("invalid piece data")
	errInvalidPieceLength = errors.New("invalid piece length")
	errEmptyName          = errors.New("empty torrent name")
)

// Info is the info dictionary of a torrent.
type Info struct {
	PieceLength uint32     `bencode:"piece length"`
	Pieces      []byte     `bencode:"pieces"`
	Name        string     `bencode:"name"`
	Length      int64      `bencode:"length,omitempty"`
	Files       []FileDict `bencode:"files,omitempty"`

	// Computed after decoding.
	Hash        [20]byte `bencode:"-"`
	TotalLength int64    `bencode:"-"`
	NumPieces   uint32   `bencode:"-"`
	Bytes       []byte   `bencode:"-"`
}

// FileDict is an entry in a multi-file torrent.
type FileDict struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}

// NewInfo decodes and validates a bencoded info dictionary.
func NewInfo(b []byte) (*Info, error) {
	var i Info
	if err := bencode.DecodeBytes(b, &i); err != nil {
		return nil, err
	}
	if i.PieceLength == 0 {
		return nil, errInvalidPieceLength
	}
	if len(i.Pieces)%sha1.Size != 0 {
		return nil, errInvalidPieceData
	}
	if strings.TrimSpace(i.Name) == "" {
		return nil, errEmptyName
	}
	for _, f := range i.Files {
		if f.Length < 0 {
			return nil, fmt.Errorf("negative file length: %q", filepath.Join(f.Path...))
		}
		for _, p := range f.Path {
			if p = strings.TrimSpace(p); p == ".." || p == "." || strings.ContainsAny(p, `/\`) {
				return nil, fmt.Errorf("invalid file name: %q", filepath.Join(f.Path...))
			}
		}
		i.TotalLength += f.Length
	}
	if !i.MultiFile() {
		i.TotalLength = i.Length
	}
	i.NumPieces = uint32(len(i.Pieces) / sha1.Size)
	slack := int64(i.PieceLength)*int64(i.NumPieces) - i.TotalLength
	if slack < 0 || slack >= int64(i.PieceLength) {
		return nil, errInvalidPieceData
	}
	i.Bytes = b
	i.Hash = sha1.Sum(b) // nolint: gosec
	return &i, nil
}

// MultiFile reports whether the torrent uses the "files" list.
func (i *Info) MultiFile() bool {
	return len(i.Files) != 0
}

// HashOf returns the expected SHA-1 of piece index.
func (i *Info) HashOf(index uint32) []byte {
	begin := index * sha1.Size
	return i.Pieces[begin : begin+sha1.Size]
}

// GetFiles returns the files of the torrent. A single-file torrent returns one entry.
func (i *Info) GetFiles() []FileDict {
	if i.MultiFile() {
		return i.Files
	}
	return []FileDict{{Length: i.Length, Path: []string{i.Name}}}
}
