package metainfo

import (
	"crypto/sha1" // nolint: gosec
	"errors"
	"io"

	"github.com/zeebo/bencode"
)

// NewInfoBytes hashes the concatenated content of files read from r and returns
// a bencoded info dictionary. A single entry with an empty path produces a single-file torrent.
func NewInfoBytes(name string, files []FileDict, pieceLength uint32, r io.Reader) ([]byte, error) {
	if pieceLength == 0 {
		return nil, errInvalidPieceLength
	}
	var total int64
	for _, f := range files {
		total += f.Length
	}
	var pieces []byte
	buf := make([]byte, pieceLength)
	for remaining := total; remaining > 0; {
		n := int64(pieceLength)
		if remaining < n {
			n = remaining
		}
		if _, err := io.ReadFull(r, buf[:n]); err != nil {
			return nil, err
		}
		sum := sha1.Sum(buf[:n]) // nolint: gosec
		pieces = append(pieces, sum[:]...)
		remaining -= n
	}
	info := Info{PieceLength: pieceLength, Pieces: pieces, Name: name}
	switch {
	case len(files) == 0:
		return nil, errors.New("no files")
	case len(files) == 1 && len(files[0].Path) == 0:
		info.Length = files[0].Length
	default:
		info.Files = files
	}
	return bencode.EncodeBytes(info)
}
