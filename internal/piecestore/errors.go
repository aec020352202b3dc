package piecestore

import (
	"errors"
	"fmt"
)

var (
	// ErrBufferPressure is returned by SubmitBlock when staging a new piece would exceed
	// the memory budget. It is a flow control signal: wait on SpaceAvailable and retry.
	ErrBufferPressure = errors.New("piecestore: memory buffer full")

	// ErrInvalidBlock is returned for blocks that do not match the piece layout.
	ErrInvalidBlock = errors.New("piecestore: invalid block")

	// ErrNotAvailable is returned by ReadBlock for pieces that are not complete.
	ErrNotAvailable = errors.New("piecestore: piece not available")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("piecestore: closed")
)

// DiskError is a failure to write a verified piece. It is fatal to the torrent.
// The staged data of the piece is kept.
type DiskError struct {
	Index uint32
	Err   error
}

func (e *DiskError) Error() string {
	return fmt.Sprintf("cannot write piece #%d: %s", e.Index, e.Err)
}

func (e *DiskError) Unwrap() error { return e.Err }
