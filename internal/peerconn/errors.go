package peerconn

import "errors"

var (
	// ErrTimeout is the result of a request that was not answered after one retry.
	ErrTimeout = errors.New("block request timed out")
	// ErrPeerClosed is the result of requests pending when the connection closed.
	ErrPeerClosed = errors.New("peer connection closed")
	// ErrChoked is returned for requests while the peer chokes us. Pending requests
	// fail with it when the peer chokes us.
	ErrChoked = errors.New("peer is choking")
	// ErrCanceled is the result of a request cancelled with Cancel.
	ErrCanceled = errors.New("block request canceled")
	// ErrWindowFull is returned when the outstanding request window is full.
	ErrWindowFull = errors.New("request window is full")
	// ErrAlreadyRequested is returned when the block is already pending on this connection.
	ErrAlreadyRequested = errors.New("block already requested")
	// ErrChoking is returned by SendPiece while we choke the peer.
	ErrChoking = errors.New("peer is choked")
	// ErrUploadQueueFull is returned by SendPiece when too many uploads are queued.
	ErrUploadQueueFull = errors.New("upload queue is full")
)
