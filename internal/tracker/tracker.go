// Package tracker announces torrents to HTTP and UDP trackers.
package tracker

import (
	"context"
	"errors"
	"net"
	"time"
)

// Tracker is an HTTP or UDP tracker, or a tier of them.
type Tracker interface {
	URL() string
	// Announce reports the torrent and returns peers. The announcer calls it again
	// after the interval in the response and when an event happens.
	Announce(ctx context.Context, req AnnounceRequest) (*AnnounceResponse, error)
}

// Torrent is the state of a download as reported to trackers.
type Torrent struct {
	InfoHash [20]byte
	PeerID   [20]byte
	// Port that accepts incoming peer connections.
	Port int

	BytesDownloaded int64
	BytesUploaded   int64
	// BytesLeft is zero when the download is complete.
	BytesLeft int64
}

// AnnounceRequest is sent to a tracker.
type AnnounceRequest struct {
	Torrent Torrent
	Event   Event
	// Peers wanted in the response, zero for the stopped and completed events.
	NumWant int
}

// AnnounceResponse is received from a tracker.
type AnnounceResponse struct {
	Interval       time.Duration
	MinInterval    time.Duration
	Leechers       int32
	Seeders        int32
	WarningMessage string
	Peers          []*net.TCPAddr
}

// ErrDecode is returned when the tracker response cannot be parsed.
var ErrDecode = errors.New("cannot decode response")

// Error is a failure reason sent by the tracker. The announce is retried after RetryIn if it is set.
type Error struct {
	FailureReason string
	RetryIn       time.Duration
}

func (e *Error) Error() string { return "tracker failure: " + e.FailureReason }
