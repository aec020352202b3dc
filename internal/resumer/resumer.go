// Package resumer defines what a running torrent saves so that it can continue after a restart.
package resumer

import "time"

// Resumer saves the resume data of one torrent.
// Writes happen on the run loop of the torrent and must not block for long.
type Resumer interface {
	// WriteInfo saves the bencoded info dictionary.
	WriteInfo([]byte) error
	// WriteBitfield saves the verified pieces.
	WriteBitfield([]byte) error
	WriteStats(Stats) error
}

// Stats are transfer counters that are added up across sessions.
type Stats struct {
	BytesDownloaded int64
	BytesUploaded   int64
	// Duplicate blocks and data of pieces that failed the hash check.
	BytesWasted int64
	SeededFor   time.Duration
}
