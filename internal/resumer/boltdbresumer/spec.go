package boltdbresumer

import (
	"strings"
	"time"
)

// Spec is everything needed to restart a torrent.
type Spec struct {
	InfoHash        []byte
	Dest            string
	Port            int
	Name            string
	Trackers        [][]string
	FixedPeers      []string
	Info            []byte
	Bitfield        []byte
	AddedAt         time.Time
	BytesDownloaded int64
	BytesUploaded   int64
	BytesWasted     int64
	SeededFor       time.Duration
	Started         bool
}

// Trackers are stored one URL per line, tiers separated by an empty line.
func encodeTiers(tiers [][]string) []byte {
	parts := make([]string, 0, len(tiers))
	for _, tier := range tiers {
		if len(tier) == 0 {
			continue
		}
		parts = append(parts, strings.Join(tier, "\n"))
	}
	return []byte(strings.Join(parts, "\n\n"))
}

func decodeTiers(b []byte) [][]string {
	if len(b) == 0 {
		return nil
	}
	var tiers [][]string
	for _, part := range strings.Split(string(b), "\n\n") {
		tier := decodeList([]byte(part))
		if len(tier) > 0 {
			tiers = append(tiers, tier)
		}
	}
	return tiers
}

func encodeList(l []string) []byte {
	return []byte(strings.Join(l, "\n"))
}

func decodeList(b []byte) []string {
	var l []string
	for _, s := range strings.Split(string(b), "\n") {
		if s = strings.TrimSpace(s); s != "" {
			l = append(l, s)
		}
	}
	return l
}
