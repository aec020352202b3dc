// Package metainfo reads and writes torrent files.
package metainfo

import (
	"errors"
	"io"
	"strings"

	"github.com/zeebo/bencode"
)

// MetaInfo is a parsed torrent file.
type MetaInfo struct {
	Info         Info
	AnnounceList [][]string
}

// New parses a torrent file from r.
func New(r io.Reader) (*MetaInfo, error) {
	var t struct {
		Info         bencode.RawMessage `bencode:"info"`
		Announce     bencode.RawMessage `bencode:"announce"`
		AnnounceList bencode.RawMessage `bencode:"announce-list"`
	}
	if err := bencode.NewDecoder(r).Decode(&t); err != nil {
		return nil, err
	}
	if len(t.Info) == 0 {
		return nil, errors.New("no info dict in torrent file")
	}
	info, err := NewInfo(t.Info)
	if err != nil {
		return nil, err
	}
	ret := &MetaInfo{Info: *info}
	var tiers [][]string
	if len(t.AnnounceList) > 0 && bencode.DecodeBytes(t.AnnounceList, &tiers) == nil {
		for _, tier := range tiers {
			if filtered := filterTrackers(tier); len(filtered) > 0 {
				ret.AnnounceList = append(ret.AnnounceList, filtered)
			}
		}
	}
	var announce string
	if len(ret.AnnounceList) == 0 && len(t.Announce) > 0 && bencode.DecodeBytes(t.Announce, &announce) == nil {
		if filtered := filterTrackers([]string{announce}); len(filtered) > 0 {
			ret.AnnounceList = [][]string{filtered}
		}
	}
	return ret, nil
}

func filterTrackers(l []string) []string {
	var ret []string
	for _, s := range l {
		if IsTrackerSupported(s) {
			ret = append(ret, s)
		}
	}
	return ret
}

// IsTrackerSupported reports whether the tracker URL scheme is one we can announce to.
func IsTrackerSupported(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "udp://")
}

// NewBytes returns a bencoded torrent file for the given info dictionary and trackers.
func NewBytes(info []byte, trackers [][]string) ([]byte, error) {
	mi := struct {
		Info         bencode.RawMessage `bencode:"info"`
		Announce     string             `bencode:"announce,omitempty"`
		AnnounceList [][]string         `bencode:"announce-list,omitempty"`
	}{Info: info}
	if len(trackers) > 0 && len(trackers[0]) > 0 {
		mi.Announce = trackers[0][0]
	}
	if len(trackers) > 1 || (len(trackers) == 1 && len(trackers[0]) > 1) {
		mi.AnnounceList = trackers
	}
	return bencode.EncodeBytes(mi)
}
