// Package magnet parses magnet links.
package magnet

import (
	"encoding/base32"
	"encoding/hex"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/multiformats/go-multihash"
)

// Magnet is a parsed magnet link.
type Magnet struct {
	InfoHash [20]byte
	Name     string
	Trackers [][]string
	// Peers are "host:port" strings from x.pe parameters.
	Peers []string
}

// New parses s.
func New(s string) (*Magnet, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "magnet" {
		return nil, errors.New("not a magnet link")
	}
	params := u.Query()
	xt := params.Get("xt")
	if xt == "" {
		return nil, errors.New("missing xt param")
	}
	m := &Magnet{Name: params.Get("dn"), Peers: params["x.pe"]}
	if m.InfoHash, err = parseExactTopic(xt); err != nil {
		return nil, err
	}
	m.Trackers = parseTrackers(params)
	return m, nil
}

// parseTrackers orders plain "tr" params as single-tracker tiers first,
// followed by numbered "tr.N" tiers.
func parseTrackers(params url.Values) [][]string {
	type tier struct {
		index    int
		trackers []string
	}
	var tiers []tier
	for i, tr := range params["tr"] {
		tiers = append(tiers, tier{index: i - len(params["tr"]), trackers: []string{tr}})
	}
	for key, l := range params {
		if !strings.HasPrefix(key, "tr.") {
			continue
		}
		if n, err := strconv.Atoi(key[3:]); err == nil && n >= 0 {
			tiers = append(tiers, tier{index: n, trackers: l})
		}
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].index < tiers[j].index })
	ret := make([][]string, 0, len(tiers))
	for _, t := range tiers {
		ret = append(ret, t.trackers)
	}
	return ret
}

func parseExactTopic(xt string) (ih [20]byte, err error) {
	var b []byte
	switch {
	case strings.HasPrefix(xt, "urn:btih:"):
		s := xt[len("urn:btih:"):]
		switch len(s) {
		case 40:
			b, err = hex.DecodeString(s)
		case 32:
			b, err = base32.StdEncoding.DecodeString(strings.ToUpper(s))
		default:
			err = errors.New("info hash must be 32 or 40 characters")
		}
	case strings.HasPrefix(xt, "urn:btmh:"):
		var mh multihash.Multihash
		mh, err = multihash.FromHexString(xt[len("urn:btmh:"):])
		if err == nil {
			var dec *multihash.DecodedMultihash
			dec, err = multihash.Decode(mh)
			if err == nil {
				b = dec.Digest
			}
		}
	default:
		err = errors.New(`invalid xt param: must start with "urn:btih:" or "urn:btmh:"`)
	}
	if err != nil {
		return
	}
	if len(b) != 20 {
		err = errors.New("info hash must be 20 bytes")
		return
	}
	copy(ih[:], b)
	return
}

// String formats the link back with a hex info hash.
func (m *Magnet) String() string {
	var b strings.Builder
	b.WriteString("magnet:?xt=urn:btih:")
	b.WriteString(hex.EncodeToString(m.InfoHash[:]))
	if m.Name != "" {
		b.WriteString("&dn=" + url.QueryEscape(m.Name))
	}
	for i, tier := range m.Trackers {
		for _, tr := range tier {
			if len(tier) == 1 {
				b.WriteString("&tr=" + url.QueryEscape(tr))
			} else {
				b.WriteString("&tr." + strconv.Itoa(i) + "=" + url.QueryEscape(tr))
			}
		}
	}
	for _, p := range m.Peers {
		b.WriteString("&x.pe=" + p)
	}
	return b.String()
}
