// Package httptracker implements the HTTP tracker protocol.
package httptracker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/zeebo/bencode"

	"github.com/swarmget/swarmget/internal/logger"
	"github.com/swarmget/swarmget/internal/tracker"
)

// HTTPTracker announces to one HTTP tracker.
type HTTPTracker struct {
	rawURL            string
	url               *url.URL
	log               logger.Logger
	http              *http.Client
	userAgent         string
	maxResponseLength int64
	trackerID         string
}

var _ tracker.Tracker = (*HTTPTracker)(nil)

// StatusError is returned when the tracker responds with a status other than 200 OK
// or sends a body larger than the allowed size.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d from tracker", e.Code)
}

// response is the bencoded body of an announce response.
type response struct {
	Failure     string             `bencode:"failure reason"`
	RetryIn     string             `bencode:"retry in"`
	Warning     string             `bencode:"warning message"`
	Interval    int32              `bencode:"interval"`
	MinInterval int32              `bencode:"min interval"`
	TrackerID   string             `bencode:"tracker id"`
	Seeders     int32              `bencode:"complete"`
	Leechers    int32              `bencode:"incomplete"`
	Peers       bencode.RawMessage `bencode:"peers"`
	ExternalIP  []byte             `bencode:"external ip"`
}

// failure returns the failure reason as an error. "retry in" is given in minutes, or "never".
func (r *response) failure() error {
	if r.Failure == "" {
		return nil
	}
	e := &tracker.Error{FailureReason: r.Failure}
	if m, err := strconv.Atoi(r.RetryIn); err == nil && m > 0 {
		e.RetryIn = time.Duration(m) * time.Minute
	}
	return e
}

// New returns a tracker for u. Requests time out after timeout and responses larger
// than maxResponseLength are rejected.
func New(rawURL string, u *url.URL, timeout time.Duration, t *http.Transport, userAgent string, maxResponseLength int64) *HTTPTracker {
	return &HTTPTracker{
		rawURL:            rawURL,
		url:               u,
		log:               logger.New("tracker " + u.Host),
		http:              &http.Client{Timeout: timeout, Transport: t},
		userAgent:         userAgent,
		maxResponseLength: maxResponseLength,
	}
}

// URL of the tracker.
func (t *HTTPTracker) URL() string {
	return t.rawURL
}

// Announce sends a GET request with the torrent state in the query string.
func (t *HTTPTracker) Announce(ctx context.Context, req tracker.AnnounceRequest) (*tracker.AnnounceResponse, error) {
	q := t.url.Query()
	q.Set("info_hash", string(req.Torrent.InfoHash[:]))
	q.Set("peer_id", string(req.Torrent.PeerID[:]))
	q.Set("port", strconv.Itoa(req.Torrent.Port))
	q.Set("uploaded", strconv.FormatInt(req.Torrent.BytesUploaded, 10))
	q.Set("downloaded", strconv.FormatInt(req.Torrent.BytesDownloaded, 10))
	q.Set("left", strconv.FormatInt(req.Torrent.BytesLeft, 10))
	q.Set("compact", "1")
	q.Set("no_peer_id", "1")
	q.Set("numwant", strconv.Itoa(req.NumWant))
	if req.Event != tracker.EventNone {
		q.Set("event", req.Event.String())
	}
	if t.trackerID != "" {
		q.Set("trackerid", t.trackerID)
	}
	u := *t.url
	u.RawQuery = q.Encode()
	t.log.Debugf("making request to: %q", u.String())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if t.userAgent != "" {
		httpReq.Header.Set("User-Agent", t.userAgent)
	}
	resp, err := t.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxResponseLength+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > t.maxResponseLength {
		return nil, &StatusError{Code: resp.StatusCode, Body: "response too large"}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var r response
	if err = bencode.DecodeBytes(body, &r); err != nil {
		return nil, tracker.ErrDecode
	}
	if r.Warning != "" {
		t.log.Warning(r.Warning)
	}
	if err = r.failure(); err != nil {
		return nil, err
	}
	if r.TrackerID != "" {
		t.trackerID = r.TrackerID
	}

	peers, err := parsePeers(r.Peers)
	if err != nil {
		return nil, err
	}
	// Drop our own address.
	if ip := net.IP(r.ExternalIP); len(ip) != 0 {
		filtered := peers[:0]
		for _, p := range peers {
			if !(p.IP.Equal(ip) && p.Port == req.Torrent.Port) {
				filtered = append(filtered, p)
			}
		}
		peers = filtered
	}
	return &tracker.AnnounceResponse{
		Interval:       time.Duration(r.Interval) * time.Second,
		MinInterval:    time.Duration(r.MinInterval) * time.Second,
		Leechers:       r.Leechers,
		Seeders:        r.Seeders,
		WarningMessage: r.Warning,
		Peers:          peers,
	}, nil
}

// parsePeers accepts both the compact string and the dictionary list model.
func parsePeers(raw bencode.RawMessage) ([]*net.TCPAddr, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if raw[0] == 'l' {
		var l []struct {
			IP   string `bencode:"ip"`
			Port uint16 `bencode:"port"`
		}
		if err := bencode.DecodeBytes(raw, &l); err != nil {
			return nil, tracker.ErrDecode
		}
		addrs := make([]*net.TCPAddr, 0, len(l))
		for _, p := range l {
			if ip := net.ParseIP(p.IP); ip != nil {
				addrs = append(addrs, &net.TCPAddr{IP: ip, Port: int(p.Port)})
			}
		}
		return addrs, nil
	}
	var b []byte
	if err := bencode.NewDecoder(bytes.NewReader(raw)).Decode(&b); err != nil {
		return nil, tracker.ErrDecode
	}
	return tracker.DecodePeersCompact(b)
}
