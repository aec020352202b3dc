// Package trackermanager creates trackers that share transports across torrents.
package trackermanager

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/swarmget/swarmget/internal/tracker"
	"github.com/swarmget/swarmget/internal/tracker/httptracker"
	"github.com/swarmget/swarmget/internal/tracker/udptracker"
)

// TrackerManager owns the HTTP and UDP transports of a session.
type TrackerManager struct {
	httpTransport *http.Transport
	udpTransport  *udptracker.Transport
}

// New returns a TrackerManager. dnsTimeout bounds host lookups of HTTP trackers.
// Lost UDP requests are sent again after udpRetransmit, doubling every time.
func New(dnsTimeout, udpRetransmit time.Duration) *TrackerManager {
	m := &TrackerManager{
		httpTransport: new(http.Transport),
		udpTransport:  udptracker.NewTransport(udpRetransmit),
	}
	m.httpTransport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		dctx, cancel := context.WithTimeout(ctx, dnsTimeout)
		ip, port, err := tracker.ResolveHost(dctx, addr)
		cancel()
		if err != nil {
			return nil, err
		}
		var d net.Dialer
		return d.DialContext(ctx, network, (&net.TCPAddr{IP: ip, Port: port}).String())
	}
	return m
}

// Get returns a tracker for the URL s.
func (m *TrackerManager) Get(s string, httpTimeout time.Duration, httpUserAgent string, httpMaxResponseLength int64) (tracker.Tracker, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http", "https":
		return httptracker.New(s, u, httpTimeout, m.httpTransport, httpUserAgent, httpMaxResponseLength), nil
	case "udp":
		return udptracker.New(s, u, m.udpTransport), nil
	default:
		return nil, fmt.Errorf("unsupported tracker scheme: %s", u.Scheme)
	}
}

// Close the shared transports.
func (m *TrackerManager) Close() {
	m.httpTransport.CloseIdleConnections()
	m.udpTransport.Close()
}
