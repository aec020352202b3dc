package udptracker_test

import (
	"context"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/chihaya/chihaya/frontend/udp"
	"github.com/chihaya/chihaya/middleware"
	"github.com/chihaya/chihaya/storage"
	_ "github.com/chihaya/chihaya/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmget/swarmget/internal/tracker"
	"github.com/swarmget/swarmget/internal/tracker/udptracker"
)

const timeout = 2 * time.Second

func startUDPTracker(t *testing.T, port int) func() {
	ps, err := storage.NewPeerStore("memory", map[string]any{})
	require.NoError(t, err)
	lgc := middleware.NewLogic(middleware.ResponseConfig{AnnounceInterval: time.Minute}, ps, nil, nil)
	fe, err := udp.NewFrontend(lgc, udp.Config{
		Addr:         "127.0.0.1:" + strconv.Itoa(port),
		MaxClockSkew: time.Minute,
		PrivateKey:   "M4YlzP02iB0B46P2i3QLyMOW6nWXnVlYeJ91xIdtu8Ao7IIVKLZEaCEshTChmFrS",
	})
	require.NoError(t, err)
	return func() {
		require.Empty(t, <-fe.Stop())
	}
}

func TestUDPTracker(t *testing.T) {
	defer startUDPTracker(t, 5000)()

	const rawURL = "udp://127.0.0.1:5000/announce"
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	tr := udptracker.NewTransport(time.Second)
	defer tr.Close()
	trk := udptracker.New(rawURL, u, tr)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, err = trk.Announce(ctx, tracker.AnnounceRequest{
		Torrent: tracker.Torrent{Port: 1111, PeerID: [20]byte{1}},
		Event:   tracker.EventStarted,
	})
	require.NoError(t, err)

	resp, err := trk.Announce(ctx, tracker.AnnounceRequest{
		Torrent: tracker.Torrent{Port: 2222, PeerID: [20]byte{2}, BytesLeft: 1},
		Event:   tracker.EventStarted,
		NumWant: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, resp.Interval)
	require.Len(t, resp.Peers, 1)
	assert.Equal(t, 1111, resp.Peers[0].Port)
}

func TestUnreachableTimesOut(t *testing.T) {
	u, err := url.Parse("udp://127.0.0.1:1/announce")
	require.NoError(t, err)
	tr := udptracker.NewTransport(50 * time.Millisecond)
	defer tr.Close()
	trk := udptracker.New(u.String(), u, tr)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err = trk.Announce(ctx, tracker.AnnounceRequest{})
	assert.Error(t, err)
}
