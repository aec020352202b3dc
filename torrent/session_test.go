package torrent

import (
	"bytes"
	"context"
	"crypto/rand"
	"io/ioutil"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmget/swarmget/internal/metainfo"
	"github.com/swarmget/swarmget/task"
)

const (
	testFileName    = "sample.bin"
	testPieceLength = 32 * 1024
	testFileSize    = 20*testPieceLength + 1234
)

func newTestTorrent(t *testing.T) (torrentFile, content []byte) {
	content = make([]byte, testFileSize)
	_, err := rand.Read(content)
	require.NoError(t, err)
	files := []metainfo.FileDict{{Length: testFileSize}}
	info, err := metainfo.NewInfoBytes(testFileName, files, testPieceLength, bytes.NewReader(content))
	require.NoError(t, err)
	torrentFile, err = metainfo.NewBytes(info, nil)
	require.NoError(t, err)
	return torrentFile, content
}

func newTestSession(t *testing.T, portBegin uint16, opts ...func(*Config)) (*Session, string) {
	dir, err := ioutil.TempDir("", "swarmget-session-")
	require.NoError(t, err)
	cfg := DefaultConfig
	cfg.Database = filepath.Join(dir, "resume.db")
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.PortBegin = portBegin
	cfg.PortEnd = portBegin + 10
	cfg.DHTEnabled = false
	cfg.LSDEnabled = false
	cfg.Seed = true
	cfg.TrackerStopTimeout = time.Second
	for _, opt := range opts {
		opt(&cfg)
	}
	s, err := New(cfg)
	require.NoError(t, err)
	return s, dir
}

func waitStatus(t *testing.T, tor *Torrent, state task.State) task.Status {
	deadline := time.Now().Add(10 * time.Second)
	for {
		st := tor.Status()
		if st.State == state {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("task state is %s, want %s", st.State, state)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestSessionAddAndRemove(t *testing.T) {
	s, dir := newTestSession(t, 42100)
	defer os.RemoveAll(dir)
	defer s.Close()

	tf, _ := newTestTorrent(t)
	tor, err := s.AddTorrent(bytes.NewReader(tf))
	require.NoError(t, err)
	assert.Equal(t, testFileName, tor.Name())
	assert.Len(t, s.Tasks(), 1)

	got, err := s.Task(tor.ID())
	require.NoError(t, err)
	assert.Equal(t, tor, got)

	st := tor.Status()
	assert.Equal(t, task.Stopped, st.State)
	assert.Equal(t, int64(testFileSize), st.BytesTotal)
	assert.Zero(t, st.BytesCompleted)

	require.NoError(t, s.Remove(tor.ID()))
	assert.Empty(t, s.Tasks())
	_, err = s.Task(tor.ID())
	assert.Equal(t, ErrTaskNotFound, err)
	assert.Equal(t, ErrTaskNotFound, s.Remove(tor.ID()))
}

func TestTaskLifecycle(t *testing.T) {
	s, dir := newTestSession(t, 42110)
	defer os.RemoveAll(dir)
	defer s.Close()

	tf, _ := newTestTorrent(t)
	tor, err := s.AddTorrent(bytes.NewReader(tf))
	require.NoError(t, err)

	assert.Equal(t, ErrNotOpen, tor.Download(context.Background()))
	require.NoError(t, tor.Open())
	require.NoError(t, tor.Open())
	_, err = os.Stat(filepath.Join(dir, "data", tor.ID(), testFileName))
	require.NoError(t, err)

	errC := make(chan error, 1)
	go func() { errC <- tor.Download(context.Background()) }()
	waitStatus(t, tor, task.Downloading)
	tor.Pause()
	select {
	case err = <-errC:
		assert.Equal(t, ErrPaused, err)
	case <-time.After(5 * time.Second):
		t.Fatal("download did not return after pause")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() { errC <- tor.Download(ctx) }()
	waitStatus(t, tor, task.Downloading)
	cancel()
	select {
	case err = <-errC:
		assert.Equal(t, context.Canceled, err)
	case <-time.After(5 * time.Second):
		t.Fatal("download did not return after cancel")
	}

	tor.Release()
	tor.Release()
	assert.Equal(t, ErrReleased, tor.Open())
	assert.Equal(t, ErrReleased, tor.Download(context.Background()))
}

func TestAddMagnetWithoutMetadata(t *testing.T) {
	s, dir := newTestSession(t, 42120)
	defer os.RemoveAll(dir)
	defer s.Close()

	_, err := s.AddMagnet("magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567&dn=test")
	assert.Equal(t, ErrNoMetadata, err)

	tf, _ := newTestTorrent(t)
	tor, err := s.AddTorrent(bytes.NewReader(tf))
	require.NoError(t, err)
	link := "magnet:?xt=urn:btih:" + tor.InfoHash() + "&x.pe=127.0.0.1:6881"
	got, err := s.AddMagnet(link)
	require.NoError(t, err)
	assert.Equal(t, tor, got)
}

func TestDownloadFromSeeder(t *testing.T) {
	tf, content := newTestTorrent(t)

	seeder, seederDir := newTestSession(t, 42130)
	defer os.RemoveAll(seederDir)
	defer seeder.Close()
	seed, err := seeder.AddTorrent(bytes.NewReader(tf))
	require.NoError(t, err)
	seedFile := filepath.Join(seederDir, "data", seed.ID(), testFileName)
	require.NoError(t, os.MkdirAll(filepath.Dir(seedFile), 0750))
	require.NoError(t, ioutil.WriteFile(seedFile, content, 0600))
	require.NoError(t, seeder.Start(seed.ID()))
	st := waitStatus(t, seed, task.Seeding)
	assert.Equal(t, 100.0, st.Completed)
	port := seed.Stats().Port

	leecher, leecherDir := newTestSession(t, 42140)
	defer os.RemoveAll(leecherDir)
	defer leecher.Close()
	leech, err := leecher.AddTorrent(bytes.NewReader(tf))
	require.NoError(t, err)
	leech.AddPeers([]*net.TCPAddr{{IP: net.IPv4(127, 0, 0, 1), Port: port}})
	require.NoError(t, leecher.Start(leech.ID()))

	select {
	case n := <-leecher.Notifications():
		assert.Equal(t, Completed, n.Event)
		assert.Equal(t, leech.ID(), n.TaskID)
	case <-time.After(20 * time.Second):
		t.Fatal("download did not finish")
	}
	got, err := ioutil.ReadFile(filepath.Join(leecherDir, "data", leech.ID(), testFileName))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got))

	stats := leech.Stats()
	assert.Equal(t, stats.Pieces.Total, stats.Pieces.Have)
	assert.GreaterOrEqual(t, stats.Bytes.Downloaded, int64(testFileSize))
	assert.Equal(t, task.Seeding, leech.Status().State)

	// Completion is reported once, even when the last blocks arrive together.
	select {
	case n := <-leecher.Notifications():
		t.Fatalf("unexpected notification: %s %s", n.Event, n.Name)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestResumeAfterRestart(t *testing.T) {
	tf, content := newTestTorrent(t)
	s, dir := newTestSession(t, 42150)
	defer os.RemoveAll(dir)
	tor, err := s.AddTorrent(bytes.NewReader(tf))
	require.NoError(t, err)
	id := tor.ID()
	name := filepath.Join(dir, "data", id, testFileName)
	require.NoError(t, os.MkdirAll(filepath.Dir(name), 0750))
	require.NoError(t, ioutil.WriteFile(name, content, 0600))
	require.NoError(t, s.Start(id))
	waitStatus(t, tor, task.Seeding)
	require.NoError(t, s.Close())

	cfg := s.config
	s2, err := New(cfg)
	require.NoError(t, err)
	defer s2.Close()
	tor2, err := s2.Task(id)
	require.NoError(t, err)
	st := waitStatus(t, tor2, task.Seeding)
	assert.Equal(t, int64(testFileSize), st.BytesCompleted)
	// Bitfield is read from the resume db, files are not checked again.
	assert.Zero(t, tor2.Stats().Pieces.Checked)
}

func TestListSaved(t *testing.T) {
	tf, _ := newTestTorrent(t)
	s, dir := newTestSession(t, 42160)
	defer os.RemoveAll(dir)
	tor, err := s.AddTorrent(bytes.NewReader(tf))
	require.NoError(t, err)

	_, err = ListSaved(s.config)
	assert.Error(t, err, "database is locked by the session")

	require.NoError(t, s.Close())
	saved, err := ListSaved(s.config)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, tor.ID(), saved[0].ID)
	assert.Equal(t, testFileName, saved[0].Name)
	assert.Equal(t, tor.InfoHash(), saved[0].InfoHash)
	assert.False(t, saved[0].Started)
	assert.Equal(t, uint32(21), saved[0].Pieces)
}
