package boltdbresumer

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/swarmget/swarmget/internal/resumer"
)

func newResumer(t *testing.T) *Resumer {
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "resume.db"), 0600, &bbolt.Options{Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	r, err := New(db, []byte("torrents"))
	require.NoError(t, err)
	return r
}

func TestWriteRead(t *testing.T) {
	r := newResumer(t)
	addedAt := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	spec := &Spec{
		InfoHash:        []byte("aaaaaaaaaaaaaaaaaaaa"),
		Dest:            "/tmp/data",
		Port:            6881,
		Name:            "ubuntu.iso",
		Trackers:        [][]string{{"http://a/announce", "udp://b:80"}, {"http://c/announce"}},
		FixedPeers:      []string{"1.2.3.4:5"},
		Info:            []byte("d4:name3:fooe"),
		Bitfield:        []byte{0xf0},
		AddedAt:         addedAt,
		BytesDownloaded: 100,
		BytesUploaded:   50,
		BytesWasted:     3,
		SeededFor:       time.Minute,
		Started:         true,
	}
	require.NoError(t, r.Write("id1", spec))

	spec2, err := r.Read("id1")
	require.NoError(t, err)
	assert.Equal(t, spec, spec2)
}

func TestPartialWrites(t *testing.T) {
	r := newResumer(t)
	require.NoError(t, r.Write("id1", &Spec{InfoHash: []byte("aaaaaaaaaaaaaaaaaaaa"), Port: 1}))

	tr := r.Torrent("id1")
	require.NoError(t, tr.WriteBitfield([]byte{0x80}))
	require.NoError(t, tr.WriteInfo([]byte("info")))
	require.NoError(t, tr.WriteStats(resumer.Stats{BytesDownloaded: 7, SeededFor: time.Hour}))
	require.NoError(t, r.WriteStarted("id1", true))

	spec, err := r.Read("id1")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x80}, spec.Bitfield)
	assert.Equal(t, []byte("info"), spec.Info)
	assert.Equal(t, int64(7), spec.BytesDownloaded)
	assert.Equal(t, time.Hour, spec.SeededFor)
	assert.True(t, spec.Started)
	assert.Nil(t, spec.Trackers)

	// Writes to a missing torrent are ignored.
	assert.NoError(t, r.WriteBitfield("missing", []byte{1}))
}

func TestListDelete(t *testing.T) {
	r := newResumer(t)
	require.NoError(t, r.Write("a", &Spec{InfoHash: []byte("a"), Port: 1}))
	require.NoError(t, r.Write("b", &Spec{InfoHash: []byte("b"), Port: 1}))
	ids, err := r.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	require.NoError(t, r.Delete("a"))
	require.NoError(t, r.Delete("a"))
	ids, err = r.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)

	_, err = r.Read("a")
	assert.Error(t, err)
}

func TestEncodeTiers(t *testing.T) {
	tiers := [][]string{{"a", "b"}, {}, {"c"}}
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, decodeTiers(encodeTiers(tiers)))
	assert.Nil(t, decodeTiers(nil))
}
