package metainfo

import (
	"bytes"
	"crypto/sha1" // nolint: gosec
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInfoBytesSingleFile(t *testing.T) {
	data := bytes.Repeat([]byte("a"), 40000)
	b, err := NewInfoBytes("file.bin", []FileDict{{Length: 40000}}, 16384, bytes.NewReader(data))
	require.NoError(t, err)

	info, err := NewInfo(b)
	require.NoError(t, err)
	assert.False(t, info.MultiFile())
	assert.Equal(t, int64(40000), info.TotalLength)
	assert.Equal(t, uint32(3), info.NumPieces)
	sum := sha1.Sum(data[32768:]) // nolint: gosec
	assert.Equal(t, sum[:], info.HashOf(2))
	assert.Equal(t, sha1.Sum(b), info.Hash) // nolint: gosec
}

func TestNewInfoMultiFile(t *testing.T) {
	files := []FileDict{
		{Length: 10, Path: []string{"a"}},
		{Length: 0, Path: []string{"empty"}},
		{Length: 20, Path: []string{"dir", "b"}},
	}
	b, err := NewInfoBytes("multi", files, 16, bytes.NewReader(make([]byte, 30)))
	require.NoError(t, err)
	info, err := NewInfo(b)
	require.NoError(t, err)
	assert.True(t, info.MultiFile())
	assert.Equal(t, int64(30), info.TotalLength)
	assert.Equal(t, uint32(2), info.NumPieces)
	assert.Len(t, info.GetFiles(), 3)
}

func TestNewInfoRejectsDotDot(t *testing.T) {
	files := []FileDict{{Length: 1, Path: []string{"..", "x"}}}
	b, err := NewInfoBytes("bad", files, 16, bytes.NewReader(make([]byte, 1)))
	require.NoError(t, err)
	_, err = NewInfo(b)
	assert.Error(t, err)
}

func TestMetaInfoTrackers(t *testing.T) {
	info, err := NewInfoBytes("f", []FileDict{{Length: 1}}, 16, bytes.NewReader([]byte{1}))
	require.NoError(t, err)
	tf, err := NewBytes(info, [][]string{{"http://a/announce", "wss://x"}, {"udp://b:80"}})
	require.NoError(t, err)
	mi, err := New(bytes.NewReader(tf))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"http://a/announce"}, {"udp://b:80"}}, mi.AnnounceList)
}
