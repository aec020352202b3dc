package magnet

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleHash = "f60cc95e3566af84c1ab223fd4ce80fa88e6438a"

func TestParse(t *testing.T) {
	u := "magnet:?xt=urn:btih:F60CC95E3566AF84C1AB223FD4CE80FA88E6438A&dn=sample&tr=udp%3a%2f%2ftracker.example%3a2710&x.pe=10.0.0.1:6881"
	m, err := New(u)
	require.NoError(t, err)
	assert.Equal(t, sampleHash, hex.EncodeToString(m.InfoHash[:]))
	assert.Equal(t, "sample", m.Name)
	assert.Equal(t, [][]string{{"udp://tracker.example:2710"}}, m.Trackers)
	assert.Equal(t, []string{"10.0.0.1:6881"}, m.Peers)
	assert.True(t, strings.EqualFold(u, m.String()))
}

func TestParseBase32(t *testing.T) {
	m, err := New("magnet:?xt=urn:btih:6YGMSXRVM2XYJQNLEI75JTUA7KEOMQ4K")
	require.NoError(t, err)
	assert.Equal(t, sampleHash, hex.EncodeToString(m.InfoHash[:]))
}

func TestParseMultihash(t *testing.T) {
	// 0x11 = sha1, 0x14 = 20 bytes
	m, err := New("magnet:?xt=urn:btmh:1114" + sampleHash)
	require.NoError(t, err)
	assert.Equal(t, sampleHash, hex.EncodeToString(m.InfoHash[:]))
}

func TestParseErrors(t *testing.T) {
	for _, s := range []string{
		"http://example.com",
		"magnet:?dn=x",
		"magnet:?xt=urn:btih:abc",
		"magnet:?xt=urn:sha1:" + sampleHash,
	} {
		_, err := New(s)
		assert.Error(t, err, s)
	}
}
