package jsonutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name   string
	Peers  int
	Secret string
}

func TestMarshalCompactPretty(t *testing.T) {
	b, err := MarshalCompactPretty(sample{Name: "foo", Peers: 3, Secret: "x"}, "Secret")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "Name: "))
	assert.Contains(t, lines[0], "foo")
	assert.True(t, strings.HasPrefix(lines[1], "Peers: "))
	assert.NotContains(t, string(b), "Secret")
}
