package bufferpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	p := New(16)
	b := p.Get(10)
	assert.Len(t, b.Data, 10)
	assert.Equal(t, 16, cap(b.Data))
	b.Release()
	assert.Panics(t, func() { p.Get(17) })
}
