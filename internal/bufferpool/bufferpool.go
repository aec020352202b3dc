// Package bufferpool recycles fixed size byte slices used as piece staging buffers.
package bufferpool

import "sync"

// Pool hands out Buffers with capacity of a fixed size.
type Pool struct {
	size int
	pool sync.Pool
}

// New returns a Pool of size byte buffers.
func New(size int) *Pool {
	p := &Pool{size: size}
	p.pool.New = func() interface{} {
		b := make([]byte, size)
		return &b
	}
	return p
}

// Get returns a Buffer holding n bytes. n must not exceed the pool size.
// The content of the buffer is undefined.
func (p *Pool) Get(n int) Buffer {
	if n > p.size {
		panic("bufferpool: requested length exceeds buffer size")
	}
	b := p.pool.Get().(*[]byte)
	return Buffer{Data: (*b)[:n], buf: b, pool: p}
}

// Buffer is a slice borrowed from a Pool.
type Buffer struct {
	Data []byte
	buf  *[]byte
	pool *Pool
}

// Release returns the buffer to its pool. Data must not be used afterwards.
func (b Buffer) Release() {
	if b.pool != nil {
		b.pool.pool.Put(b.buf)
	}
}
