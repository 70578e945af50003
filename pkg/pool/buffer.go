// Package pool provides reusable byte buffers for file copies.
package pool

import "sync"

// DefaultBufferSize is the copy buffer size used when none is configured.
const DefaultBufferSize int64 = 256 * 1024

// FixedBufferPool hands out byte slices of a single size.
type FixedBufferPool struct {
	size int64
	pool sync.Pool
}

// NewFixedBufferPool creates a pool of size-byte buffers. A size of zero or
// less selects DefaultBufferSize.
func NewFixedBufferPool(size int64) *FixedBufferPool {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &FixedBufferPool{
		size: size,
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, int(size))
				return &b
			},
		},
	}
}

// NewFixedBufferPoolKB is NewFixedBufferPool with the size given in kilobytes.
func NewFixedBufferPoolKB(kb int) *FixedBufferPool {
	return NewFixedBufferPool(int64(kb) * 1024)
}

// Size returns the length of the buffers in the pool.
func (fp *FixedBufferPool) Size() int64 { return fp.size }

// Get returns a buffer whose length equals the pool size.
func (fp *FixedBufferPool) Get() *[]byte {
	b := fp.pool.Get().(*[]byte)
	*b = (*b)[:cap(*b)]
	return b
}

// Put returns a buffer to the pool. Buffers of a different capacity are dropped.
func (fp *FixedBufferPool) Put(b *[]byte) {
	if b == nil || int64(cap(*b)) != fp.size {
		return
	}
	*b = (*b)[:fp.size]
	fp.pool.Put(b)
}
