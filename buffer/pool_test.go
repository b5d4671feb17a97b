package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolAllocateAndRelease(t *testing.T) {
	p := NewPool(4096)
	defer p.Close()

	b := p.Allocate()
	require.NotNil(t, b)
	assert.Equal(t, 4096, b.Cap())
	assert.Equal(t, 0, b.Len())

	b.SetLength(128)
	assert.Equal(t, 128, b.Len())
	assert.Len(t, b.Bytes(), 128)

	b.Release()
}

func TestPoolRecyclesFreedBuffers(t *testing.T) {
	p := NewPool(512)
	defer p.Close()

	first := p.Allocate()
	firstRaw := first.raw
	first.Release()

	second := p.Allocate()
	assert.Same(t, &firstRaw[0], &second.raw[0], "recycled buffer should reuse backing storage")
	second.Release()
}

func TestBufferRefcounting(t *testing.T) {
	p := NewPool(256)
	defer p.Close()

	b := p.Allocate()
	b.Hold()
	b.Release() // refcount 2 -> 1, still alive
	assert.Equal(t, int32(1), b.refcount.Load())
	b.Release() // refcount 1 -> 0, returns to pool
	assert.Equal(t, int32(0), b.refcount.Load())
}

func TestPoolGrowsAcrossSlabBoundary(t *testing.T) {
	p := NewPool(64)
	defer p.Close()

	bufs := make([]*Buffer, slabBuffers+10)
	for i := range bufs {
		bufs[i] = p.Allocate()
	}
	for _, b := range bufs {
		assert.Equal(t, 64, b.Cap())
		b.Release()
	}
}
