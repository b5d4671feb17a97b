package buffer

import (
	"unsafe"

	"github.com/bytedance/gopkg/lang/mcache"

	"github.com/ringforge/uringrt/internal/abastack"
)

// Pool is a lock-free heap of reusable Buffers, all the same capacity,
// carved out of slabs the same way the ring's descriptor arena works:
// buffers are never returned to mcache/Go's allocator for the life of
// the pool, only recycled between callers via the free stack.
type Pool struct {
	capacity int
	free     *abastack.Stack
	slabs    [][]*Buffer // kept alive so the arena is reachable independent of free-stack membership
}

const slabBuffers = 128

// NewPool creates a pool whose buffers are all capacity bytes.
func NewPool(capacity int) *Pool {
	return &Pool{capacity: capacity, free: abastack.New(bufferAlign)}
}

// Allocate returns a refcount=1 buffer of at least p.capacity bytes,
// reused from the free heap or freshly carved from a new slab.
func (p *Pool) Allocate() *Buffer {
	if n := p.free.Pop(); n != nil {
		b := bufferFromNode(n)
		b.refcount.Store(1)
		b.length.Store(0)
		b.Registered = false
		b.Index = 0
		return b
	}
	return p.grow()
}

// grow carves a fresh slab of slabBuffers Buffers, each backed by its
// own mcache.Malloc allocation, aligned to bufferAlign so the free
// stack can address them by raw uintptr. Returns the first and pushes
// the rest onto the free heap.
func (p *Pool) grow() *Buffer {
	headerSize := unsafe.Sizeof(Buffer{})
	headerSlot := uintptr(bufferAlign)
	for headerSlot < headerSize {
		headerSlot *= 2
	}

	raw := make([]byte, headerSlot*slabBuffers+uintptr(bufferAlign))
	base := uintptr(unsafe.Pointer(&raw[0]))
	aligned := (base + uintptr(bufferAlign) - 1) &^ (uintptr(bufferAlign) - 1)
	offset := aligned - base

	slab := make([]*Buffer, slabBuffers)
	for i := 0; i < slabBuffers; i++ {
		slotOff := offset + uintptr(i)*headerSlot
		b := (*Buffer)(unsafe.Pointer(&raw[slotOff]))
		b.pool = p
		b.Capacity = p.capacity
		b.raw = mcache.Malloc(p.capacity)
		b.refcount.Store(1)
		slab[i] = b
	}
	p.slabs = append(p.slabs, slab)

	for i := 1; i < slabBuffers; i++ {
		p.free.Push(&slab[i].node)
	}
	first := slab[0]
	first.refcount.Store(1)
	return first
}

func (p *Pool) push(b *Buffer) {
	p.free.Push(&b.node)
}

// Close releases every buffer's backing storage back to mcache. Only
// safe once every Buffer allocated from p is quiescent (refcount==0 and
// no longer registered with a ring buffer provider).
func (p *Pool) Close() {
	for _, slab := range p.slabs {
		for _, b := range slab {
			mcache.Free(b.raw)
		}
	}
}
