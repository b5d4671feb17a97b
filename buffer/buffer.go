// Package buffer implements the zero-copy, reference-counted buffer
// pool and kernel-registered buffer ring that sockets and the KCP
// service borrow memory from (spec component B). Buffers are carved
// out of an arena the same way ring.Descriptor is, so the pool's free
// heap can reuse internal/abastack's ABA-safe stack instead of a second
// bespoke implementation.
package buffer

import (
	"sync/atomic"
	"unsafe"

	"github.com/ringforge/uringrt/internal/abastack"
)

// bufferAlign matches ring.descriptorAlign's reasoning: the free stack
// addresses buffers by raw uintptr and needs low bits for the ABA tag.
const bufferAlign = 512

// Buffer is one pooled, refcounted block of memory. Index is the slot
// this buffer occupies in a registered buffer ring (valid only while
// Registered), 0 otherwise.
type Buffer struct {
	node abastack.Node

	pool *Pool
	raw  []byte // backing storage from mcache.Malloc

	Index    uint16
	Capacity int
	length   atomic.Int32
	refcount atomic.Int32

	Registered bool
}

// Bytes returns the buffer's current logical contents (raw[:length]).
func (b *Buffer) Bytes() []byte {
	n := b.length.Load()
	return b.raw[:n]
}

// Full returns the buffer's entire backing storage (raw[:Capacity]),
// for callers that need to write into it before calling SetLength.
func (b *Buffer) Full() []byte {
	return b.raw[:b.Capacity]
}

// SetLength records how much of the buffer's capacity is meaningful,
// e.g. after a recv completion reports res bytes.
func (b *Buffer) SetLength(n int) {
	b.length.Store(int32(n))
}

// Len returns the buffer's current logical length.
func (b *Buffer) Len() int { return int(b.length.Load()) }

// Cap returns the buffer's full backing capacity.
func (b *Buffer) Cap() int { return b.Capacity }

// Hold increments the buffer's refcount; paired with Release.
func (b *Buffer) Hold() {
	b.refcount.Add(1)
}

// Release decrements the refcount; at zero the buffer returns to its
// pool's free heap, logical length reset to zero.
func (b *Buffer) Release() {
	if b.refcount.Add(-1) != 0 {
		return
	}
	b.length.Store(0)
	b.pool.push(b)
}

func bufferFromNode(n *abastack.Node) *Buffer {
	return (*Buffer)(unsafe.Pointer(n))
}
