package ring

import (
	"unsafe"

	"github.com/ringforge/uringrt/internal/abastack"
)

// slotSize is the per-descriptor stride: large enough to hold a
// Descriptor and a power of two at least descriptorAlign, so every
// slot's address has descriptorAlign-1 free low bits for the ABA tag
// and the identity-token tag/option bits.
var slotSize = computeSlotSize()

func computeSlotSize() uintptr {
	sz := unsafe.Sizeof(Descriptor{})
	s := uintptr(descriptorAlign)
	for s < sz {
		s *= 2
	}
	return s
}

// arena is the "heap of all-ever-allocated" descriptors for one ring:
// slabs of raw, zeroed, descriptorAlign-aligned memory that descriptors
// are carved out of. Descriptors are never freed back to Go's
// allocator for the life of the ring — only recycled through the free
// stack — which is what lets the lock-free stack address them by raw
// uintptr without the GC reclaiming one out from under a racing CAS.
type arena struct {
	slabs [][]byte
	all   []*Descriptor
}

const slabSlots = 256

func (a *arena) grow() *Descriptor {
	slabBytes := slotSize * slabSlots
	// Over-allocate by one alignment unit so we can hand back an
	// aligned sub-slice regardless of where the Go allocator placed
	// the backing array.
	raw := make([]byte, slabBytes+uintptr(descriptorAlign))
	base := uintptr(unsafe.Pointer(&raw[0]))
	aligned := (base + uintptr(descriptorAlign) - 1) &^ (uintptr(descriptorAlign) - 1)
	offset := aligned - base

	a.slabs = append(a.slabs, raw)

	var first *Descriptor
	for i := 0; i < slabSlots; i++ {
		slotOff := offset + uintptr(i)*slotSize
		d := (*Descriptor)(unsafe.Pointer(&raw[slotOff]))
		a.all = append(a.all, d)
		if i == 0 {
			first = d
		}
	}
	return first
}

// popOrGrow pops a recycled descriptor from free, or carves a fresh
// batch out of the arena (pushing all-but-one onto free) if empty.
func (a *arena) popOrGrow(free *abastack.Stack) *Descriptor {
	if n := free.Pop(); n != nil {
		return descriptorFromNode(n)
	}

	start := len(a.all)
	first := a.grow()
	// first is a.all[start]; push the rest onto the free stack so
	// later allocations don't re-grow immediately.
	for i := start + 1; i < len(a.all); i++ {
		free.Push(&a.all[i].node)
	}
	return first
}
