package ring

import (
	"unsafe"

	"github.com/ringforge/uringrt/internal/abastack"
)

const flusherAlign = 64

// flusherNode is a one-shot post-completion task: short work a
// callback wants to run after the current wait() cycle's dispatch
// pass, not inline from inside the callback itself (re-entrant
// submission from a callback is allowed, but some cleanup — like
// finishing a batch flush — reads cleaner deferred to a known-safe
// point).
type flusherNode struct {
	node abastack.Node
	fn   func()
}

func newFlusherNode(fn func()) *flusherNode {
	// Carved out at flusherAlign like the descriptor arena, for the
	// same ABA-tag reason: the free/push stack addresses nodes by
	// raw uintptr and needs spare low bits.
	sz := unsafe.Sizeof(flusherNode{})
	raw := make([]byte, sz+uintptr(flusherAlign))
	base := uintptr(unsafe.Pointer(&raw[0]))
	aligned := (base + uintptr(flusherAlign) - 1) &^ (uintptr(flusherAlign) - 1)
	fNode := (*flusherNode)(unsafe.Pointer(aligned))
	fNode.fn = fn
	return fNode
}

func flusherFromNode(n *abastack.Node) *flusherNode {
	return (*flusherNode)(unsafe.Pointer(n))
}

// FlusherStack is a lock-free, ABA-safe stack of one-shot tasks pushed
// during a wait() cycle and drained once, in LIFO order, at the end of
// that same cycle. Reused verbatim by the backend-fd adapter (E2) for
// its own "run one non-blocking loop iteration" flusher.
type FlusherStack struct {
	stack *abastack.Stack
}

func NewFlusherStack() *FlusherStack {
	return &FlusherStack{stack: abastack.New(flusherAlign)}
}

// Push schedules fn to run once, the next time Drain is called.
func (f *FlusherStack) Push(fn func()) {
	f.stack.Push(&newFlusherNode(fn).node)
}

// Drain runs and discards every flusher currently on the stack. Tasks
// pushed by a running flusher are NOT visited in this call — they wait
// for the next Drain, preserving "at most one flusher per tick."
func (f *FlusherStack) Drain() {
	var batch []*flusherNode
	for n := f.stack.Pop(); n != nil; n = f.stack.Pop() {
		batch = append(batch, flusherFromNode(n))
	}
	for _, fl := range batch {
		fl.fn()
	}
}
