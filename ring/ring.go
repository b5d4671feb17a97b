//go:build linux

// Package ring is the descriptor-oriented io_uring front end (spec
// component A): it owns the lock-free descriptor allocator, the
// pending/flusher lock-free lists, and the wait() cooperative pump
// that drives every other component (buffer, socket, kcp, adapter) in
// this module. It is built on top of internal/lowring, the raw mmap'd
// ring transport adapted from the teacher library.
package ring

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ringforge/uringrt/internal/abastack"
	"github.com/ringforge/uringrt/internal/lowring"
	"github.com/ringforge/uringrt/internal/sys"
	"github.com/ringforge/uringrt/log"
)

var (
	ErrKernelTooOld    = errors.New("ring: kernel lacks multishot poll / buffer-ring support")
	ErrBackpressure    = errors.New("ring: no free descriptor (backpressure, not fatal)")
	ErrClosed          = errors.New("ring: closed")
	ErrSubmittedAgain  = errors.New("ring: descriptor already submitted; allocate a new one")
	ErrNoFileSlots     = errors.New("ring: registered-file table has no free slot")
	ErrInvalidFileSlot = errors.New("ring: slot is out of range or already vacant")
)

// Ring owns one io_uring instance and is pinned to a single owner
// thread for its entire life (§5: "each ring is pinned to one owner
// thread"). Nothing in this package is safe to call concurrently with
// Wait from a different goroutine except AllocateDescriptor/Submit
// producers and Descriptor.Hold/Ring.ReleaseDescriptor, per §5's shared-resource
// policy.
type Ring struct {
	low *lowring.Ring
	log log.Logger

	ownerThread int

	arena arena
	free  *abastack.Stack
	pend  *pendingList
	flush *FlusherStack

	regFilesMu sync.Mutex
	regFiles   []int32 // sparse registered-file table, -1 = empty slot

	regBuffersMu sync.Mutex
	regBuffers   [][]byte // fixed-buffer table, indexed by registration slot

	cqeSkipNext bool

	closed atomic.Bool

	// cycles counts Wait() iterations, purely diagnostic (logged by
	// Release).
	cycles uint64
}

// CreateOptions configures Create.
type CreateOptions struct {
	Logger          log.Logger
	SparseFileSlots int // registered-file table size; every slot is available to RegisterFile, none is set aside for kernel-allocated direct descriptors
	EdgeTriggered   bool // not read by Create: multishot polls are always armed edge-triggered (IORING_POLL_ADD_LEVEL is never set)
}

// Create builds a ring sized from lengthHint (rounded to the next
// power of two, clamped to 16384) with CQ = 4x SQ, single-issuer,
// cooperative-taskrun, submit-all semantics, and, when
// opts.SparseFileSlots > 0, a sparse registered-file table. Fails with
// ErrKernelTooOld if the opcode probe fails or reports no
// IORING_OP_POLL_ADD; multishot poll support itself is not probed.
func Create(lengthHint int, opts CreateOptions) (*Ring, error) {
	entries := nextPow2(lengthHint)
	if entries > 16384 {
		entries = 16384
	}
	if entries < 1 {
		entries = 1
	}

	low, err := lowring.New(uint32(entries),
		lowring.WithSingleIssuer(),
		lowring.WithCoopTaskrun(),
		lowring.WithFlags(sys.IORING_SETUP_SUBMIT_ALL),
		lowring.WithCQSize(uint32(entries)*4),
	)
	if err != nil {
		return nil, err
	}

	probe, err := low.Probe()
	if err != nil || !probe.SupportsOp(sys.IORING_OP_POLL_ADD) {
		low.Close()
		return nil, ErrKernelTooOld
	}

	lg := opts.Logger
	if lg == nil {
		lg = log.Nop()
	}

	r := &Ring{
		low:         low,
		log:         lg,
		ownerThread: gettid(),
		free:        abastack.New(descriptorAlign),
		pend:        newPendingList(),
		flush:       NewFlusherStack(),
	}

	slots := opts.SparseFileSlots
	if slots > 0 {
		if err := sys.RegisterSparseFiles(low.Fd(), slots); err == nil {
			r.regFiles = make([]int32, slots)
			for i := range r.regFiles {
				r.regFiles[i] = -1
			}
		}
	}

	r.log.Info("ring created", "sq_entries", low.SQEntries(), "cq_entries", low.CQEntries())
	return r, nil
}

// IsOwnerThread reports whether the calling OS thread created this
// ring — cross-thread notifiers use this to decide whether to run
// inline or post a wake to the kernel (§5).
func (r *Ring) IsOwnerThread() bool {
	return gettid() == r.ownerThread
}

// Fd returns the ring's file descriptor, for registration with a
// foreign event loop (adapter package).
func (r *Ring) Fd() int { return r.low.Fd() }

// Release tears the ring down: every descriptor carved from the arena
// that still holds a callback (i.e. has not been returned to the free
// stack) gets exactly one ReasonReleased callback with a nil
// completion, then every pending flusher is run once, before the
// kernel ring itself is closed.
func (r *Ring) Release() {
	if r.closed.Swap(true) {
		return
	}
	for _, d := range r.arena.all {
		if d.cb != nil {
			cb := d.cb
			d.cb = nil
			cb(d, nil, ReasonReleased)
		}
	}
	r.flush.Drain()
	r.low.Close()
	r.log.Info("ring released", "cycles", r.cycles)
}

// AllocateDescriptor returns a fresh, refcount=1 descriptor in
// StateAllocated, its opcode defaulted to NOP and its identity token
// already stamped. Returns nil on allocation failure (§7:
// resource-exhaustion is a normal, non-fatal failure mode — callers
// must treat it as backpressure).
func (r *Ring) AllocateDescriptor(cb Callback, closure any) *Descriptor {
	if r.closed.Load() {
		return nil
	}
	d := r.arena.popOrGrow(r.free)
	d.ring = r
	d.state.Store(int32(StateAllocated))
	d.refcount.Store(1)
	d.kind = KindNop
	d.opcode = sys.IORING_OP_NOP
	d.fd = -1
	d.flags = 0
	d.linked = 0
	d.cb = cb
	d.closure = closure
	d.prev = nil
	d.next.Store(nil)
	d.tag = nextTag(d.tag)
	return d
}

var tagCounter atomic.Uint32

func nextTag(prev uint32) uint32 {
	return tagCounter.Add(1) & tagMask
}

// Submit transitions an Allocated descriptor to Pending and appends it
// to the pending list. optionBits are OptIgnoreResult/OptUser1/OptUser2,
// ORed into the low bits of the identity token alongside the rolling
// integrity tag.
func (r *Ring) Submit(d *Descriptor, optionBits uint64) {
	d.optBits = optionBits & 0b111
	d.state.Store(int32(StatePending))
	r.pend.push(d)
}

// SubmitRange hands a pre-linked IOSQE_IO_LINK chain [first..last] to
// the pending list as a single atomic-window unit; first.linked is the
// chain length so Wait() only starts it once the whole chain fits in
// the remaining SQ space.
func (r *Ring) SubmitRange(first, last *Descriptor, chainLen int) {
	first.linked = chainLen
	cur := first
	for cur != last {
		cur.state.Store(int32(StatePending))
		cur = cur.next.Load()
	}
	last.state.Store(int32(StatePending))
	r.pend.pushChain(first, last)
}

// ReleaseDescriptor decrements the refcount; at zero the callback
// reference is cleared and the descriptor returns to the free stack.
func (r *Ring) ReleaseDescriptor(d *Descriptor) {
	if d.refcount.Add(-1) != 0 {
		return
	}
	d.cb = nil
	d.closure = nil
	d.state.Store(int32(StateFree))
	r.free.Push(&d.node)
}

// RegisterFile installs fd into the ring's sparse registered-file
// table (created via CreateOptions.SparseFileSlots) and returns its
// slot index. Callers set a descriptor's fd field to the returned slot
// and OR IOSQE_FIXED_FILE into its flags to have the kernel resolve it
// against the fixed table instead of the process's fd table (§5).
// Returns ErrNoFileSlots if the table is unset or full.
func (r *Ring) RegisterFile(fd int) (int, error) {
	r.regFilesMu.Lock()
	defer r.regFilesMu.Unlock()

	for i, v := range r.regFiles {
		if v != -1 {
			continue
		}
		if err := sys.RegisterFilesUpdate(r.low.Fd(), uint32(i), []int32{int32(fd)}); err != nil {
			return 0, err
		}
		r.regFiles[i] = int32(fd)
		return i, nil
	}
	return 0, ErrNoFileSlots
}

// UnregisterFile vacates slot, restoring it to the sparse table's
// empty-slot sentinel.
func (r *Ring) UnregisterFile(slot int) error {
	r.regFilesMu.Lock()
	defer r.regFilesMu.Unlock()

	if slot < 0 || slot >= len(r.regFiles) || r.regFiles[slot] == -1 {
		return ErrInvalidFileSlot
	}
	if err := sys.RegisterFilesUpdate(r.low.Fd(), uint32(slot), []int32{-1}); err != nil {
		return err
	}
	r.regFiles[slot] = -1
	return nil
}

// RegisterBufferSlot adds buf to the ring's fixed-buffer table and
// returns its slot index, for use with IORING_RECVSEND_FIXED_BUF.
// The kernel rejects IORING_REGISTER_BUFFERS while a table is
// registered, so every call unregisters the old table and registers
// the whole grown one; this is for setup-time registration (§5:
// "infrequent, so mutex-guarded"), not a per-send hot path.
func (r *Ring) RegisterBufferSlot(buf []byte) (int, error) {
	r.regBuffersMu.Lock()
	defer r.regBuffersMu.Unlock()

	next := append(r.regBuffers, buf)
	if len(r.regBuffers) > 0 {
		if err := r.low.UnregisterBuffers(); err != nil {
			return 0, err
		}
	}
	if err := r.low.RegisterBuffers(next); err != nil {
		r.regBuffers = nil
		return 0, err
	}
	r.regBuffers = next
	return len(r.regBuffers) - 1, nil
}

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Wait runs one cooperative iteration: drain pending into kernel SQEs
// (honoring each chain's atomic-window requirement), submit, block up
// to intervalMs for completions, dispatch each to its descriptor's
// callback, then drain flushers pushed during this cycle. Returns nil
// on a clean iteration, including on an ETIME wait (§7: -ETIME is
// success).
func (r *Ring) Wait(intervalMs int) error {
	if r.closed.Load() {
		return ErrClosed
	}
	r.cycles++

	items := r.pend.drain()
	r.submitItems(items)

	if _, err := r.low.Submit(); err != nil && !errors.Is(err, lowring.ErrSQFull) {
		r.log.Warn("submit failed, retrying next cycle", "err", err)
	}

	timeout := time.Duration(intervalMs) * time.Millisecond
	_, _, _, err := r.low.WaitCQETimeout(timeout)
	if err != nil {
		if isTimedOut(err) {
			r.flush.Drain()
			return nil
		}
		return err
	}

	r.low.ForEachCQE(func(userData uint64, res int32, flags uint32) bool {
		r.dispatch(userData, res, flags)
		return true
	})

	r.flush.Drain()
	return nil
}

// PushFlusher schedules fn to run once at the end of the current
// Wait() cycle.
func (r *Ring) PushFlusher(fn func()) {
	r.flush.Push(fn)
}
