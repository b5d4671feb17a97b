package ring

import (
	"sync/atomic"
	"syscall"
	"unsafe"

	"github.com/ringforge/uringrt/internal/abastack"
	"github.com/ringforge/uringrt/internal/sys"
)

// descriptorAlign is the alignment every Descriptor is carved out at.
// It must stay a power of two large enough to reserve the low bits the
// identity token packs: a 6-bit rolling integrity tag plus 3 option
// bits (ignore-result, user1, user2) — 9 bits, so 512 is the smallest
// alignment that clears them.
const descriptorAlign = 512

// State is a descriptor's position in its lifecycle.
type State int32

const (
	StateFree State = iota
	StateAllocated
	StatePending
	StateSubmitted
)

// Reason tells a callback why it's being invoked.
type Reason int

const (
	ReasonComplete Reason = iota
	ReasonIncomplete
	ReasonReleased
)

// Completion is the CQE handed to a callback, or nil on Reason=Released.
type Completion struct {
	Res   int32
	Flags uint32
}

// Callback is invoked once per CQE (or once at ring shutdown with
// Reason=Released and a nil Completion). Returning true keeps a
// multishot descriptor armed; returning false allows release once the
// refcount reaches zero.
type Callback func(d *Descriptor, cqe *Completion, reason Reason) bool

// Option bits packed into the identity token's low 3 bits, below the
// 6-bit integrity tag.
const (
	OptIgnoreResult uint64 = 1 << 0
	OptUser1        uint64 = 1 << 1
	OptUser2        uint64 = 1 << 2
)

const tagBits = 6
const tagShift = 3 // low 3 bits are reserved for OptIgnoreResult/OptUser1/OptUser2
const tagMask = uint32(1<<tagBits) - 1

// Kind names the capability-tagged variant of a descriptor: what data
// its aux union carries and which reason codes it answers. Replaces
// the function-pointer-plus-closure dispatch table of the original
// with one enum switch per prep call.
type Kind uint8

const (
	KindNop Kind = iota
	KindPoll
	KindTimeout
	KindRecv
	KindRecvMsg
	KindSend
	KindSendMsg
	KindSendZC
	KindCancel
	KindMsgRing
	KindFutexWait
	KindFutexWake
	KindAccept
	KindConnect
	KindClose
	KindShutdown
)

// pollAux carries the fields PrepPollAdd/PrepPollAddMultishot need on
// replay (poll-modify rewrites reuse them in place).
type pollAux struct {
	fd       int
	mask     uint32
	multi    bool
	edgeOnly bool
}

// timeoutAux carries the fields a rearmed or removed timeout needs.
type timeoutAux struct {
	ts       sys.Timespec
	flags    uint32
	multi    bool
}

// msgAux carries a stack-resident sockaddr + iovec for send/recvmsg so
// the descriptor owns storage that must outlive submission, plus the
// two 64-bit words futex-wait/futex-wake need (value to compare
// against, and the FUTEX2 bitset mask).
type msgAux struct {
	iov       syscall.Iovec
	msg       syscall.Msghdr
	addr      [sockaddrMaxLen]byte
	addrLen   uint32
	futexVal  uint64
	futexMask uint64
}

const sockaddrMaxLen = 128

// Descriptor is one opaque submission slot: the SQE payload the kernel
// will see, the identity token, refcount, callback, and the list links
// it occupies depending on state.
type Descriptor struct {
	node abastack.Node // embeds the free-stack link

	ring *Ring

	state    atomic.Int32
	refcount atomic.Int32
	tag      uint32 // current rolling 6-bit integrity tag (unshifted)
	optBits  uint64 // OptIgnoreResult/OptUser1/OptUser2, packed into the token's low 3 bits
	linked   int    // how many descriptors downstream must fit in the same submit window

	kind    Kind
	opcode  sys.Op
	fd      int32
	flags   uint8
	addr    uint64
	length  uint32
	offset  uint64
	opFlags uint32
	bufIdx  uint16

	poll    pollAux
	timeout timeoutAux
	msg     msgAux

	cb      Callback
	closure any

	// pending/chain links, separate from the free-stack node so a
	// descriptor can be simultaneously reachable from the pending list
	// (via next) while its node field is idle.
	next atomic.Pointer[Descriptor]
	prev *Descriptor // skip-success chain back-link
}

// identity returns the user_data token for the descriptor as it stands
// right now: pointer bits | rolling tag | option bits.
func (d *Descriptor) identity() uint64 {
	return uint64(uintptr(unsafe.Pointer(d))) | (uint64(d.tag) << tagShift) | d.optBits
}

// identityTag extracts the 6-bit integrity tag a completion's
// user_data claims to carry, for re-validation against the
// descriptor's current tag (§3: mismatches are leaked-completions and
// must be silently dropped).
func identityTag(userData uint64) uint32 {
	return uint32((userData >> tagShift) & uint64(tagMask))
}

// descriptorFromUserData recovers the descriptor pointer from a CQE's
// user_data by masking off the low alignment bits that carry the tag
// and option flags.
func descriptorFromUserData(userData uint64) *Descriptor {
	ptr := userData &^ uint64(descriptorAlign-1)
	return (*Descriptor)(unsafe.Pointer(uintptr(ptr)))
}

// State returns the descriptor's current lifecycle state.
func (d *Descriptor) State() State {
	return State(d.state.Load())
}

// Hold increments the descriptor's refcount; paired with Release.
func (d *Descriptor) Hold() {
	d.refcount.Add(1)
}

func descriptorFromNode(n *abastack.Node) *Descriptor {
	return (*Descriptor)(unsafe.Pointer(n))
}
