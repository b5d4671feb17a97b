// Package socket implements the io_uring-driven multi-shot recv /
// send-zerocopy socket engine and its TLS BIO adapter (spec component
// C). It composes ring.Ring for submission/completion and buffer.Pool
// / buffer.Provider for the memory it recvs into and sends from.
package socket

import (
	"sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/ringforge/uringrt/buffer"
	"github.com/ringforge/uringrt/internal/sys"
	"github.com/ringforge/uringrt/ring"
)

// State is a Socket's position in the Connecting -> Active -> Closing
// -> Freed lifecycle (§4.3).
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateFreed
)

// Condition bits passed to a Socket's Callback, mirroring POLL*
// semantics the spec borrows for readiness/teardown reporting.
const (
	CondIn  uint32 = 1 << 0
	CondOut uint32 = 1 << 1
	CondErr uint32 = 1 << 2
	CondHup uint32 = 1 << 3
)

// Event is handed to a Socket's Callback on every condition it reports.
type Event struct {
	Cond    uint32
	Errno   int32
	InLen   int // cumulative inbound length after this event, for CondIn
}

// Callback is invoked with the socket's current condition bitmap.
type Callback func(s *Socket, ev Event)

// Options configures New.
type Options struct {
	ZeroCopy   bool
	AutoCork   bool
	UseRecvMsg bool
	OutboundHighWater int // outbound in-flight count that trips CondOut backpressure
}

// Socket is one io_uring-driven connection endpoint: a fd, an inbound
// buffer-ring provider, two pools, and the recv/poll descriptors that
// drive it.
type Socket struct {
	mu sync.Mutex

	r    *ring.Ring
	fd   int
	opts Options
	cb   Callback

	inProvider *buffer.Provider
	outPool    *buffer.Pool

	state atomic.Int32

	recvDesc *ring.Descriptor
	pollDesc *ring.Descriptor

	inbound    []*buffer.Buffer
	inboundLen int

	outstanding  int
	backpressure bool

	outBatch   []*ring.Descriptor
	batchArmed bool

	refcount atomic.Int32
}

// New binds fd to a ring-driven recv/send engine. inProvider supplies
// inbound buffers (BUFFER_SELECT); outPool backs outbound copies for
// the raw-bytes Transmit path.
func New(r *ring.Ring, fd int, inProvider *buffer.Provider, outPool *buffer.Pool, opts Options, cb Callback) *Socket {
	s := &Socket{
		r:          r,
		fd:         fd,
		opts:       opts,
		cb:         cb,
		inProvider: inProvider,
		outPool:    outPool,
	}
	s.state.Store(int32(StateConnecting))
	s.refcount.Store(1)
	return s
}

// State returns the socket's current lifecycle state.
func (s *Socket) State() State { return State(s.state.Load()) }

// ArmConnecting submits the one-shot POLLOUT|POLLERR|POLLHUP completion
// that resolves Connecting into Active (connected) or a terminal error.
func (s *Socket) ArmConnecting() {
	d := s.r.AllocateDescriptor(s.onConnectPoll, nil)
	if d == nil {
		return
	}
	ring.SetPoll(d, s.fd, uint32(unix.POLLOUT|unix.POLLERR|unix.POLLHUP), false)
	s.r.Submit(d, 0)
}

func (s *Socket) onConnectPoll(d *ring.Descriptor, cqe *ring.Completion, reason ring.Reason) bool {
	if reason == ring.ReasonReleased {
		return false
	}
	if cqe.Res < 0 {
		s.state.Store(int32(StateClosing))
		s.emit(Event{Cond: CondErr, Errno: -cqe.Res})
		return false
	}
	mask := uint32(cqe.Res)
	if mask&uint32(unix.POLLERR) != 0 || mask&uint32(unix.POLLHUP) != 0 {
		s.state.Store(int32(StateClosing))
		s.emit(Event{Cond: CondErr | CondHup})
		return false
	}
	s.state.Store(int32(StateActive))
	s.ArmRecv()
	s.emit(Event{Cond: CondOut})
	return false
}

// ArmRecv starts the multi-shot BUFFER_SELECT recv (or recvmsg) loop.
func (s *Socket) ArmRecv() {
	s.Hold()
	d := s.r.AllocateDescriptor(s.onRecv, nil)
	if d == nil {
		s.Release()
		return
	}
	s.mu.Lock()
	s.recvDesc = d
	s.mu.Unlock()

	if s.opts.UseRecvMsg {
		ring.SetRecvMsgMultishot(d, s.fd, s.inProvider.GroupID())
	} else {
		ring.SetRecvMultishot(d, s.fd, s.inProvider.GroupID())
	}
	s.r.Submit(d, 0)
}

func (s *Socket) onRecv(d *ring.Descriptor, cqe *ring.Completion, reason ring.Reason) bool {
	defer s.Release()
	if reason == ring.ReasonReleased {
		return false
	}

	if cqe.Res < 0 {
		if cqe.Res == -int32(syscall.ENOBUFS) {
			// The kernel ends a multishot recv that found no buffer
			// (no CQE_F_MORE), so arm a fresh one.
			s.ArmRecv()
			return false
		}
		s.state.Store(int32(StateClosing))
		s.emit(Event{Cond: CondErr, Errno: -cqe.Res})
		return false
	}

	bid := uint16(cqe.Flags >> 16)
	buf := s.inProvider.Buffer(bid)
	buf.SetLength(int(cqe.Res))

	s.mu.Lock()
	s.inbound = append(s.inbound, buf)
	s.inboundLen += int(cqe.Res)
	total := s.inboundLen
	s.mu.Unlock()

	s.emit(Event{Cond: CondIn, InLen: total})

	if cqe.Flags&sys.IORING_CQE_F_MORE == 0 {
		// Kernel stopped delivering without an explicit cancel: definitive teardown.
		s.state.Store(int32(StateClosing))
		s.emit(Event{Cond: CondHup})
		return false
	}
	s.Hold()
	return true
}

// CancelRecv rewrites the recv descriptor to a no-op if still Pending,
// else submits an async cancel (§4.3 cancellation discipline).
func (s *Socket) CancelRecv() {
	s.mu.Lock()
	d := s.recvDesc
	s.mu.Unlock()
	if d == nil {
		return
	}
	s.r.Cancel(d)
}

// Close transitions Active -> Closing, cancelling the inbound
// descriptor and deferring actual free until refcount reaches zero.
func (s *Socket) Close() {
	if s.state.Load() == int32(StateFreed) {
		return
	}
	s.state.Store(int32(StateClosing))
	s.CancelRecv()
	s.Release()
}

// Hold increments the socket's refcount.
func (s *Socket) Hold() { s.refcount.Add(1) }

// Release decrements the socket's refcount; at zero the socket is
// Freed and its inbound buffers returned to the provider.
func (s *Socket) Release() {
	if s.refcount.Add(-1) != 0 {
		return
	}
	s.mu.Lock()
	for _, b := range s.inbound {
		if s.inProvider != nil {
			s.inProvider.Advance(b.Index)
		}
		b.Release()
	}
	s.inbound = nil
	s.inboundLen = 0
	s.mu.Unlock()
	s.state.Store(int32(StateFreed))
}

// Drain returns and clears the current inbound buffer chain, for a
// reader that wants to consume everything accumulated since the last
// Drain.
func (s *Socket) Drain() ([]*buffer.Buffer, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.inbound
	n := s.inboundLen
	s.inbound = nil
	s.inboundLen = 0
	return out, n
}

func (s *Socket) emit(ev Event) {
	if s.cb != nil {
		s.cb(s, ev)
	}
}
