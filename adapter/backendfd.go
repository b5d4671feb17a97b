package adapter

import (
	"golang.org/x/sys/unix"

	"github.com/ringforge/uringrt/internal/sys"
	"github.com/ringforge/uringrt/ring"
)

func msToTimespec(ms int) sys.Timespec {
	return sys.Timespec{Sec: int64(ms / 1000), Nsec: int64(ms%1000) * int64(1e6)}
}

// BackendFDAdapter drives a foreign event loop that exposes its own
// backend fd (e.g. the fd golang.org/x/sys/unix.EpollCreate1 hands
// back) by multishot-polling that fd through the ring and, on every
// wake, running one non-blocking iteration of the foreign loop from a
// flusher — rather than swapping contexts like FiberAdapter, this
// borrows the kernel's single event pump directly (§4.5 E2).
type BackendFDAdapter struct {
	r    *ring.Ring
	fd   int
	iter func() // runs one non-blocking pass of the foreign loop

	pollDesc    *ring.Descriptor
	timeoutDesc *ring.Descriptor
	touched     bool
}

// NewBackendFDAdapter arms a multishot POLLIN on fd and a re-armable
// timeout of intervalMs, both driving iter via a flusher on every wake.
func NewBackendFDAdapter(r *ring.Ring, fd int, intervalMs int, iter func()) *BackendFDAdapter {
	a := &BackendFDAdapter{r: r, fd: fd, iter: iter}
	a.armPoll()
	a.armTimeout(intervalMs)
	return a
}

func (a *BackendFDAdapter) armPoll() {
	d := a.r.AllocateDescriptor(func(d *ring.Descriptor, cqe *ring.Completion, reason ring.Reason) bool {
		if reason == ring.ReasonReleased {
			return false
		}
		a.scheduleIter()
		return cqe.Flags&sys.IORING_CQE_F_MORE != 0
	}, nil)
	if d == nil {
		return
	}
	ring.SetPoll(d, a.fd, uint32(unix.POLLIN), true)
	a.pollDesc = d
	a.r.Submit(d, 0)
}

func (a *BackendFDAdapter) armTimeout(intervalMs int) {
	ts := msToTimespec(intervalMs)
	d := a.r.AllocateDescriptor(func(d *ring.Descriptor, cqe *ring.Completion, reason ring.Reason) bool {
		if reason == ring.ReasonReleased {
			return false
		}
		a.scheduleIter()
		return cqe.Flags&sys.IORING_CQE_F_MORE != 0
	}, nil)
	if d == nil {
		return
	}
	ring.SetTimeout(d, ts, 0, true)
	a.timeoutDesc = d
	a.r.Submit(d, 0)
}

// scheduleIter runs iter at most once per ring tick: multiple wakes in
// the same Wait() cycle (poll + timeout both firing) collapse into a
// single non-blocking loop iteration via the idempotent-touch flusher.
func (a *BackendFDAdapter) scheduleIter() {
	if a.touched {
		return
	}
	a.touched = true
	a.r.PushFlusher(func() {
		a.touched = false
		if a.iter != nil {
			a.iter()
		}
	})
}

// Close cancels both standing descriptors.
func (a *BackendFDAdapter) Close() {
	if a.pollDesc != nil {
		a.r.Cancel(a.pollDesc)
	}
	if a.timeoutDesc != nil {
		a.r.Cancel(a.timeoutDesc)
	}
}
