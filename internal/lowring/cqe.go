//go:build linux

package lowring

import (
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	"github.com/ringforge/uringrt/internal/sys"
)

// PeekCQE returns the next completion queue entry without blocking.
// Returns userData, result, flags, and whether a CQE was available.
func (r *Ring) PeekCQE() (userData uint64, res int32, flags uint32, ok bool) {
	head := atomic.LoadUint32(r.cqHead)
	tail := atomic.LoadUint32(r.cqTail)

	if head == tail {
		return 0, 0, 0, false
	}

	idx := head & r.cqMask
	cqe := &r.cqes[idx]

	return cqe.UserData, cqe.Res, cqe.Flags, true
}

// WaitCQETimeout waits for a CQE with a timeout; ETIME means the
// interval elapsed with nothing to report, which the owner (ring.Wait)
// treats as a clean, successful iteration rather than an error.
func (r *Ring) WaitCQETimeout(timeout time.Duration) (userData uint64, res int32, flags uint32, err error) {
	if r.closed.Load() {
		return 0, 0, 0, ErrRingClosed
	}

	if userData, res, flags, ok := r.PeekCQE(); ok {
		return userData, res, flags, nil
	}

	if !r.HasFeature(sys.IORING_FEAT_EXT_ARG) {
		return r.waitCQETimeoutPoll(timeout)
	}

	ts := sys.Timespec{
		Sec:  int64(timeout / time.Second),
		Nsec: int64(timeout % time.Second),
	}

	arg := sys.GetEventsArg{
		Ts: uint64(uintptr(unsafe.Pointer(&ts))),
	}

	r.sqLock.Lock()
	submitted := r.sqPending
	if submitted > 0 {
		tail := atomic.LoadUint32(r.sqTail)
		atomic.StoreUint32(r.sqTail, tail+submitted)
		r.sqPending = 0
	}
	r.sqLock.Unlock()

	_, err = sys.EnterExt(r.fd, submitted, 1, sys.IORING_ENTER_GETEVENTS, &arg)
	if err != nil {
		return 0, 0, 0, err
	}

	if userData, res, flags, ok := r.PeekCQE(); ok {
		return userData, res, flags, nil
	}

	return 0, 0, 0, syscall.ETIME
}

// waitCQETimeoutPoll is the fallback for kernels without EXT_ARG
// (older than the one the descriptor layer otherwise requires, but
// kept so WaitCQETimeout degrades instead of panicking on them).
func (r *Ring) waitCQETimeoutPoll(timeout time.Duration) (userData uint64, res int32, flags uint32, err error) {
	deadline := time.Now().Add(timeout)

	for {
		if userData, res, flags, ok := r.PeekCQE(); ok {
			return userData, res, flags, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, 0, 0, syscall.ETIME
		}

		sleepTime := remaining
		if sleepTime > 10*time.Millisecond {
			sleepTime = 10 * time.Millisecond
		}

		_, err := r.SubmitAndWait(0)
		if err == nil {
			time.Sleep(sleepTime)
			continue
		}
		if err == syscall.EINTR {
			continue
		}
		return 0, 0, 0, err
	}
}

// ForEachCQE iterates over all available CQEs, advancing the CQ head
// once after the whole batch has been dispatched. The callback
// receives userData, result, and flags for each CQE; returning false
// stops iteration early without losing the remaining CQEs.
func (r *Ring) ForEachCQE(fn func(userData uint64, res int32, flags uint32) bool) int {
	head := atomic.LoadUint32(r.cqHead)
	tail := atomic.LoadUint32(r.cqTail)
	count := 0

	for head != tail {
		idx := head & r.cqMask
		cqe := &r.cqes[idx]

		if !fn(cqe.UserData, cqe.Res, cqe.Flags) {
			break
		}

		head++
		count++
	}

	if count > 0 {
		atomic.StoreUint32(r.cqHead, head)
	}

	return count
}
