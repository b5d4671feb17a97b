//go:build linux

package ring

import (
	"sync/atomic"
	"syscall"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/ringforge/uringrt/internal/sys"
)

func skipIfNoIOURing(t *testing.T) *Ring {
	t.Helper()
	r, err := Create(64, CreateOptions{})
	if err != nil {
		if err == syscall.ENOSYS {
			t.Skip("io_uring not supported on this kernel")
		}
		if err == syscall.EPERM {
			t.Skip("io_uring blocked by seccomp or permissions")
		}
		t.Skipf("io_uring unavailable: %v", err)
	}
	return r
}

func TestCreateAndRelease(t *testing.T) {
	r := skipIfNoIOURing(t)
	if r.Fd() < 0 {
		t.Fatal("ring fd should be valid")
	}
	r.Release()
	r.Release() // idempotent
}

func TestAllocateDescriptorRoundTripsThroughNop(t *testing.T) {
	r := skipIfNoIOURing(t)
	defer r.Release()

	var completed atomic.Bool
	d := r.AllocateDescriptor(func(d *Descriptor, cqe *Completion, reason Reason) bool {
		if reason == ReasonComplete {
			completed.Store(true)
		}
		return false
	}, nil)
	if d == nil {
		t.Fatal("AllocateDescriptor returned nil")
	}

	r.Submit(d, 0)
	if err := r.Wait(200); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !completed.Load() {
		t.Error("NOP descriptor never completed")
	}
}

func TestReleaseRunsReasonReleasedForEveryDescriptor(t *testing.T) {
	r := skipIfNoIOURing(t)

	var released atomic.Int32
	for i := 0; i < 4; i++ {
		d := r.AllocateDescriptor(func(d *Descriptor, cqe *Completion, reason Reason) bool {
			if reason == ReasonReleased {
				released.Add(1)
			}
			return false
		}, nil)
		if d == nil {
			t.Fatal("AllocateDescriptor returned nil")
		}
	}
	r.Release()

	if got := released.Load(); got != 4 {
		t.Errorf("released callbacks = %d, want 4", got)
	}
}

func TestCancelPendingDescriptorIsIdempotent(t *testing.T) {
	r := skipIfNoIOURing(t)
	defer r.Release()

	d := r.AllocateDescriptor(func(d *Descriptor, cqe *Completion, reason Reason) bool {
		return false
	}, nil)
	if d == nil {
		t.Fatal("AllocateDescriptor returned nil")
	}
	SetTimeout(d, sys.Timespec{Sec: 60}, 0, false)
	r.Submit(d, 0)

	r.Cancel(d)
	r.Cancel(d) // must not panic or double-release

	if err := r.Wait(200); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func createOrSkip(t *testing.T, opts CreateOptions) *Ring {
	t.Helper()
	r, err := Create(64, opts)
	if err != nil {
		if err == syscall.ENOSYS {
			t.Skip("io_uring not supported on this kernel")
		}
		if err == syscall.EPERM {
			t.Skip("io_uring blocked by seccomp or permissions")
		}
		t.Skipf("io_uring unavailable: %v", err)
	}
	return r
}

func TestRegisterFileArmsFixedFilePoll(t *testing.T) {
	r := createOrSkip(t, CreateOptions{SparseFileSlots: 4})
	defer r.Release()

	var fds [2]int
	if err := syscall.Pipe(fds[:]); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	rd, wr := fds[0], fds[1]
	defer syscall.Close(rd)
	defer syscall.Close(wr)

	slot, err := r.RegisterFile(rd)
	if err != nil {
		t.Fatalf("RegisterFile: %v", err)
	}

	var completed atomic.Bool
	d := r.AllocateDescriptor(func(d *Descriptor, cqe *Completion, reason Reason) bool {
		if reason == ReasonComplete {
			completed.Store(true)
		}
		return false
	}, nil)
	if d == nil {
		t.Fatal("AllocateDescriptor returned nil")
	}
	SetPoll(d, rd, uint32(unix.POLLIN), false)
	SetFixedFile(d, slot)
	r.Submit(d, 0)

	syscall.Write(wr, []byte("x"))

	if err := r.Wait(2000); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !completed.Load() {
		t.Error("fixed-file poll descriptor never completed")
	}

	if err := r.UnregisterFile(slot); err != nil {
		t.Fatalf("UnregisterFile: %v", err)
	}
	if err := r.UnregisterFile(slot); err != ErrInvalidFileSlot {
		t.Errorf("double UnregisterFile: got %v, want ErrInvalidFileSlot", err)
	}
}

func TestRegisterFileTableExhaustion(t *testing.T) {
	r := createOrSkip(t, CreateOptions{SparseFileSlots: 1})
	defer r.Release()

	var fds [2]int
	if err := syscall.Pipe(fds[:]); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer syscall.Close(fds[0])
	defer syscall.Close(fds[1])

	if _, err := r.RegisterFile(fds[0]); err != nil {
		t.Fatalf("RegisterFile(1/1): %v", err)
	}
	if _, err := r.RegisterFile(fds[1]); err != ErrNoFileSlots {
		t.Errorf("RegisterFile(2/1) = %v, want ErrNoFileSlots", err)
	}
}

func TestRegisterBufferSlotAssignsSequentialSlots(t *testing.T) {
	r := skipIfNoIOURing(t)
	defer r.Release()

	a, err := r.RegisterBufferSlot(make([]byte, 128))
	if err != nil {
		t.Fatalf("RegisterBufferSlot: %v", err)
	}
	b, err := r.RegisterBufferSlot(make([]byte, 128))
	if err != nil {
		t.Fatalf("RegisterBufferSlot: %v", err)
	}
	if a != 0 || b != 1 {
		t.Errorf("slots = %d, %d, want 0, 1", a, b)
	}
}

func TestPushFlusherRunsOncePerWaitCycle(t *testing.T) {
	r := skipIfNoIOURing(t)
	defer r.Release()

	var count atomic.Int32
	r.PushFlusher(func() { count.Add(1) })

	if err := r.Wait(50); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := count.Load(); got != 1 {
		t.Errorf("flusher ran %d times, want 1", got)
	}

	if err := r.Wait(50); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := count.Load(); got != 1 {
		t.Errorf("flusher ran again without a new PushFlusher: count = %d", got)
	}
}
