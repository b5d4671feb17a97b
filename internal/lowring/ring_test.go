//go:build linux

package lowring

import (
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ringforge/uringrt/internal/sys"
)

// skipIfNoIOURing mirrors the descriptor layer's own ring_test.go
// helper: these are the raw-transport primitives that layer actually
// drives (PrepNop/PrepPollAdd/PrepTimeout, Submit/SubmitAndWait,
// WaitCQETimeout/ForEachCQE, RegisterBuffers/UnregisterBuffers), plus
// RegisterFiles, which the ring layer reaches through internal/sys
// instead; not the full file-I/O opcode catalogue sqe.go also exposes
// for completeness.
func skipIfNoIOURing(t *testing.T) *Ring {
	t.Helper()
	r, err := New(4, WithSingleIssuer(), WithCoopTaskrun())
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

func TestNewAndClose(t *testing.T) {
	r := skipIfNoIOURing(t)
	if r.SQEntries() == 0 || r.CQEntries() == 0 {
		t.Fatal("ring should report non-zero SQ/CQ entries")
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestSubmitNopRoundTrip(t *testing.T) {
	r := skipIfNoIOURing(t)
	defer r.Close()

	if err := r.PrepNop(42); err != nil {
		t.Fatalf("PrepNop: %v", err)
	}
	userData, res, _, err := r.WaitCQETimeout(500 * time.Millisecond)
	if err != nil {
		t.Fatalf("WaitCQETimeout: %v", err)
	}
	if userData != 42 {
		t.Errorf("userData = %d, want 42", userData)
	}
	if res != 0 {
		t.Errorf("res = %d, want 0", res)
	}
}

func TestSQSpaceShrinksAsSQEsQueue(t *testing.T) {
	r := skipIfNoIOURing(t)
	defer r.Close()

	before := r.SQSpace()
	if err := r.PrepNop(1); err != nil {
		t.Fatalf("PrepNop: %v", err)
	}
	if after := r.SQSpace(); after != before-1 {
		t.Errorf("SQSpace() = %d, want %d", after, before-1)
	}
	if _, err := r.Submit(); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	r.WaitCQETimeout(500 * time.Millisecond)
}

func TestForEachCQEDispatchesEveryCompletion(t *testing.T) {
	r := skipIfNoIOURing(t)
	defer r.Close()

	const n = 3
	for i := uint64(0); i < n; i++ {
		if err := r.PrepNop(i + 1); err != nil {
			t.Fatalf("PrepNop: %v", err)
		}
	}
	if _, err := r.SubmitAndWait(n); err != nil {
		t.Fatalf("SubmitAndWait: %v", err)
	}

	var seen atomic.Int32
	count := r.ForEachCQE(func(userData uint64, res int32, flags uint32) bool {
		seen.Add(1)
		return true
	})
	if count != n {
		t.Errorf("ForEachCQE returned %d, want %d", count, n)
	}
	if seen.Load() != n {
		t.Errorf("callback ran %d times, want %d", seen.Load(), n)
	}
}

func TestPollAddCompletesOnReadableFd(t *testing.T) {
	r := skipIfNoIOURing(t)
	defer r.Close()

	rd, wr, err := sysPipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer syscall.Close(rd)
	defer syscall.Close(wr)

	if err := r.PrepPollAdd(rd, uint32(unix.POLLIN), 7); err != nil {
		t.Fatalf("PrepPollAdd: %v", err)
	}
	if _, err := r.Submit(); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	syscall.Write(wr, []byte("x"))

	userData, res, _, err := r.WaitCQETimeout(2 * time.Second)
	if err != nil {
		t.Fatalf("WaitCQETimeout: %v", err)
	}
	if userData != 7 {
		t.Errorf("userData = %d, want 7", userData)
	}
	if res&unix.POLLIN == 0 {
		t.Errorf("res = %#x, missing POLLIN", res)
	}
}

func TestProbeReportsPollAddSupport(t *testing.T) {
	r := skipIfNoIOURing(t)
	defer r.Close()

	probe, err := r.Probe()
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !probe.SupportsOp(sys.IORING_OP_POLL_ADD) {
		t.Error("kernel should support IORING_OP_POLL_ADD")
	}
}

func TestRegisterFilesAndBuffers(t *testing.T) {
	r := skipIfNoIOURing(t)
	defer r.Close()

	rd, wr, err := sysPipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer syscall.Close(rd)
	defer syscall.Close(wr)

	if err := r.RegisterFiles([]int{rd}); err != nil {
		t.Fatalf("RegisterFiles: %v", err)
	}
	defer r.UnregisterFiles()

	buf := make([]byte, 64)
	if err := r.RegisterBuffers([][]byte{buf}); err != nil {
		t.Fatalf("RegisterBuffers: %v", err)
	}
	defer r.UnregisterBuffers()
}

func sysPipe() (rd, wr int, err error) {
	var fds [2]int
	if err := syscall.Pipe(fds[:]); err != nil {
		return 0, 0, err
	}
	return fds[0], fds[1], nil
}
