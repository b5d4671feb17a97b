//go:build linux

package adapter

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// TestFiberAdapterSuspendsAndResumesLoop drives a tiny foreign "loop"
// that blocks on poll(readFd) exactly like a single-threaded reactor
// would, proving the main/loop handoff never lets both sides run at
// once and that readiness flows back correctly (§4.5/§5).
func TestFiberAdapterSuspendsAndResumesLoop(t *testing.T) {
	r := skipIfNoIOURing(t)
	defer r.Release()

	rd, wr, err := os.Pipe()
	require.NoError(t, err)
	defer rd.Close()
	defer wr.Close()

	gotReadable := make(chan struct{}, 1)
	loopFn := func(poll func([]PollRequest) PollResult) {
		for i := 0; i < 2; i++ {
			res := poll([]PollRequest{{Fd: int(rd.Fd()), Mask: uint32(unix.POLLIN)}})
			if len(res.Revents) == 1 && res.Revents[0] != 0 {
				select {
				case gotReadable <- struct{}{}:
				default:
				}
			}
		}
	}

	a := NewFiberAdapter(r, loopFn)

	_, err = wr.Write([]byte("x"))
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !a.Done() {
		if err := a.Step(50); err != nil {
			t.Fatalf("Step: %v", err)
		}
		select {
		case <-gotReadable:
			return
		default:
		}
	}
	t.Fatal("loop never observed pipe readability through FiberAdapter")
}
