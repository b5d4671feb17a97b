// Package adapter binds this module's ring to a foreign event loop two
// ways (spec component E): FiberAdapter swaps control between "main"
// (the ring's owner thread) and "loop" (the foreign library) via a
// channel rendezvous, and BackendFDAdapter polls a foreign loop's own
// backend fd through the ring instead. Go has no portable ucontext
// swap, so FiberAdapter's two "contexts" are a goroutine parked on an
// unbuffered channel — the same handoff shape gaio's watcher uses
// (chPendingNotify/chEventNotify) to pass control between its poller
// goroutine and its consumer loop, grounded on
// other_examples/...gaio__watcher.go.
package adapter

import (
	"github.com/ringforge/uringrt/ring"
)

// PollRequest is what the loop side asks main to watch while
// suspended: one fd and the readiness mask it cares about.
type PollRequest struct {
	Fd   int
	Mask uint32
}

// PollResult is what main hands back to the loop side on resumption:
// the readiness bitmap the ring observed for each requested fd, in the
// same order as the PollRequest slice it answers.
type PollResult struct {
	Revents []uint32
}

// LoopFunc is the foreign event loop's body. It receives a poll
// function it must call whenever it would normally block in its own
// poll/epoll_wait — calling it suspends the loop back to main and
// resumes with the ring-collected readiness.
type LoopFunc func(poll func([]PollRequest) PollResult)

// FiberAdapter runs loopFn in its own goroutine, enforcing "exactly one
// of {main, loop} runs at a time" via an unbuffered channel rendezvous
// (§4.5/§5's single-suspension-point invariant): loopPoll blocks the
// loop goroutine the instant it calls back into main, and Step blocks
// main the instant it's handed control back to the loop.
type FiberAdapter struct {
	r *ring.Ring

	toLoop chan []PollRequest
	toMain chan PollResult
	done   chan struct{}

	revents []uint32
}

// NewFiberAdapter starts loopFn on its own goroutine, blocked
// immediately on its first poll call until the main side calls Step.
func NewFiberAdapter(r *ring.Ring, loopFn LoopFunc) *FiberAdapter {
	a := &FiberAdapter{
		r:      r,
		toLoop: make(chan []PollRequest),
		toMain: make(chan PollResult),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(a.done)
		loopFn(a.loopPoll)
	}()
	return a
}

// loopPoll is the stub the foreign loop calls in place of its own
// poll/epoll_wait: it hands its requested fds to main and blocks for
// the readiness bitmap, exactly the gaio watcher's
// chPendingNotify<-/chEventNotify<- pattern.
func (a *FiberAdapter) loopPoll(reqs []PollRequest) PollResult {
	a.toLoop <- reqs
	return <-a.toMain
}

// Step runs one main-side cooperative tick: if the loop is currently
// waiting on a poll request, arm ring descriptors for every requested
// fd, wait for the ring's next completion batch, and hand readiness
// back to the loop so it resumes and runs its handlers until its next
// poll call (or exit).
func (a *FiberAdapter) Step(intervalMs int) error {
	var reqs []PollRequest
	select {
	case <-a.done:
		return nil
	case reqs = <-a.toLoop:
	}

	a.revents = make([]uint32, len(reqs))
	if len(reqs) == 0 {
		a.toMain <- PollResult{}
		return nil
	}

	for i, req := range reqs {
		i, req := i, req
		d := a.r.AllocateDescriptor(func(d *ring.Descriptor, cqe *ring.Completion, reason ring.Reason) bool {
			if reason != ring.ReasonReleased && cqe.Res > 0 {
				a.revents[i] = uint32(cqe.Res)
			}
			return false
		}, nil)
		if d == nil {
			continue
		}
		ring.SetPoll(d, req.Fd, req.Mask, false)
		a.r.Submit(d, 0)
	}

	if err := a.r.Wait(intervalMs); err != nil {
		return err
	}

	a.toMain <- PollResult{Revents: a.revents}
	return nil
}

// Done reports whether the foreign loop has returned.
func (a *FiberAdapter) Done() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}
