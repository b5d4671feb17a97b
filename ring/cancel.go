package ring

import "github.com/ringforge/uringrt/internal/sys"

// Cancel removes or neutralizes d's operation: a Pending descriptor,
// whatever its opcode, is rewritten in place to a NOP carrying
// OptIgnoreResult (no POLL_REMOVE/TIMEOUT_REMOVE is issued for it), and
// an already-Submitted descriptor gets a fresh async-cancel descriptor
// submitted against it. Every path
// holds the target so its completion and the cancel's own (ignored)
// completion can both safely run. Calling Cancel twice on the same
// descriptor is idempotent (§6.2).
func (r *Ring) Cancel(d *Descriptor) {
	switch d.State() {
	case StateFree, StateAllocated:
		// Never submitted; nothing in the kernel to undo.
		return
	case StatePending:
		d.Hold()
		switch d.kind {
		case KindPoll:
			d.kind = KindNop
			d.opcode = sys.IORING_OP_NOP
			d.optBits |= OptIgnoreResult
		case KindTimeout:
			// Never reached the kernel yet, so there's nothing to send
			// TIMEOUT_REMOVE against; collapse straight to NOP like any
			// other still-pending op.
			d.kind = KindNop
			d.opcode = sys.IORING_OP_NOP
			d.optBits |= OptIgnoreResult
		default:
			d.kind = KindNop
			d.opcode = sys.IORING_OP_NOP
			d.optBits |= OptIgnoreResult
		}
		r.ReleaseDescriptor(d) // drop the Hold(); still referenced by the pending list itself
	case StateSubmitted:
		r.cancelSubmitted(d)
	}
}

// cancelSubmitted arms a fresh async-cancel descriptor keyed by d's
// current identity token, with the ignore option so the cancel's own
// completion is a no-op; d's eventual -ECANCELED completion is what
// actually releases it.
func (r *Ring) cancelSubmitted(d *Descriptor) {
	target := d.identity()
	d.Hold()

	cancel := r.AllocateDescriptor(func(cd *Descriptor, cqe *Completion, reason Reason) bool {
		r.ReleaseDescriptor(d)
		return false
	}, nil)
	if cancel == nil {
		// Backpressure: nothing to do but drop the extra hold; the
		// target will still complete on its own eventually.
		r.ReleaseDescriptor(d)
		return
	}
	cancel.kind = KindCancel
	cancel.opcode = sys.IORING_OP_ASYNC_CANCEL
	cancel.addr = target
	cancel.optBits = OptIgnoreResult
	r.Submit(cancel, OptIgnoreResult)
}

// CancelPollModify collapses a re-arm of a still-Pending poll descriptor
// into a plain mask update instead of cancel-then-resubmit, per the
// poll-modify optimization named in §4.1: only descriptors that never
// reached the kernel can be mutated in place.
func (r *Ring) CancelPollModify(d *Descriptor, newMask uint32) bool {
	if d.State() != StatePending || d.kind != KindPoll {
		return false
	}
	d.poll.mask = newMask
	return true
}
