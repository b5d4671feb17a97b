package ring

import "github.com/ringforge/uringrt/internal/sys"

// dispatch handles one CQE: re-validates the identity token, drops
// leaked completions silently (§3, §7), and otherwise invokes the
// owning descriptor's callback with the right Reason, honoring the
// kernel's CQE_F_MORE flag for multishot descriptors.
func (r *Ring) dispatch(userData uint64, res int32, flags uint32) {
	d := descriptorFromUserData(userData)
	if d == nil {
		return
	}
	if identityTag(userData) != d.tag {
		// Integrity mismatch: the descriptor was reused after
		// cancellation and this completion belongs to a prior
		// generation. Silently drop, per §3/§7.
		return
	}

	hasMore := flags&sys.IORING_CQE_F_MORE != 0
	cqe := &Completion{Res: res, Flags: flags}

	keepAlive := false
	if d.cb != nil {
		keepAlive = d.cb(d, cqe, ReasonComplete)
	}

	if !keepAlive && !hasMore {
		d.state.Store(int32(StateFree))
		r.ReleaseDescriptor(d)
	} else if keepAlive {
		// Multishot descriptor remains Submitted; nothing else to do
		// until its next completion or an explicit cancel.
		d.state.Store(int32(StateSubmitted))
	} else {
		// !keepAlive but hasMore: kernel will still deliver more CQEs
		// for this user_data (e.g. an in-flight cancel race). Leave
		// it Submitted; the eventual no-more CQE releases it.
		d.state.Store(int32(StateSubmitted))
	}
}
