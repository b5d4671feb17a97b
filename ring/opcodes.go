package ring

import (
	"unsafe"

	"github.com/ringforge/uringrt/internal/sys"
)

const ioLinkFlag = sys.IOSQE_IO_LINK

// submitItems copies as many pending descriptors into kernel SQEs as
// SQ space and each chain's atomic-window requirement allow. A chain
// (first.linked > 1) is only started if the whole chain fits in the
// remaining space; partial chains are left for the next Wait() cycle,
// per §4.1 step (ii).
func (r *Ring) submitItems(items []*Descriptor) {
	if len(items) == 0 {
		return
	}

	if lastIsLinked(items) {
		// The kernel must see a non-linked SQE to close out a chain
		// whose last prepared item is still IOSQE_IO_LINK'd; a NOP
		// stub closes the window.
		stub := r.AllocateDescriptor(func(d *Descriptor, cqe *Completion, reason Reason) bool {
			r.ReleaseDescriptor(d)
			return false
		}, nil)
		if stub != nil {
			stub.kind = KindNop
			stub.opcode = sys.IORING_OP_NOP
			stub.optBits = OptIgnoreResult
			stub.state.Store(int32(StatePending))
			items = append(items, stub)
		}
	}

	i := 0
	for i < len(items) {
		d := items[i]
		chainLen := d.linked
		if chainLen <= 1 {
			chainLen = 1
		}
		if uint32(chainLen) > r.low.SQSpace() {
			// Whole chain doesn't fit this cycle; requeue the
			// remainder for the next drain by re-pushing onto
			// pending (still in StatePending, never touched the
			// kernel).
			for _, rest := range items[i:] {
				r.pend.push(rest)
			}
			return
		}

		for j := 0; j < chainLen && i+j < len(items); j++ {
			r.prepOne(items[i+j])
		}
		i += chainLen
	}
}

func (r *Ring) prepOne(d *Descriptor) {
	userData := d.identity()
	var err error

	switch d.kind {
	case KindNop:
		err = r.low.PrepNop(userData)
	case KindPoll:
		if d.poll.multi {
			err = r.low.PrepPollAddMultishot(d.poll.fd, d.poll.mask, userData)
		} else {
			err = r.low.PrepPollAdd(d.poll.fd, d.poll.mask, userData)
		}
	case KindTimeout:
		flags := d.timeout.flags
		if d.timeout.multi {
			flags |= sys.IORING_TIMEOUT_MULTISHOT
		}
		err = r.low.PrepTimeout(&d.timeout.ts, 0, flags, userData)
	case KindRecv:
		if d.bufIdx != 0 || d.flags&sys.IOSQE_BUFFER_SELECT != 0 {
			err = r.low.PrepRecvMultishot(int(d.fd), d.bufIdx, int(d.opFlags), userData)
		} else {
			err = r.low.PrepRecv(int(d.fd), bufFromAddr(d.addr, d.length), int(d.opFlags), userData)
		}
	case KindRecvMsg:
		if d.flags&sys.IOSQE_BUFFER_SELECT != 0 {
			err = r.low.PrepRecvMsgMultishot(int(d.fd), &d.msg.msg, d.bufIdx, int(d.opFlags), userData)
		} else {
			err = r.low.PrepRecvmsg(int(d.fd), &d.msg.msg, int(d.opFlags), userData)
		}
	case KindSend:
		err = r.low.PrepSend(int(d.fd), bufFromAddr(d.addr, d.length), int(d.opFlags), userData)
	case KindSendMsg:
		err = r.low.PrepSendmsg(int(d.fd), &d.msg.msg, int(d.opFlags), userData)
	case KindSendZC:
		if d.msg.addrLen > 0 {
			err = r.low.PrepSendZCAddr(int(d.fd), bufFromAddr(d.addr, d.length),
				unsafe.Pointer(&d.msg.addr[0]), d.msg.addrLen, int(d.opFlags), userData)
		} else {
			err = r.low.PrepSendZC(int(d.fd), bufFromAddr(d.addr, d.length), int(d.opFlags), userData)
		}
	case KindCancel:
		err = r.low.PrepCancel(d.addr, d.opFlags, userData)
	case KindAccept:
		err = r.low.PrepAcceptMultishot(int(d.fd), nil, nil, d.opFlags, userData)
	case KindConnect:
		err = r.low.PrepConnect(int(d.fd), unsafe.Pointer(&d.msg.addr[0]), d.msg.addrLen, userData)
	case KindClose:
		err = r.low.PrepClose(int(d.fd), userData)
	case KindShutdown:
		err = r.low.PrepShutdown(int(d.fd), int(d.length), userData)
	case KindMsgRing:
		err = r.low.PrepMsgRing(int(d.fd), d.addr, userData)
	case KindFutexWait:
		err = r.low.PrepFutexWait(unsafe.Pointer(uintptr(d.addr)), d.msg.futexVal, d.msg.futexMask, d.opFlags, userData)
	case KindFutexWake:
		err = r.low.PrepFutexWake(unsafe.Pointer(uintptr(d.addr)), d.msg.futexVal, d.msg.futexMask, d.opFlags, userData)
	default:
		err = r.low.PrepNop(userData)
	}

	if d.flags&sys.IOSQE_IO_LINK != 0 {
		r.low.SetSQELink()
	}
	if d.flags&sys.IOSQE_CQE_SKIP_SUCCESS != 0 {
		r.low.SetSQESkipSuccess()
	}
	if d.flags&sys.IOSQE_FIXED_FILE != 0 {
		r.low.SetSQEFlags(sys.IOSQE_FIXED_FILE)
	}

	if err != nil {
		// SQ full or similar: leave the descriptor Pending for the
		// next cycle (§7 kernel-rejection).
		d.state.Store(int32(StatePending))
		r.pend.push(d)
		return
	}
	d.state.Store(int32(StateSubmitted))
}

func bufFromAddr(addr uint64, length uint32) []byte {
	if addr == 0 || length == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), length)
}
