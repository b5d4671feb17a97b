package socket

import (
	"github.com/ringforge/uringrt/internal/sys"
	"github.com/ringforge/uringrt/ring"
)

// Transmit copies p into a fresh outbound buffer and arms a send (or
// send-zerocopy, if Options.ZeroCopy) descriptor for it, joining the
// current per-tick batch. addr is only used for zero-copy datagram
// sends (nil for stream sockets).
func (s *Socket) Transmit(p []byte, addr []byte) {
	buf := s.outPool.Allocate()
	copy(buf.Full(), p)
	buf.SetLength(len(p))

	d := s.r.AllocateDescriptor(func(d *ring.Descriptor, cqe *ring.Completion, reason ring.Reason) bool {
		if reason == ring.ReasonReleased {
			buf.Release()
			return false
		}
		if s.onOutboundComplete(cqe) {
			// Zero-copy provisional completion: the kernel still
			// references buf until the notification CQE.
			return true
		}
		buf.Release()
		return false
	}, buf)

	if d == nil {
		buf.Release()
		return
	}

	raw := buf.Bytes()
	if s.opts.ZeroCopy {
		ring.SetSendZC(d, s.fd, raw, addr, 0)
	} else {
		ring.SetSend(d, s.fd, raw, 0)
	}

	s.appendToBatch(d)
}

// TransmitPrepared hands off an already-prepared descriptor owning its
// own buffer (e.g. a send-zerocopy+set_addr descriptor a caller built
// directly), joining the current batch rather than submitting alone.
func (s *Socket) TransmitPrepared(d *ring.Descriptor) {
	s.appendToBatch(d)
}

// appendToBatch joins d to the outstanding-transmits batch for the
// current cooperative tick (§4.3 auto-cork: "descriptors inside a
// batch are linked with IOSQE_IO_LINK"). Only the first Transmit in a
// tick schedules the flusher that actually submits the accumulated
// chain; every descriptor appended before that flusher runs joins the
// same chain and so completes in enqueued order, or fails identically.
func (s *Socket) appendToBatch(d *ring.Descriptor) {
	s.mu.Lock()
	s.outstanding++
	outstanding := s.outstanding
	hw := s.opts.OutboundHighWater
	trip := hw > 0 && outstanding == hw+1 && !s.backpressure
	if trip {
		s.backpressure = true
	}
	s.outBatch = append(s.outBatch, d)
	armNeeded := !s.batchArmed
	s.batchArmed = true
	s.mu.Unlock()

	if trip {
		s.emit(Event{Cond: CondOut})
	}

	if armNeeded {
		s.r.PushFlusher(s.flushBatch)
	}
}

// flushBatch links every descriptor accumulated since the last flush
// into one IOSQE_IO_LINK chain and submits it as a single atomic-window
// unit via SubmitRange, so the whole batch completes in order or fails
// together (§4.3, §5 ordering guarantee).
func (s *Socket) flushBatch() {
	s.mu.Lock()
	descs := s.outBatch
	s.outBatch = nil
	s.batchArmed = false
	s.mu.Unlock()

	if len(descs) == 0 {
		return
	}
	first, last := ring.Chain(descs)
	s.r.SubmitRange(first, last, len(descs))
}

// onOutboundComplete distinguishes the provisional completion from the
// final CQE_F_NOTIF notification of a zero-copy send, clearing
// backpressure on the "first real completion" (§4.3).
func (s *Socket) onOutboundComplete(cqe *ring.Completion) bool {
	if s.opts.ZeroCopy && cqe.Flags&sys.IORING_CQE_F_MORE != 0 {
		// Provisional completion; the notification CQE follows.
		return true
	}

	s.mu.Lock()
	s.outstanding--
	clear := s.backpressure && s.outstanding < s.opts.OutboundHighWater
	if clear {
		s.backpressure = false
	}
	s.mu.Unlock()

	if cqe.Res < 0 {
		s.emit(Event{Cond: CondErr, Errno: -cqe.Res})
	}
	if clear {
		s.emit(Event{Cond: CondOut})
	}
	return false
}
