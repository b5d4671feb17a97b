package kcp

// HandlePush processes one decoded PUSH segment (§4.4 ingress PUSH
// case): enqueues by sequence into the receive buffer bounded by the
// receive window, silently re-acking duplicates, then drains any
// contiguous in-order run, reassembling fragments into RECEIVE events.
func (c *Conversation) HandlePush(now uint32, h Header, payload []byte) {
	c.touch(now)
	c.applyWindowUpdate(h.Wnd)

	sn := h.Sn
	withinWindow := sn >= c.rcvNxt && sn < c.rcvNxt+c.rcvWndSize
	if withinWindow {
		if _, dup := c.rcvBuf[sn]; !dup {
			cp := make([]byte, len(payload))
			copy(cp, payload)
			c.rcvBuf[sn] = &Segment{Header: h, Data: cp}
		}
	}
	// Duplicates and out-of-window segments are silently re-acked below
	// regardless (§4.4: "duplicates ... are silently re-acked").
	c.armAck(h.Sn, h.Ts, now)

	c.drainContiguous()
}

// drainContiguous reassembles every fragment run starting at rcvNxt
// that's now fully present, firing a RECEIVE event per completed
// message and advancing rcvNxt past the last segment consumed.
func (c *Conversation) drainContiguous() {
	var scratch []byte
	sn := c.rcvNxt
	lastSn := c.rcvNxt

	for {
		seg, ok := c.rcvBuf[sn]
		if !ok {
			break
		}
		if len(scratch) == 0 {
			// At a message start: leave the message buffered until
			// every fragment through its frg==0 terminator is present.
			end, s := sn, seg
			for s != nil && s.Header.Frg != 0 {
				end++
				s = c.rcvBuf[end]
			}
			if s == nil {
				break
			}
		}
		scratch = append(scratch, seg.Data...)
		lastSn = sn
		last := seg.Header.Frg == 0
		delete(c.rcvBuf, sn)
		sn++

		if last {
			if c.onEvent != nil {
				msg := make([]byte, len(scratch))
				copy(msg, scratch)
				c.onEvent(Event{Kind: EventReceive, Payload: msg})
			}
			scratch = scratch[:0]
		}
	}

	if sn != c.rcvNxt {
		c.rcvNxt = lastSn + 1
	}
}

// armAck schedules an acknowledgement for (sn, ts): immediately if the
// in-flight receive backlog has crossed the coalescing threshold,
// otherwise delayed to now+interval (§4.4 PUSH handling tail).
func (c *Conversation) armAck(sn, ts, now uint32) {
	c.acks = append(c.acks, ackItem{sn: sn, ts: ts})
	if len(c.acks) >= c.ackThresh {
		c.ackDue = now
	} else if !c.ackArmed {
		c.ackDue = now + c.interval
	}
	c.ackArmed = true
}

// HandleAck processes one decoded ACK segment (§4.4 ingress ACK case):
// advances sndUna, retires acknowledged segments sampling RTT from
// each, and tracks skipped-ack counts to drive fast-resend.
func (c *Conversation) HandleAck(now uint32, h Header) {
	c.touch(now)
	c.applyWindowUpdate(h.Wnd)

	if h.Una > c.sndUna {
		c.growCongestionWindow(c.sndUna, h.Una)
		c.sndUna = h.Una
	}

	ackedSn := h.Sn
	retiredExact := false

	// Sample RTT/RTO from every segment actually retired by the
	// cumulative una advance.
	removed := c.sndQueue.RemoveRetired(func(s *Segment) bool {
		return s.Sn >= c.sndUna
	})
	for _, s := range removed {
		if s.Sn == ackedSn {
			retiredExact = true
		}
		if s.sent {
			rtt := int32(now) - int32(s.Ts)
			if rtt < 0 {
				rtt = 0
			}
			c.updateRTO(int(rtt))
		}
		if c.transmitter != nil && s.wire != nil {
			c.transmitter.Release(s.wire)
		}
	}

	if !retiredExact {
		c.sndQueue.Each(func(s *Segment) bool {
			if s.Sn >= ackedSn {
				return false
			}
			s.track++
			return true
		})
	}
}

// updateRTO applies the RFC-6298-style smoothing with KCP's scaling
// constants (§4.4 ACK handling).
func (c *Conversation) updateRTO(rttMs int) {
	if rttMs < 0 {
		rttMs = 0
	}
	if c.srtt == 0 {
		c.srtt = rttMs
		c.rttvar = rttMs / 2
	} else {
		delta := rttMs - c.srtt
		c.srtt += delta / 8
		if delta < 0 {
			delta = -delta
		}
		c.rttvar += (delta - c.rttvar) / 4
	}
	rto := c.srtt + maxInt(int(c.interval), 1) + 4*c.rttvar
	if rto < int(c.rxMinRTO) {
		rto = int(c.rxMinRTO)
	}
	if rto > int(c.rxRTOMax) {
		rto = int(c.rxRTOMax)
	}
	c.rto = uint32(rto)
}

// growCongestionWindow applies the slow-start / congestion-avoidance
// growth on send-window progress (§4.4 congestion growth).
func (c *Conversation) growCongestionWindow(oldUna, newUna uint32) {
	if newUna <= oldUna {
		return
	}
	if c.cwnd < c.ssthresh {
		c.cwnd++
		c.incr += c.mss
	} else {
		if c.incr < c.mss {
			c.incr = c.mss
		}
		c.incr += c.mss*c.mss/c.incr + c.mss/16
		if (c.cwnd+1)*c.mss <= c.incr {
			c.cwnd++
		}
	}
	if uint32(c.cwnd) > c.rmtWnd {
		c.cwnd = int(c.rmtWnd)
	}
}

// HandleWask replies with a WINS reporting the current local receive
// window (§4.4 ingress WASK case).
func (c *Conversation) HandleWask(now uint32) {
	c.touch(now)
	c.sendControl(CmdWins, now)
}

// HandleWins applies the implicit window update already folded into
// every inbound segment's processing; no further action (§4.4).
func (c *Conversation) HandleWins(now uint32, h Header) {
	c.touch(now)
	c.applyWindowUpdate(h.Wnd)
}

func (c *Conversation) sendControl(cmd Command, now uint32) {
	h := Header{Conv: c.Conv, Cmd: cmd, Wnd: uint32ToWnd(c.localWindowFree()), Ts: now, Sn: 0, Una: c.rcvNxt}
	size := c.format.ProposeSize(0)
	buf := c.transmitter.Allocate(size)
	if buf == nil {
		return
	}
	if err := c.format.Compose(buf, h, nil); err != nil {
		c.transmitter.Release(buf)
		return
	}
	if err := c.transmitter.Transmit(c.Addr, buf); err != nil {
		c.transmitter.Release(buf)
		return
	}
	c.transmitter.Release(buf)
}

func (c *Conversation) localWindowFree() uint32 {
	used := uint32(len(c.rcvBuf))
	if used >= c.rcvWndSize {
		return 0
	}
	return c.rcvWndSize - used
}

func uint32ToWnd(v uint32) uint16 {
	if v > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
