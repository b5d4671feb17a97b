package kcp

// Flush drives one egress pass for the conversation (§4.4 egress
// flush), in order: timeout check, pending-ack transmission,
// zero-window probe, then the send-quota retransmit/new-segment loop.
// now is milliseconds on the caller's monotonic clock.
func (c *Conversation) Flush(now uint32) {
	if c.dead {
		return
	}

	if now-c.lastActive >= c.timeout {
		c.markDead(CauseTimeout)
		return
	}

	c.flushAcks(now)
	c.flushProbe(now)
	c.flushData(now)
}

func (c *Conversation) flushAcks(now uint32) {
	if !c.ackArmed || int32(now-c.ackDue) < 0 {
		return
	}
	for _, a := range c.acks {
		h := Header{
			Conv: c.Conv,
			Cmd:  CmdAck,
			Wnd:  uint32ToWnd(c.localWindowFree()),
			Ts:   a.ts,
			Sn:   a.sn,
			Una:  c.rcvNxt,
		}
		size := c.format.ProposeSize(0)
		buf := c.transmitter.Allocate(size)
		if buf == nil {
			continue
		}
		if err := c.format.Compose(buf, h, nil); err == nil {
			c.transmitter.Transmit(c.Addr, buf)
		}
		c.transmitter.Release(buf)
	}
	c.acks = c.acks[:0]
	c.ackArmed = false
}

func (c *Conversation) flushProbe(now uint32) {
	if c.rmtWnd != 0 {
		c.probeWait = defaultProbeInitial
		c.probeDue = 0
		return
	}
	if c.probeDue == 0 {
		c.probeDue = now + c.probeWait
		return
	}
	if int32(now-c.probeDue) < 0 {
		return
	}
	c.sendControl(CmdWask, now)
	c.probeWait += c.probeWait / 2
	if c.probeWait > defaultProbeMax {
		c.probeWait = defaultProbeMax
	}
	c.probeDue = now + c.probeWait
}

func (c *Conversation) flushData(now uint32) {
	quota := c.cwnd
	if int(c.rmtWnd) < quota {
		quota = int(c.rmtWnd)
	}
	inFlight := 0
	c.sndQueue.Each(func(s *Segment) bool {
		if s.sent {
			inFlight++
		}
		return true
	})
	quota -= inFlight
	if quota < 0 {
		quota = 0
	}

	var stop bool
	for i := 0; i < c.sndQueue.Len() && !stop; i++ {
		seg := c.sndQueue.At(i)

		if seg.sent {
			if int32(now-seg.resendTs) >= 0 {
				c.ssthresh = maxInt(2, c.cwnd/2)
				c.cwnd = 1
				c.incr = c.mss
				seg.sent = false
				quota++
			} else if seg.track >= c.fastResend && seg.tries > 0 {
				c.cwnd = maxInt(1, (c.cwnd)/2)
				c.cwnd += c.fastResend
				seg.sent = false
				seg.track = 0
				quota++
			}
		}

		if !seg.sent && quota > 0 {
			if !seg.numbered {
				seg.Sn = c.allocSn()
				seg.numbered = true
			}
			seg.Ts = now
			seg.Wnd = uint32ToWnd(c.localWindowFree())
			seg.Una = c.rcvNxt

			if c.transmitSegment(seg) {
				seg.sent = true
				seg.tries++
				seg.resendTs = now + c.rto
				quota--
			}
		}

		if seg.tries > c.triesLimit {
			c.markDead(CauseReset)
			stop = true
		}
		if quota == 0 && !seg.sent {
			stop = true
		}
	}
}

func (c *Conversation) allocSn() uint32 {
	sn := c.sndNxt
	c.sndNxt++
	return sn
}

func (c *Conversation) transmitSegment(seg *Segment) bool {
	size := c.format.ProposeSize(len(seg.Data))
	buf := c.transmitter.Allocate(size)
	if buf == nil {
		return false
	}
	if err := c.format.Compose(buf, seg.Header, seg.Data); err != nil {
		c.transmitter.Release(buf)
		return false
	}
	if err := c.transmitter.Transmit(c.Addr, buf); err != nil {
		c.transmitter.Release(buf)
		return false
	}
	if seg.wire != nil {
		c.transmitter.Release(seg.wire)
	}
	seg.wire = buf
	return true
}
