package kcp

// Segment is one outbound or inbound unit: a decoded Header plus its
// payload, and (for outbound) the send-state bookkeeping Flush's
// retransmit logic needs.
type Segment struct {
	Header
	Data []byte // payload only; nil for pure control segments

	// Outbound bookkeeping (spec.md §4.4 egress).
	wire     []byte // composed wire buffer, owned via the Transmitter
	numbered bool   // Sn has been assigned from the conversation's sequence counter
	sent     bool
	tries    int
	resendTs uint32 // RTO deadline for this segment
	track    int    // skipped-ack counter driving fast-resend
}
