package kcp

import "net"

// Cause names why a Conversation died (spec.md §4.4 lifecycle / §7
// ETIME/ECONNRESET mapping).
type Cause int

const (
	CauseNone Cause = iota
	CauseTimeout
	CauseReset
	CauseEvicted
)

// EventKind tags a Conversation-level callback invocation.
type EventKind int

const (
	EventCreate EventKind = iota
	EventReceive
	EventRemove
)

// Event is handed to a Conversation's callback.
type Event struct {
	Kind    EventKind
	Payload []byte // set on EventReceive: the reassembled message
	Cause   Cause  // set on EventRemove
}

// Tuning knobs, defaulted by NewConversation; overridable per-field
// before the first Flush.
const (
	defaultMSS           = 1400
	defaultInterval      = 100  // ms, ack/probe cadence
	defaultRxMinRTO      = 100  // ms
	defaultRxRTOMax      = 60000 // ms
	defaultFastResend    = 2
	defaultTriesLimit    = 20
	defaultRcvWnd        = 128
	defaultAckThreshold  = 8 // in-flight receive backlog that triggers an immediate coalesced ack
	defaultProbeInitial  = 7000  // ms
	defaultProbeMax      = 120000 // ms
	defaultTimeout       = 30000 // ms of silence before Timeout
)

type ackItem struct {
	sn uint32
	ts uint32
}

// Conversation is one reliable-datagram session: congestion state,
// send/receive queues, and pending-ack bookkeeping, all driven by an
// owning Service's HandlePacket/Flush passes.
type Conversation struct {
	Conv uint32
	Addr net.Addr

	format      Format
	transmitter Transmitter
	onEvent     func(Event)

	mss         int
	interval    uint32
	rxMinRTO    uint32
	rxRTOMax    uint32
	fastResend  int
	triesLimit  int
	rcvWndSize  uint32
	ackThresh   int
	timeout     uint32

	sndUna uint32
	sndNxt uint32
	rcvNxt uint32

	rmtWnd uint32

	cwnd     int
	ssthresh int
	incr     int

	rto      uint32
	srtt     int
	rttvar   int

	sndQueue *SegQueue
	rcvBuf   map[uint32]*Segment

	acks []ackItem

	ackDue     uint32
	ackArmed   bool
	probeWait  uint32
	probeDue   uint32
	lastActive uint32

	guard         bool
	deferRelease  bool
	dead          bool
	cause         Cause

	nextSn uint32
}

// NewConversation creates a conversation bound to conv/addr, driven by
// transmitter for egress and format for wire encoding. now is the
// creation timestamp in milliseconds (monotonic, caller-owned clock).
func NewConversation(conv uint32, addr net.Addr, transmitter Transmitter, format Format, onEvent func(Event), now uint32) *Conversation {
	c := &Conversation{
		Conv:        conv,
		Addr:        addr,
		format:      format,
		transmitter: transmitter,
		onEvent:     onEvent,
		mss:         defaultMSS,
		interval:    defaultInterval,
		rxMinRTO:    defaultRxMinRTO,
		rxRTOMax:    defaultRxRTOMax,
		fastResend:  defaultFastResend,
		triesLimit:  defaultTriesLimit,
		rcvWndSize:  defaultRcvWnd,
		ackThresh:   defaultAckThreshold,
		timeout:     defaultTimeout,
		rmtWnd:      defaultRcvWnd,
		cwnd:        1,
		ssthresh:    32,
		incr:        0,
		rto:         defaultRxMinRTO * 3,
		sndQueue:    NewSegQueue(),
		rcvBuf:      make(map[uint32]*Segment),
		probeWait:   defaultProbeInitial,
		lastActive:  now,
	}
	if onEvent != nil {
		onEvent(Event{Kind: EventCreate})
	}
	return c
}

// Tuning holds the subset of a Conversation's knobs callers may
// override after construction but before the first Flush (the
// config package populates one of these from YAML and applies it
// here rather than this package depending on config directly).
type Tuning struct {
	MSS          int
	IntervalMs   uint32
	RxMinRTOMs   uint32
	RxRTOMaxMs   uint32
	FastResend   int
	TriesLimit   int
	RcvWnd       uint32
	AckThreshold int
	ProbeInitMs  uint32
	ProbeMaxMs   uint32
	TimeoutMs    uint32
}

// ApplyTuning overwrites c's tuning knobs from t. Callers must do this
// before the first Flush; the congestion/RTO state already derived
// from the old rxMinRTO (c.rto) is recomputed from t's value too.
// ProbeMaxMs is not applied: the zero-window probe back-off is always
// capped at defaultProbeMax. ProbeInitMs only seeds the first probe
// interval; flushProbe resets it to defaultProbeInitial whenever the
// remote window is open.
func (c *Conversation) ApplyTuning(t Tuning) {
	c.mss = t.MSS
	c.interval = t.IntervalMs
	c.rxMinRTO = t.RxMinRTOMs
	c.rxRTOMax = t.RxRTOMaxMs
	c.fastResend = t.FastResend
	c.triesLimit = t.TriesLimit
	c.rcvWndSize = t.RcvWnd
	c.rmtWnd = t.RcvWnd
	c.ackThresh = t.AckThreshold
	c.probeWait = t.ProbeInitMs
	c.timeout = t.TimeoutMs
	c.rto = t.RxMinRTOMs * 3
}

// IsDead reports whether the conversation has been marked for removal.
func (c *Conversation) IsDead() bool { return c.dead }

func (c *Conversation) markDead(cause Cause) {
	if c.dead {
		return
	}
	c.dead = true
	c.cause = cause
}

// Submit splits payload into MSS-sized fragments numbered frg=N-1..0
// and enqueues them, per §4.4 egress step 1.
func (c *Conversation) Submit(payload []byte) {
	if len(payload) == 0 {
		return
	}
	count := (len(payload) + c.mss - 1) / c.mss
	if count == 0 {
		count = 1
	}
	for i := 0; i < count; i++ {
		start := i * c.mss
		end := start + c.mss
		if end > len(payload) {
			end = len(payload)
		}
		frg := uint8(count - i - 1)
		seg := &Segment{
			Header: Header{Conv: c.Conv, Cmd: CmdPush, Frg: frg},
			Data:   payload[start:end],
		}
		c.sndQueue.PushBack(seg)
	}
}

// applyWindowUpdate applies the peer's advertised window to rmtWnd,
// part of every inbound segment's processing (§4.4 ingress).
func (c *Conversation) applyWindowUpdate(wnd uint16) {
	c.rmtWnd = uint32(wnd)
}

// touch marks the conversation as having seen live traffic at now.
func (c *Conversation) touch(now uint32) {
	c.lastActive = now
}
