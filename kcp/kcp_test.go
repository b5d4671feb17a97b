package kcp

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAddr is a minimal net.Addr for in-memory tests.
type fakeAddr string

func (a fakeAddr) Network() string { return "fake" }
func (a fakeAddr) String() string  { return string(a) }

// fakeTransmitter captures every transmitted packet instead of sending
// it anywhere, so tests can feed one conversation's egress directly
// into another's ingress.
type fakeTransmitter struct {
	sent [][]byte
}

func (f *fakeTransmitter) Allocate(size int) []byte { return make([]byte, size) }
func (f *fakeTransmitter) Transmit(addr net.Addr, buf []byte) error {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	f.sent = append(f.sent, cp)
	return nil
}
func (f *fakeTransmitter) Release(buf []byte) {}

func TestStandardFormatRoundTrip(t *testing.T) {
	var f StandardFormat
	hdr := Header{Conv: 42, Cmd: CmdPush, Frg: 1, Wnd: 128, Ts: 1000, Sn: 7, Una: 3}
	payload := []byte("hello kcp")

	buf := make([]byte, f.ProposeSize(len(payload)))
	require.NoError(t, f.Compose(buf, hdr, payload))

	got, gotPayload, next, err := f.Parse(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, len(buf), next)
	assert.Equal(t, hdr.Conv, got.Conv)
	assert.Equal(t, hdr.Cmd, got.Cmd)
	assert.Equal(t, hdr.Frg, got.Frg)
	assert.Equal(t, hdr.Wnd, got.Wnd)
	assert.Equal(t, hdr.Sn, got.Sn)
	assert.Equal(t, hdr.Una, got.Una)
	assert.Equal(t, payload, gotPayload)
}

func TestConversationSubmitFragmentsOversizedPayload(t *testing.T) {
	tx := &fakeTransmitter{}
	c := NewConversation(1, fakeAddr("peer"), tx, StandardFormat{}, nil, 0)
	c.mss = 4

	c.Submit([]byte("0123456789")) // 3 fragments: 4,4,2
	require.Equal(t, 3, c.sndQueue.Len())
	assert.Equal(t, uint8(2), c.sndQueue.At(0).Frg)
	assert.Equal(t, uint8(1), c.sndQueue.At(1).Frg)
	assert.Equal(t, uint8(0), c.sndQueue.At(2).Frg)
}

func TestServiceEndToEndPushAndAck(t *testing.T) {
	var events []Event
	var txA, txB fakeTransmitter

	svc := NewService(StandardFormat{}, func(addr net.Addr) Transmitter { return &txA }, func(k Key, ev Event) {
		events = append(events, ev)
	})

	conv := NewConversation(1, fakeAddr("b"), &txB, StandardFormat{}, func(ev Event) {
		events = append(events, ev)
	}, 0)
	conv.Submit([]byte("ping"))
	conv.Flush(0)
	require.Len(t, txB.sent, 1)

	err := svc.HandlePacket(1, 0xA, fakeAddr("b"), txB.sent[0])
	require.NoError(t, err)

	var received []byte
	for _, ev := range events {
		if ev.Kind == EventReceive {
			received = ev.Payload
		}
	}
	assert.Equal(t, "ping", string(received))

	key := Key{AppID: 0xA, Conv: 1, Addr: "b"}
	got, ok := svc.Lookup(key)
	require.True(t, ok)

	got.Flush(1)
	assert.Empty(t, txA.sent, "ack not yet due at t=1 (interval default 100ms)")

	got.Flush(200)
	assert.Len(t, txA.sent, 1, "delayed ack should have fired once its due time passed")
}

func TestConversationFastResendTriggersOnTrackThreshold(t *testing.T) {
	tx := &fakeTransmitter{}
	c := NewConversation(1, fakeAddr("peer"), tx, StandardFormat{}, nil, 0)
	c.cwnd = 8
	c.rmtWnd = 8

	c.Submit([]byte("x"))
	c.Flush(0)
	require.Len(t, tx.sent, 1)
	seg := c.sndQueue.At(0)
	require.True(t, seg.sent)

	seg.track = c.fastResend
	seg.tries = 1
	c.Flush(1)
	assert.True(t, len(tx.sent) >= 2, "fast-resend should have retransmitted")
}

func TestConversationTimeoutMarksDead(t *testing.T) {
	tx := &fakeTransmitter{}
	c := NewConversation(1, fakeAddr("peer"), tx, StandardFormat{}, nil, 0)
	c.timeout = 100
	c.Flush(150)
	assert.True(t, c.IsDead())
	assert.Equal(t, CauseTimeout, c.cause)
}
