package socket

import (
	"errors"
	"io"

	"github.com/ringforge/uringrt/ring"
)

// ErrWriteRetry is returned by TLSBIOAdapter.Write when the outbound
// high-water mark is reached; the caller (a TLS stack's BIO write
// callback) should treat this the way OpenSSL treats BIO_should_retry.
var ErrWriteRetry = errors.New("socket: outbound batch full, retry write")

// TLSBIOAdapter exposes a Socket's recv/send engine through a
// BIO-shaped contract (io.ReadWriteCloser plus Touch) so an external
// TLS stack can layer on top without knowing about io_uring at all
// (spec §4.3 TLS-adapter BIO; external collaborator, not reproduced —
// spec.md §1 Non-goals).
type TLSBIOAdapter struct {
	s *Socket

	readBuf []byte
	readPos int
}

// NewTLSBIOAdapter wraps s.
func NewTLSBIOAdapter(s *Socket) *TLSBIOAdapter {
	return &TLSBIOAdapter{s: s}
}

// Read pulls from the inbound buffer chain with a resumable position,
// draining fully-consumed buffers back to the provider as it goes.
func (a *TLSBIOAdapter) Read(p []byte) (int, error) {
	if a.readPos >= len(a.readBuf) {
		bufs, total := a.s.Drain()
		if total == 0 {
			if a.s.State() == StateClosing || a.s.State() == StateFreed {
				return 0, io.EOF
			}
			return 0, nil
		}
		merged := make([]byte, 0, total)
		for _, b := range bufs {
			merged = append(merged, b.Bytes()...)
			if a.s.inProvider != nil {
				a.s.inProvider.Advance(b.Index)
			}
			b.Release()
		}
		a.readBuf = merged
		a.readPos = 0
	}

	n := copy(p, a.readBuf[a.readPos:])
	a.readPos += n
	return n, nil
}

// Write appends to an outbound buffer, merging into the current
// in-flight batch when capacity allows, or signals ErrWriteRetry if
// the outbound high-water mark is reached.
func (a *TLSBIOAdapter) Write(p []byte) (int, error) {
	a.s.mu.Lock()
	full := a.s.opts.OutboundHighWater > 0 && a.s.outstanding >= a.s.opts.OutboundHighWater
	a.s.mu.Unlock()
	if full {
		return 0, ErrWriteRetry
	}
	a.s.Transmit(p, nil)
	return len(p), nil
}

// Close releases the underlying socket.
func (a *TLSBIOAdapter) Close() error {
	a.s.Close()
	return nil
}

// Touch posts a NOP descriptor that, on completion, re-enters the
// engine — used to wake the BIO from outside the ring's active cycle
// (§4.3).
func (a *TLSBIOAdapter) Touch(onWake func()) {
	d := a.s.r.AllocateDescriptor(func(d *ring.Descriptor, cqe *ring.Completion, reason ring.Reason) bool {
		if reason != ring.ReasonReleased && onWake != nil {
			onWake()
		}
		return false
	}, nil)
	if d == nil {
		return
	}
	a.s.r.Submit(d, ring.OptIgnoreResult)
}
