// Package kcp implements the reliable-datagram conversation engine
// (spec component D): a KCP-style congestion/retransmit state machine
// layered over an abstract Transmitter, with pluggable wire framing via
// Format. The standard Format is encoded/decoded with cloudwego/gopkg's
// bufiox byte readers/writers, the same library the example corpus uses
// for zero-copy-friendly framing.
package kcp

import (
	"encoding/binary"
	"errors"

	"github.com/cloudwego/gopkg/bufiox"
)

// Command identifies a segment's role on the wire.
type Command uint8

const (
	CmdPush Command = iota + 81 // data
	CmdAck                      // acknowledgement
	CmdWask                     // window probe request
	CmdWins                     // window probe response
)

// headerSize is the standard wire envelope's fixed-size prefix:
// conv(4) + cmd(1) + frg(1) + wnd(2) + ts(4) + sn(4) + una(4) + len(4).
const headerSize = 24

var (
	ErrShortHeader  = errors.New("kcp: packet shorter than header")
	ErrBadLength    = errors.New("kcp: declared payload length exceeds packet")
	ErrBadCommand   = errors.New("kcp: unrecognized command byte")
)

// Header is one segment's decoded control block, per spec.md §4.4/§6.
type Header struct {
	Conv uint32
	Cmd  Command
	Frg  uint8
	Wnd  uint16
	Ts   uint32
	Sn   uint32
	Una  uint32
	Len  uint32
}

// Format describes an on-the-wire envelope: how to verify, parse one
// segment out of a packet (which may carry several back to back),
// size a buffer for a segment about to be composed, and compose the
// final bytes.
type Format interface {
	// Verify does a cheap sanity check on a whole packet before parsing
	// begins (minimum length, first header's declared length in range).
	Verify(packet []byte) error
	// Parse decodes one segment's header plus its payload slice
	// (pointing into packet, no copy) starting at offset, returning the
	// offset of the next segment.
	Parse(packet []byte, offset int) (Header, []byte, int, error)
	// ProposeSize returns how many bytes Compose needs for a segment
	// carrying payloadLen bytes.
	ProposeSize(payloadLen int) int
	// Prepare stamps hdr's wnd/ts/sn/una fields into buf's header
	// region, updating a composed segment in place without re-encoding
	// the payload. Flush does not call it: it re-composes every
	// transmission with Compose.
	Prepare(buf []byte, hdr Header)
	// Compose encodes hdr and payload into buf (len(buf) ==
	// ProposeSize(len(payload))).
	Compose(buf []byte, hdr Header, payload []byte) error
}

// StandardFormat is the wire format named in spec.md §6.
type StandardFormat struct{}

func (StandardFormat) Verify(packet []byte) error {
	if len(packet) < headerSize {
		return ErrShortHeader
	}
	if uint64(binary.LittleEndian.Uint32(packet[20:24])) > uint64(len(packet)-headerSize) {
		return ErrBadLength
	}
	return nil
}

func (StandardFormat) ProposeSize(payloadLen int) int {
	return headerSize + payloadLen
}

func (StandardFormat) Parse(packet []byte, offset int) (Header, []byte, int, error) {
	if len(packet)-offset < headerSize {
		return Header{}, nil, offset, ErrShortHeader
	}
	r := bufiox.NewBytesReader(packet[offset:])

	var h Header
	raw, err := r.Next(4)
	if err != nil {
		return Header{}, nil, offset, err
	}
	h.Conv = binary.LittleEndian.Uint32(raw)

	raw, err = r.Next(1)
	if err != nil {
		return Header{}, nil, offset, err
	}
	h.Cmd = Command(raw[0])
	if h.Cmd < CmdPush || h.Cmd > CmdWins {
		return Header{}, nil, offset, ErrBadCommand
	}

	raw, err = r.Next(1)
	if err != nil {
		return Header{}, nil, offset, err
	}
	h.Frg = raw[0]

	raw, err = r.Next(2)
	if err != nil {
		return Header{}, nil, offset, err
	}
	h.Wnd = binary.LittleEndian.Uint16(raw)

	raw, err = r.Next(4)
	if err != nil {
		return Header{}, nil, offset, err
	}
	h.Ts = binary.LittleEndian.Uint32(raw)

	raw, err = r.Next(4)
	if err != nil {
		return Header{}, nil, offset, err
	}
	h.Sn = binary.LittleEndian.Uint32(raw)

	raw, err = r.Next(4)
	if err != nil {
		return Header{}, nil, offset, err
	}
	h.Una = binary.LittleEndian.Uint32(raw)

	raw, err = r.Next(4)
	if err != nil {
		return Header{}, nil, offset, err
	}
	h.Len = binary.LittleEndian.Uint32(raw)

	next := offset + headerSize + int(h.Len)
	if next > len(packet) {
		return Header{}, nil, offset, ErrBadLength
	}
	payload := packet[offset+headerSize : next]
	return h, payload, next, nil
}

func (StandardFormat) Prepare(buf []byte, hdr Header) {
	binary.LittleEndian.PutUint16(buf[6:8], hdr.Wnd)
	binary.LittleEndian.PutUint32(buf[8:12], hdr.Ts)
	binary.LittleEndian.PutUint32(buf[12:16], hdr.Sn)
	binary.LittleEndian.PutUint32(buf[16:20], hdr.Una)
}

func (f StandardFormat) Compose(buf []byte, hdr Header, payload []byte) error {
	hdr.Len = uint32(len(payload))
	var out []byte
	w := bufiox.NewBytesWriter(&out)

	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], hdr.Conv)
	if _, err := w.WriteBinary(tmp[:]); err != nil {
		return err
	}
	if _, err := w.WriteBinary([]byte{byte(hdr.Cmd)}); err != nil {
		return err
	}
	if _, err := w.WriteBinary([]byte{hdr.Frg}); err != nil {
		return err
	}
	var tmp2 [2]byte
	binary.LittleEndian.PutUint16(tmp2[:], hdr.Wnd)
	if _, err := w.WriteBinary(tmp2[:]); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(tmp[:], hdr.Ts)
	if _, err := w.WriteBinary(tmp[:]); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(tmp[:], hdr.Sn)
	if _, err := w.WriteBinary(tmp[:]); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(tmp[:], hdr.Una)
	if _, err := w.WriteBinary(tmp[:]); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(tmp[:], hdr.Len)
	if _, err := w.WriteBinary(tmp[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.WriteBinary(payload); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	copy(buf, out)
	return nil
}
