// Package radius implements the RFC 2865/2866 Accounting-Request /
// Accounting-Response wire framing and its MD5 request authenticator,
// grounded on original_source/Examples/AAA/RADIUSTools.c and RADIUS.h.
// Only the codec is reproduced (spec.md §1/§9: AAA is "referenced but
// not reproduced" as a runtime) — there is no client or server loop
// here, just PDU encode/decode and authenticator compute/verify.
package radius

import (
	"crypto/md5"
	"encoding/binary"
	"errors"
)

const (
	CodeAcctRequest  uint8 = 4
	CodeAcctResponse uint8 = 5
)

// Accounting attribute types (RFC 2865/2866/3162/6911).
const (
	TypeFramedIP         uint8 = 8
	TypeFramedIP6        uint8 = 168
	TypeFramedIP6Prefix  uint8 = 97
	TypeCallingStationID uint8 = 31

	TypeAcctStatusType     uint8 = 40
	TypeAcctInputOctets    uint8 = 42
	TypeAcctOutputOctets   uint8 = 43
	TypeAcctSessionID      uint8 = 44
	TypeAcctSessionTime    uint8 = 46
	TypeAcctInputPackets   uint8 = 47
	TypeAcctOutputPackets  uint8 = 48
	TypeAcctTerminateCause uint8 = 49
)

const (
	StatusStart  uint32 = 1
	StatusStop   uint32 = 2
	StatusUpdate uint32 = 3
)

const headerSize = 20 // code(1) + identifier(1) + length(2) + authenticator(16)

var (
	ErrTooShort  = errors.New("radius: packet shorter than header")
	ErrLength    = errors.New("radius: length field disagrees with packet size")
	ErrAttrShort = errors.New("radius: truncated attribute")
)

// Attribute is one type-length-value entry (RADIUSAttribute in the C
// source; length there includes the 2-byte type+length prefix).
type Attribute struct {
	Type  uint8
	Value []byte
}

// PDU is one Accounting-Request/Response unit (RADIUSDataUnit).
type PDU struct {
	Code          uint8
	Identifier    uint8
	Authenticator [16]byte
	Attributes    []Attribute
}

// IntegerAttribute builds a 4-byte big-endian integer attribute
// (PackRADIUSIntegerAttribute: value is network-order, length is
// always 6 — 2-byte header + 4-byte value).
func IntegerAttribute(typ uint8, value uint32) Attribute {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, value)
	return Attribute{Type: typ, Value: v}
}

// Marshal encodes the PDU into wire form; Authenticator is written
// verbatim (callers compute it via Sign before marshaling a request,
// or leave it zero for MakeAuthenticator's zero-fill convention).
func (p *PDU) Marshal() ([]byte, error) {
	size := headerSize
	for _, a := range p.Attributes {
		if len(a.Value) > 253 {
			return nil, errors.New("radius: attribute value too long")
		}
		size += 2 + len(a.Value)
	}
	buf := make([]byte, size)
	buf[0] = p.Code
	buf[1] = p.Identifier
	binary.BigEndian.PutUint16(buf[2:4], uint16(size))
	copy(buf[4:20], p.Authenticator[:])

	off := headerSize
	for _, a := range p.Attributes {
		buf[off] = a.Type
		buf[off+1] = uint8(2 + len(a.Value))
		copy(buf[off+2:], a.Value)
		off += 2 + len(a.Value)
	}
	return buf, nil
}

// Unmarshal parses buf into a PDU (mirrors RADIUSDataUnit's packed
// layout: 1/1/2/16-byte header followed by TLV attributes).
func Unmarshal(buf []byte) (*PDU, error) {
	if len(buf) < headerSize {
		return nil, ErrTooShort
	}
	size := int(binary.BigEndian.Uint16(buf[2:4]))
	if size != len(buf) {
		return nil, ErrLength
	}

	p := &PDU{Code: buf[0], Identifier: buf[1]}
	copy(p.Authenticator[:], buf[4:20])

	off := headerSize
	for off < len(buf) {
		if off+2 > len(buf) {
			return nil, ErrAttrShort
		}
		typ := buf[off]
		length := int(buf[off+1])
		if length < 2 || off+length > len(buf) {
			return nil, ErrAttrShort
		}
		p.Attributes = append(p.Attributes, Attribute{Type: typ, Value: append([]byte(nil), buf[off+2:off+length]...)})
		off += length
	}
	return p, nil
}

// Sign computes the MD5 request authenticator the way
// MakeRADIUSAuthenticator does: MD5(code||id||length || prevAuth ||
// body || secret), and writes it into p.Authenticator. prevAuth is
// nil for the zero-filled convention the C source uses when no prior
// authenticator chains in (e.g. the initial Access-Request-less
// Accounting-Request case).
func (p *PDU) Sign(prevAuth []byte, secret string) error {
	raw, err := p.Marshal()
	if err != nil {
		return err
	}
	if prevAuth == nil {
		prevAuth = make([]byte, 16)
	}
	h := md5.New()
	h.Write(raw[:4])
	h.Write(prevAuth)
	h.Write(raw[20:])
	h.Write([]byte(secret))
	sum := h.Sum(nil)
	copy(p.Authenticator[:], sum)
	return nil
}

// Verify recomputes the authenticator the way CheckRADIUSAuthenticator
// does and reports whether it matches p.Authenticator.
func (p *PDU) Verify(prevAuth []byte, secret string) (bool, error) {
	want := p.Authenticator
	cp := *p
	if err := cp.Sign(prevAuth, secret); err != nil {
		return false, err
	}
	return cp.Authenticator == want, nil
}
