// Package grpcframe implements the length-prefixed gRPC data-frame
// codec and grpc-status/grpc-message trailer parsing, grounded on
// original_source/Supplimentary/gRPC.h (the `struct gRPC` wire layout)
// and gRPCClient.c's HandleWrite/HandleHeader. Only the codec is
// reproduced (spec.md §1/§9: gRPC is "referenced but not reproduced"
// as a transport runtime) — no HTTP/2 stream, no client or server.
package grpcframe

import (
	"encoding/binary"
	"errors"
	"strconv"
	"strings"
)

const (
	FlagCompressed uint8 = 1 << 0

	headerSize     = 5 // flags(1) + length(4, big-endian)
	sizeLimit      = 1 << 24
	trailerStatus  = "grpc-status"
	trailerMessage = "grpc-message"
)

var (
	ErrTooShort    = errors.New("grpcframe: buffer shorter than frame header")
	ErrIncomplete  = errors.New("grpcframe: frame payload not fully buffered yet")
	ErrFrameTooBig = errors.New("grpcframe: frame exceeds size limit")
)

// Frame is one decoded gRPC data frame (struct gRPC: flags + length +
// payload, length is the payload size, big-endian, excluding the
// 5-byte header).
type Frame struct {
	Flags   uint8
	Payload []byte
}

// Encode prepends the 5-byte gRPC frame header to payload.
func Encode(flags uint8, payload []byte) ([]byte, error) {
	if len(payload) >= sizeLimit {
		return nil, ErrFrameTooBig
	}
	buf := make([]byte, headerSize+len(payload))
	buf[0] = flags
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(payload)))
	copy(buf[headerSize:], payload)
	return buf, nil
}

// Decode reads exactly one frame starting at the front of buf,
// mirroring HandleWrite's inbound-ring loop: returns the frame, the
// number of bytes it consumed, and ErrIncomplete if buf doesn't yet
// hold the whole frame (the caller should keep buffering and retry).
func Decode(buf []byte) (Frame, int, error) {
	if len(buf) < headerSize {
		return Frame{}, 0, ErrTooShort
	}
	length := binary.BigEndian.Uint32(buf[1:5])
	total := headerSize + int(length)
	if total >= sizeLimit {
		return Frame{}, 0, ErrFrameTooBig
	}
	if len(buf) < total {
		return Frame{}, 0, ErrIncomplete
	}
	payload := append([]byte(nil), buf[headerSize:total]...)
	return Frame{Flags: buf[0], Payload: payload}, total, nil
}

// DecodeAll repeatedly Decodes every complete frame in buf, returning
// the frames found and the number of leading bytes consumed (the
// caller keeps buf[consumed:] buffered for the next read, per
// HandleWrite's memmove-the-remainder pattern).
func DecodeAll(buf []byte) ([]Frame, int, error) {
	var frames []Frame
	consumed := 0
	for consumed < len(buf) {
		f, n, err := Decode(buf[consumed:])
		if err == ErrIncomplete || err == ErrTooShort {
			break
		}
		if err != nil {
			return frames, consumed, err
		}
		frames = append(frames, f)
		consumed += n
	}
	return frames, consumed, nil
}

// Trailers holds the parsed grpc-status/grpc-message trailer values
// HandleHeader extracts from the HTTP/2 trailer block (modeled here
// as already-split "key: value" header lines, independent of any HTTP
// library).
type Trailers struct {
	Status   int
	Message  string
	HasStatus bool
}

// ParseTrailerLine updates t from one trailer header line, matching
// HandleHeader's case-insensitive prefix match on "grpc-status: " /
// "grpc-message: ".
func (t *Trailers) ParseTrailerLine(line string) {
	key, value, ok := strings.Cut(line, ":")
	if !ok {
		return
	}
	key = strings.ToLower(strings.TrimSpace(key))
	value = strings.TrimSpace(value)

	switch key {
	case trailerStatus:
		if n, err := strconv.Atoi(value); err == nil {
			t.Status = n
			t.HasStatus = true
		}
	case trailerMessage:
		t.Message = value
	}
}
