package grpcframe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	frame, err := Encode(0, []byte("hello"))
	require.NoError(t, err)

	got, n, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, len(frame), n)
	assert.Equal(t, uint8(0), got.Flags)
	assert.Equal(t, "hello", string(got.Payload))
}

func TestDecodeIncomplete(t *testing.T) {
	frame, err := Encode(FlagCompressed, []byte("partial-payload"))
	require.NoError(t, err)

	_, _, err = Decode(frame[:len(frame)-3])
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestDecodeAllSplitsMultipleFrames(t *testing.T) {
	a, _ := Encode(0, []byte("first"))
	b, _ := Encode(0, []byte("second"))
	buf := append(append([]byte{}, a...), b...)
	buf = append(buf, 0x00) // trailing partial header byte

	frames, consumed, err := DecodeAll(buf)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, "first", string(frames[0].Payload))
	assert.Equal(t, "second", string(frames[1].Payload))
	assert.Equal(t, len(a)+len(b), consumed)
}

func TestTrailerParsing(t *testing.T) {
	var tr Trailers
	tr.ParseTrailerLine("grpc-status: 7")
	tr.ParseTrailerLine("grpc-message: permission denied")

	assert.True(t, tr.HasStatus)
	assert.Equal(t, 7, tr.Status)
	assert.Equal(t, "permission denied", tr.Message)
}
