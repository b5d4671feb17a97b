package radius

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPDURoundTrip(t *testing.T) {
	p := &PDU{
		Code:       CodeAcctRequest,
		Identifier: 7,
		Attributes: []Attribute{
			IntegerAttribute(TypeAcctStatusType, StatusStart),
			{Type: TypeCallingStationID, Value: []byte("00:11:22:33:44:55")},
		},
	}
	require.NoError(t, p.Sign(nil, "shared-secret"))

	buf, err := p.Marshal()
	require.NoError(t, err)

	got, err := Unmarshal(buf)
	require.NoError(t, err)
	assert.Equal(t, p.Code, got.Code)
	assert.Equal(t, p.Identifier, got.Identifier)
	assert.Equal(t, p.Authenticator, got.Authenticator)
	require.Len(t, got.Attributes, 2)
	assert.Equal(t, TypeAcctStatusType, got.Attributes[0].Type)

	ok, err := got.Verify(nil, "shared-secret")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = got.Verify(nil, "wrong-secret")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnmarshalRejectsShortPacket(t *testing.T) {
	_, err := Unmarshal([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrTooShort)
}

func TestUnmarshalRejectsLengthMismatch(t *testing.T) {
	p := &PDU{Code: CodeAcctRequest, Identifier: 1}
	buf, err := p.Marshal()
	require.NoError(t, err)
	buf = append(buf, 0xFF) // length field now disagrees

	_, err = Unmarshal(buf)
	assert.ErrorIs(t, err, ErrLength)
}
