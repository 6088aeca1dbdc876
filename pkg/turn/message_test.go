package turn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageEncodeDecodeRoundTrip(t *testing.T) {
	req, err := NewRequest(MsgAllocateRequest)
	require.NoError(t, err)
	req.AddRequestedTransport(17)
	req.AddUint32(AttrLifetime, 600)
	req.AddString(AttrUsername, "alice")

	encoded := req.Encode(nil)
	decoded, err := Decode(encoded)
	require.NoError(t, err)

	assert.Equal(t, req.Type, decoded.Type)
	assert.Equal(t, req.TxID, decoded.TxID)

	lt, ok := decoded.Uint32(AttrLifetime)
	require.True(t, ok)
	assert.Equal(t, uint32(600), lt)

	user, ok := decoded.String(AttrUsername)
	require.True(t, ok)
	assert.Equal(t, "alice", user)
}

func TestMessageEncodeWithIntegrityVerifies(t *testing.T) {
	req, err := NewRequest(MsgCreatePermissionRequest)
	require.NoError(t, err)
	req.AddString(AttrUsername, "bob")

	key := longTermKey("bob", "example.org", "s3cr3t")
	encoded := req.Encode(key)

	assert.True(t, verifyIntegrity(encoded, key))
	assert.False(t, verifyIntegrity(encoded, longTermKey("bob", "example.org", "wrong")))
}

func TestDecodeRejectsBadMagicCookie(t *testing.T) {
	req, err := NewRequest(MsgBindingRequest)
	require.NoError(t, err)
	encoded := req.Encode(nil)
	encoded[4] ^= 0xFF // corrupt the magic cookie

	_, err = Decode(encoded)
	assert.Error(t, err)
}

func TestDecodeRejectsTruncatedBody(t *testing.T) {
	req, err := NewRequest(MsgAllocateRequest)
	require.NoError(t, err)
	req.AddUint32(AttrLifetime, 600)
	encoded := req.Encode(nil)

	_, err = Decode(encoded[:len(encoded)-2])
	assert.Error(t, err)
}

func TestMessageTypeClassification(t *testing.T) {
	assert.True(t, MsgAllocateError.IsError())
	assert.False(t, MsgAllocateError.IsSuccess())
	assert.True(t, MsgAllocateSuccess.IsSuccess())
	assert.False(t, MsgAllocateSuccess.IsError())
}

func TestChannelNumberAttribute(t *testing.T) {
	req, err := NewRequest(MsgChannelBindRequest)
	require.NoError(t, err)
	req.AddChannelNumber(0x4001)

	encoded := req.Encode(nil)
	decoded, err := Decode(encoded)
	require.NoError(t, err)

	ch, ok := decoded.ChannelNumber()
	require.True(t, ok)
	assert.Equal(t, uint16(0x4001), ch)
}
