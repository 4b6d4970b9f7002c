package frame

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLengthRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 254, 255, 256, 100000} {
		enc := EncodeLength(n)
		length, consumed, ok := DecodeLength(enc)
		require.True(t, ok, "n=%d", n)
		assert.Equal(t, n, length)
		assert.Equal(t, len(enc), consumed)
		assert.Equal(t, HeaderLen(n), consumed)
	}
}

func TestEncodeLength(t *testing.T) {
	assert.Equal(t, []byte{0x00}, EncodeLength(0))
	assert.Equal(t, []byte{0xFE}, EncodeLength(254))
	assert.Equal(t, []byte{0xFF, 0x00, 0x00, 0x00, 0xFF}, EncodeLength(255))
	assert.Equal(t, []byte{0xFF, 0x00, 0x01, 0x86, 0xA0}, EncodeLength(100000))
}

func TestDecodeLength_NeedMore(t *testing.T) {
	_, _, ok := DecodeLength(nil)
	assert.False(t, ok)

	for i := 1; i < MaxHeaderLen; i++ {
		_, consumed, ok := DecodeLength(EncodeLength(300)[:i])
		assert.False(t, ok, "prefix of %d bytes", i)
		assert.Zero(t, consumed)
	}
}

func TestDecodeLength_IgnoresPayload(t *testing.T) {
	length, consumed, ok := DecodeLength([]byte{3, 'a', 'b', 'c'})
	require.True(t, ok)
	assert.Equal(t, 3, length)
	assert.Equal(t, 1, consumed)
}

func TestAppendFrame(t *testing.T) {
	payload := bytes.Repeat([]byte{'x'}, 300)
	out := AppendFrame([]byte("prev"), payload)

	assert.Equal(t, []byte("prev"), out[:4])
	assert.Equal(t, EncodeLength(300), out[4:9])
	assert.Equal(t, payload, out[9:])
	assert.Equal(t, out[4:], Encode(payload))
}
