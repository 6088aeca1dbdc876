package framing

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUDPSplitterWholeDatagram(t *testing.T) {
	s := UDPSplitter{}
	n, ok := s.Frame([]byte{1, 2, 3, 4, 5})
	require.True(t, ok)
	assert.Equal(t, 5, n)
}

func TestUDPSplitterEmptyNotReady(t *testing.T) {
	s := UDPSplitter{}
	_, ok := s.Frame(nil)
	assert.False(t, ok)
}

func TestTCPSplitterSTUN(t *testing.T) {
	s := TCPSplitter{}
	// STUN header: top 2 bits zero, length field (bytes 2-3) = 4 (one
	// 4-byte attribute), total = 20 + 4 = 24.
	buf := make([]byte, 24)
	buf[0] = 0x00
	buf[2] = 0x00
	buf[3] = 0x04
	n, ok := s.Frame(buf)
	require.True(t, ok)
	assert.Equal(t, 24, n)
}

func TestTCPSplitterSTUNIncomplete(t *testing.T) {
	s := TCPSplitter{}
	buf := make([]byte, 10)
	buf[3] = 0x04 // claims a 24-byte total
	_, ok := s.Frame(buf)
	assert.False(t, ok)
}

func TestTCPSplitterChannelData(t *testing.T) {
	s := TCPSplitter{}
	// Channel number 0x4000 (top 2 bits nonzero), 3 bytes of data padded
	// to 4: total = (4+3+3) &^ 3 = 8.
	buf := []byte{0x40, 0x00, 0x00, 0x03, 'a', 'b', 'c', 0x00}
	n, ok := s.Frame(buf)
	require.True(t, ok)
	assert.Equal(t, 8, n)
}

func TestTCPSplitterChannelDataIncomplete(t *testing.T) {
	s := TCPSplitter{}
	buf := []byte{0x40, 0x00, 0x00, 0x03, 'a'}
	_, ok := s.Frame(buf)
	assert.False(t, ok)
}

// TestConsumedBytesInvariant checks that whenever TCPSplitter reports a
// frame, the reported length never exceeds the buffer it was given —
// the invariant the adapter's tcpBuf bookkeeping depends on.
func TestConsumedBytesInvariant(t *testing.T) {
	params := gopter.DefaultTestParameters()
	props := gopter.NewProperties(params)

	props.Property("TCPSplitter never reports more bytes than it was given", prop.ForAll(
		func(data []byte) bool {
			s := TCPSplitter{}
			n, ok := s.Frame(data)
			if !ok {
				return true
			}
			return n > 0 && n <= len(data)
		},
		gen.SliceOf(gen.UInt8Range(0, 255)),
	))

	props.TestingRun(t)
}
