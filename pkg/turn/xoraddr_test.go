package turn

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXorAddrRoundTripIPv4(t *testing.T) {
	txID := TransactionID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	addr := &net.UDPAddr{IP: net.ParseIP("203.0.113.7").To4(), Port: 54321}

	encoded := encodeXorAddr(addr, txID)
	decoded, err := decodeXorAddr(encoded, txID)
	require.NoError(t, err)

	assert.True(t, decoded.IP.Equal(addr.IP))
	assert.Equal(t, addr.Port, decoded.Port)
}

func TestXorAddrRoundTripIPv6(t *testing.T) {
	txID := TransactionID{9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9}
	addr := &net.UDPAddr{IP: net.ParseIP("2001:db8::1"), Port: 443}

	encoded := encodeXorAddr(addr, txID)
	decoded, err := decodeXorAddr(encoded, txID)
	require.NoError(t, err)

	assert.True(t, decoded.IP.Equal(addr.IP))
	assert.Equal(t, addr.Port, decoded.Port)
}

func TestXorAddrDoesNotLeakPlaintextPort(t *testing.T) {
	txID := TransactionID{}
	addr := &net.UDPAddr{IP: net.ParseIP("198.51.100.2").To4(), Port: 4096}

	encoded := encodeXorAddr(addr, txID)
	plainPort := uint16(addr.Port)
	wirePort := uint16(encoded[2])<<8 | uint16(encoded[3])

	assert.NotEqual(t, plainPort, wirePort)
}
