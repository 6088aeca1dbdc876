package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransportServiceNames(t *testing.T) {
	assert.Equal(t, "_turn._udp", TransportUDP.service())
	assert.Equal(t, "_turn._tcp", TransportTCP.service())
	assert.Equal(t, "_turns._tcp", TransportTLS.service())
}

func TestTransportDefaultPorts(t *testing.T) {
	assert.Equal(t, uint16(3478), TransportUDP.defaultPort())
	assert.Equal(t, uint16(3478), TransportTCP.defaultPort())
	assert.Equal(t, uint16(5349), TransportTLS.defaultPort())
}

func TestTargetString(t *testing.T) {
	tg := Target{Host: "198.51.100.4", Port: 3478}
	assert.Equal(t, "198.51.100.4:3478", tg.String())
}

func TestTrimTrailingDot(t *testing.T) {
	assert.Equal(t, "turn.example.org", trimTrailingDot("turn.example.org."))
	assert.Equal(t, "turn.example.org", trimTrailingDot("turn.example.org"))
}
