package turn

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport captures every packet the session sends and lets the test
// hand back a response by decoding the captured request's transaction ID.
type fakeTransport struct {
	sent [][]byte
}

func (f *fakeTransport) send(pkt []byte) error {
	f.sent = append(f.sent, append([]byte(nil), pkt...))
	return nil
}

func (f *fakeTransport) lastRequest(t *testing.T) *Message {
	t.Helper()
	require.NotEmpty(t, f.sent)
	m, err := Decode(f.sent[len(f.sent)-1])
	require.NoError(t, err)
	return m
}

func newTestSession(cb Callbacks) (*Session, *fakeTransport) {
	ft := &fakeTransport{}
	cb.Send = ft.send
	s := NewSession(SessionConfig{Creds: StaticCredentialStore{Username: "alice", Password: "secret"}}, cb)
	return s, ft
}

func TestSessionAllocateSuccess(t *testing.T) {
	var states []State
	s, ft := newTestSession(Callbacks{
		OnState: func(st State) { states = append(states, st) },
	})

	s.SetServerResolved(&net.UDPAddr{IP: net.ParseIP("203.0.113.1"), Port: 3478})
	require.NoError(t, s.Alloc())

	req := ft.lastRequest(t)
	assert.Equal(t, MsgAllocateRequest, req.Type)

	resp := &Message{Type: MsgAllocateSuccess, TxID: req.TxID}
	relayed := &net.UDPAddr{IP: net.ParseIP("198.51.100.9").To4(), Port: 50000}
	mapped := &net.UDPAddr{IP: net.ParseIP("192.0.2.5").To4(), Port: 60000}
	resp.Add(AttrXorRelayedAddress, encodeXorAddr(relayed, resp.TxID))
	resp.Add(AttrXorMappedAddress, encodeXorAddr(mapped, resp.TxID))
	resp.AddUint32(AttrLifetime, 600)

	s.OnRxPkt(resp.Encode(nil))

	assert.Equal(t, StateReady, s.State())
	require.NotNil(t, s.RelayedAddr())
	assert.True(t, s.RelayedAddr().IP.Equal(relayed.IP))
	assert.Equal(t, relayed.Port, s.RelayedAddr().Port)
	assert.Contains(t, states, StateAllocating)
	assert.Contains(t, states, StateReady)
}

func TestSessionAllocate401ThenSuccess(t *testing.T) {
	s, ft := newTestSession(Callbacks{})
	s.SetServerResolved(&net.UDPAddr{IP: net.ParseIP("203.0.113.1"), Port: 3478})
	require.NoError(t, s.Alloc())

	first := ft.lastRequest(t)
	challenge := &Message{Type: MsgAllocateError, TxID: first.TxID}
	challenge.AddErrorCode(401, "Unauthorized")
	challenge.AddString(AttrRealm, "example.org")
	challenge.AddString(AttrNonce, "abc123")
	s.OnRxPkt(challenge.Encode(nil))

	// session should have retried with credentials attached.
	retry := ft.lastRequest(t)
	assert.NotEqual(t, first.TxID, retry.TxID)
	user, ok := retry.String(AttrUsername)
	require.True(t, ok)
	assert.Equal(t, "alice", user)

	success := &Message{Type: MsgAllocateSuccess, TxID: retry.TxID}
	relayed := &net.UDPAddr{IP: net.ParseIP("198.51.100.9").To4(), Port: 50000}
	success.Add(AttrXorRelayedAddress, encodeXorAddr(relayed, success.TxID))
	success.AddUint32(AttrLifetime, 600)
	key := longTermKey("alice", "example.org", "secret")
	s.OnRxPkt(success.Encode(key))

	assert.Equal(t, StateReady, s.State())
}

func TestSessionChannelNumberAllocationIsSequential(t *testing.T) {
	s, _ := newTestSession(Callbacks{})

	first, ok := s.allocateChannelNumber()
	require.True(t, ok)
	second, ok := s.allocateChannelNumber()
	require.True(t, ok)

	assert.Equal(t, uint16(channelNumberBase), first)
	assert.Equal(t, first+1, second)
}

func TestSessionSendPrefersChannelDataOverIndication(t *testing.T) {
	s, ft := newTestSession(Callbacks{})
	peer := &net.UDPAddr{IP: net.ParseIP("198.51.100.50").To4(), Port: 9000}

	// No channel bound yet: Send should produce a Send-indication STUN
	// message, not ChannelData.
	require.NoError(t, s.Send(peer, []byte("hello")))
	msg := ft.lastRequest(t)
	assert.Equal(t, MsgSendIndication, msg.Type)

	// Fake a completed channel binding and retry: now it should use
	// ChannelData framing (top 2 bits of byte 0 nonzero).
	s.channelsByPeer[peer.String()] = &channelBinding{channel: 0x4000, peer: peer.String()}
	require.NoError(t, s.Send(peer, []byte("hello")))
	raw := ft.sent[len(ft.sent)-1]
	assert.Equal(t, byte(0x40), raw[0])
}

func TestSessionCreatePermissionSuccess(t *testing.T) {
	s, ft := newTestSession(Callbacks{})
	peer := &net.UDPAddr{IP: net.ParseIP("198.51.100.20").To4(), Port: 7000}

	require.NoError(t, s.CreatePermission(peer))
	req := ft.lastRequest(t)
	assert.Equal(t, MsgCreatePermissionRequest, req.Type)

	resp := &Message{Type: MsgCreatePermissionSuccess, TxID: req.TxID}
	s.OnRxPkt(resp.Encode(nil))

	_, ok := s.perms[peer.IP.String()]
	assert.True(t, ok)
}

func TestSessionBindChannelSuccessNotifiesApp(t *testing.T) {
	var boundPeer *net.UDPAddr
	var boundChan uint16
	s, ft := newTestSession(Callbacks{
		OnChannelBound: func(peer *net.UDPAddr, ch uint16) {
			boundPeer = peer
			boundChan = ch
		},
	})
	peer := &net.UDPAddr{IP: net.ParseIP("198.51.100.30").To4(), Port: 8000}

	require.NoError(t, s.BindChannel(peer))
	req := ft.lastRequest(t)
	assert.Equal(t, MsgChannelBindRequest, req.Type)
	ch, ok := req.ChannelNumber()
	require.True(t, ok)

	resp := &Message{Type: MsgChannelBindSuccess, TxID: req.TxID}
	s.OnRxPkt(resp.Encode(nil))

	require.NotNil(t, boundPeer)
	assert.Equal(t, ch, boundChan)
	assert.True(t, boundPeer.IP.Equal(peer.IP))
}

func TestSessionOnChannelDataDispatchesToOnRxData(t *testing.T) {
	var gotData []byte
	var gotPeer *net.UDPAddr
	s, _ := newTestSession(Callbacks{
		OnRxData: func(data []byte, peer *net.UDPAddr) {
			gotData = data
			gotPeer = peer
		},
	})
	peer := &net.UDPAddr{IP: net.ParseIP("198.51.100.50").To4(), Port: 9000}
	s.channelsByNum[0x4000] = &channelBinding{channel: 0x4000, peer: peer.String()}

	payload := []byte("xyz")
	frame := []byte{0x40, 0x00, 0x00, byte(len(payload))}
	frame = append(frame, payload...)
	frame = append(frame, 0x00) // padding to 4-byte boundary

	consumed := s.OnRxPkt(frame)
	assert.Equal(t, len(frame), consumed)
	assert.Equal(t, payload, gotData)
	require.NotNil(t, gotPeer)
	assert.Equal(t, peer.Port, gotPeer.Port)
}
