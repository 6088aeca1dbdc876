// Package turn implements the TURN client session state machine and the
// adapter/facade that glue it to a socket. Grounded on turn_sock.c (session
// lifecycle, retry, destroy sequencing) and the teacher's
// pkg/p2p/turn/turn_server.go TURNClient (struct shape, goroutine
// conventions), with real RFC 5389/5766 protocol semantics in place of the
// teacher's mock Allocate/CreatePermission/BindChannel bodies.
package turn

import (
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	turnerrors "github.com/khryptorgraphics/ollamamax/turnclient/pkg/errors"
	"github.com/khryptorgraphics/ollamamax/turnclient/pkg/timerheap"
	"github.com/khryptorgraphics/ollamamax/turnclient/pkg/turnmetrics"
)

// State is the TURN session lifecycle state, as spec.md §4.3's table.
type State int

const (
	StateNull State = iota
	StateResolving
	StateResolved
	StateAllocating
	StateReady
	StateDeallocating
	StateDestroying
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateNull:
		return "NULL"
	case StateResolving:
		return "RESOLVING"
	case StateResolved:
		return "RESOLVED"
	case StateAllocating:
		return "ALLOCATING"
	case StateReady:
		return "READY"
	case StateDeallocating:
		return "DEALLOCATING"
	case StateDestroying:
		return "DESTROYING"
	case StateDestroyed:
		return "DESTROYED"
	default:
		return "UNKNOWN"
	}
}

const (
	defaultAllocLifetime = 600 * time.Second
	permissionLifetime   = 300 * time.Second
	channelLifetime      = 600 * time.Second
	channelNumberBase    = 0x4000
	channelNumberMax     = 0x7FFF

	// stunRTOSchedule is the retransmission backoff turn_sock.c's
	// underlying transaction layer uses: RFC 5389 §7.2.1's Ti-doubling
	// schedule, capped at 7 sends before giving up.
)

var stunRTOSchedule = []time.Duration{
	500 * time.Millisecond,
	1000 * time.Millisecond,
	2000 * time.Millisecond,
	4000 * time.Millisecond,
	8000 * time.Millisecond,
	16000 * time.Millisecond,
	// 7th send has no further retransmit; timeout fires after this wait.
	8000 * time.Millisecond,
}

// Callbacks are the events the session delivers to its adapter, mirroring
// turn_on_send_pkt/turn_on_channel_bound/turn_on_rx_data/turn_on_state.
type Callbacks struct {
	// Send transmits a fully encoded STUN/ChannelData frame to the server
	// over whatever socket the adapter currently has connected.
	Send func(pkt []byte) error

	// OnState is invoked on every transition, new state only (matching
	// turn_on_state's single-argument callback).
	OnState func(State)

	// OnChannelBound fires once a ChannelBind transaction succeeds.
	OnChannelBound func(peer *net.UDPAddr, channel uint16)

	// OnRxData delivers application data received via a Data indication
	// or ChannelData frame from peer.
	OnRxData func(data []byte, peer *net.UDPAddr)
}

type pendingTx struct {
	req     *Message
	onDone  func(resp *Message, err error)
	attempt int
	timer   *timerheap.Entry
}

type permission struct {
	expires time.Time
	timer   *timerheap.Entry
}

type channelBinding struct {
	channel uint16
	peer    string // net.UDPAddr.String()
	expires time.Time
	timer   *timerheap.Entry
}

// Session implements the TURN client state machine.
type Session struct {
	mu sync.Mutex

	state State
	cb    Callbacks
	creds CredentialStore
	timers *timerheap.Service
	metrics *turnmetrics.Metrics

	// long-term credential state, populated from the first 401 challenge.
	username string
	realm    string
	nonce    string
	key      []byte

	serverAddr   *net.UDPAddr
	relayedAddr  *net.UDPAddr
	mappedAddr   *net.UDPAddr
	lifetime     time.Duration
	refreshTimer *timerheap.Entry

	softwareName string

	pending map[TransactionID]*pendingTx

	perms map[string]*permission // keyed by peer IP (no port: RFC 5766 §9.1)

	channelsByPeer map[string]*channelBinding
	channelsByNum  map[uint16]*channelBinding
	nextChannel    uint16
	freeChannels   []uint16

	// inCallback + pending commands stand in for turn_sock.c's recursive
	// mutex: Go's sync.Mutex is not reentrant, so a command issued by the
	// application from inside one of the Callbacks above (e.g. calling
	// Destroy from OnState) is queued here and drained once the
	// in-progress callback returns, instead of deadlocking or reentering
	// partially-updated state.
	inCallback  bool
	pendingCmds []func()
}

// SessionConfig configures a new Session.
type SessionConfig struct {
	Creds    CredentialStore
	Timers   *timerheap.Service
	Metrics  *turnmetrics.Metrics
	Lifetime time.Duration // 0 defaults to 600s

	// SoftwareName, if set, is sent as the SOFTWARE attribute on every
	// request (RFC 5389 §15.10), matching pj_turn_sock_set_software_name.
	SoftwareName string
}

// NewSession constructs a Session in StateNull.
func NewSession(cfg SessionConfig, cb Callbacks) *Session {
	lifetime := cfg.Lifetime
	if lifetime <= 0 {
		lifetime = defaultAllocLifetime
	}
	return &Session{
		state:          StateNull,
		cb:             cb,
		creds:          cfg.Creds,
		timers:         cfg.Timers,
		metrics:        cfg.Metrics,
		lifetime:       lifetime,
		pending:        make(map[TransactionID]*pendingTx),
		perms:          make(map[string]*permission),
		channelsByPeer: make(map[string]*channelBinding),
		channelsByNum:  make(map[uint16]*channelBinding),
		nextChannel:    channelNumberBase,
		softwareName:   cfg.SoftwareName,
	}
}

// SetSoftwareName updates the SOFTWARE attribute value sent on future
// requests.
func (s *Session) SetSoftwareName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.softwareName = name
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// run executes fn while holding the session lock, respecting the
// inCallback/pendingCmds reentrancy guard: if fn is invoked from within a
// callback already holding the lock's "logical" ownership, it is queued
// instead of deadlocking.
func (s *Session) run(fn func()) {
	s.mu.Lock()
	if s.inCallback {
		s.pendingCmds = append(s.pendingCmds, fn)
		s.mu.Unlock()
		return
	}
	s.inCallback = true
	fn()
	s.drainPending()
	s.inCallback = false
	s.mu.Unlock()
}

// drainPending runs queued commands accumulated while inCallback was true.
// Must be called with s.mu held.
func (s *Session) drainPending() {
	for len(s.pendingCmds) > 0 {
		next := s.pendingCmds[0]
		s.pendingCmds = s.pendingCmds[1:]
		next()
	}
}

func (s *Session) setState(st State) {
	s.state = st
	cb := s.cb.OnState
	if cb != nil {
		// Release the lock across the callback the same way turn_sock.c
		// notifies its application before touching the socket: the
		// callback may call back into the session (e.g. Destroy), which
		// run() above queues rather than deadlocks on.
		s.mu.Unlock()
		cb(st)
		s.mu.Lock()
	}
}

// SetServerResolved moves the session to RESOLVED once the adapter's
// resolver has produced a server address. The session stays in NULL while
// the lookup runs; it does not pass through RESOLVING. The adapter then
// (re)creates the socket and, once connected, calls Alloc.
func (s *Session) SetServerResolved(addr *net.UDPAddr) {
	s.run(func() {
		s.serverAddr = addr
		s.setState(StateResolved)
	})
}

// Alloc sends an Allocate request. Called by the adapter once the socket
// is connected.
func (s *Session) Alloc() error {
	var sendErr error
	s.run(func() {
		s.setState(StateAllocating)
		sendErr = s.sendAllocate(false)
	})
	return sendErr
}

func (s *Session) sendAllocate(authed bool) error {
	req, err := NewRequest(MsgAllocateRequest)
	if err != nil {
		return err
	}
	s.attachSoftware(req)
	req.AddRequestedTransport(17) // UDP, RFC 5766 §14.7
	req.AddUint32(AttrLifetime, uint32(s.lifetime.Seconds()))
	if authed {
		s.attachAuth(req)
	}
	return s.sendRequest(req, func(resp *Message, err error) {
		s.handleAllocateResponse(resp, err)
	})
}

func (s *Session) handleAllocateResponse(resp *Message, err error) {
	if err != nil {
		s.failAllocate(err)
		return
	}
	if resp.Type.IsError() {
		code, reason, _ := resp.ErrorCode()
		if s.handleChallenge(code, resp, func() { s.sendAllocate(true) }) {
			return
		}
		if code == 300 {
			if alt, ok := resp.Get(AttrAlternateServer); ok {
				if addr, derr := decodeXorAddr(alt, resp.TxID); derr == nil {
					s.serverAddr = addr
					s.setState(StateResolved)
					return
				}
			}
		}
		if s.metrics != nil {
			s.metrics.AllocationFailures.Inc()
		}
		s.failAllocate(turnerrors.Of("turn.Alloc", turnerrors.KindAllocRejected, fmt.Errorf("%d %s", code, reason)))
		return
	}

	if raddr, ok := resp.Get(AttrXorRelayedAddress); ok {
		if addr, derr := decodeXorAddr(raddr, resp.TxID); derr == nil {
			s.relayedAddr = addr
		}
	}
	if maddr, ok := resp.Get(AttrXorMappedAddress); ok {
		if addr, derr := decodeXorAddr(maddr, resp.TxID); derr == nil {
			s.mappedAddr = addr
		}
	}
	if lt, ok := resp.Uint32(AttrLifetime); ok {
		s.lifetime = time.Duration(lt) * time.Second
	}
	if s.metrics != nil {
		s.metrics.AllocationsTotal.Inc()
	}
	s.scheduleRefresh()
	s.setState(StateReady)
}

func (s *Session) failAllocate(err error) {
	s.setState(StateDestroying)
	_ = err // not passed on: the application sees the failure only as the DESTROYING transition
}

// scheduleRefresh arms the Refresh timer at lifetime/2 minus jitter in
// [0, lifetime/10), matching spec.md's refresh schedule. Jitter is not
// security sensitive (only the transaction ID is), so math/rand/v2
// suffices here.
func (s *Session) scheduleRefresh() {
	if s.timers == nil {
		return
	}
	jitter := time.Duration(rand.Int64N(int64(s.lifetime / 10)))
	delay := s.lifetime/2 - jitter
	s.refreshTimer = s.timers.Schedule(delay, func() {
		s.run(func() { s.sendRefresh(s.lifetime, false) })
	})
}

// Refresh explicitly refreshes (or, with lifetime 0, releases) the
// allocation.
func (s *Session) Refresh(lifetime time.Duration) error {
	var sendErr error
	s.run(func() { sendErr = s.sendRefresh(lifetime, false) })
	return sendErr
}

func (s *Session) sendRefresh(lifetime time.Duration, authed bool) error {
	req, err := NewRequest(MsgRefreshRequest)
	if err != nil {
		return err
	}
	s.attachSoftware(req)
	req.AddUint32(AttrLifetime, uint32(lifetime.Seconds()))
	if authed {
		s.attachAuth(req)
	}
	releasing := lifetime == 0
	err = s.sendRequest(req, func(resp *Message, err error) {
		s.handleRefreshResponse(resp, err, releasing)
	})
	if err != nil && releasing {
		s.setState(StateDestroying)
	}
	return err
}

func (s *Session) handleRefreshResponse(resp *Message, err error, releasing bool) {
	if err != nil {
		if releasing {
			s.setState(StateDestroying)
		}
		return
	}
	if resp.Type.IsError() {
		code, _, _ := resp.ErrorCode()
		retryLifetime := s.lifetime
		if releasing {
			retryLifetime = 0
		}
		if s.handleChallenge(code, resp, func() { s.sendRefresh(retryLifetime, true) }) {
			return
		}
		if releasing {
			s.setState(StateDestroying)
		}
		return
	}
	if s.metrics != nil {
		s.metrics.RefreshesTotal.Inc()
	}
	if releasing {
		s.setState(StateDeallocating)
		s.setState(StateDestroying)
		return
	}
	if lt, ok := resp.Uint32(AttrLifetime); ok {
		s.lifetime = time.Duration(lt) * time.Second
	}
	s.scheduleRefresh()
}

// CreatePermission installs a permission for peer's IP address.
func (s *Session) CreatePermission(peer *net.UDPAddr) error {
	var sendErr error
	s.run(func() { sendErr = s.sendCreatePermission(peer, false) })
	return sendErr
}

func (s *Session) sendCreatePermission(peer *net.UDPAddr, authed bool) error {
	req, err := NewRequest(MsgCreatePermissionRequest)
	if err != nil {
		return err
	}
	s.attachSoftware(req)
	req.Add(AttrXorPeerAddress, encodeXorAddr(peer, req.TxID))
	if authed {
		s.attachAuth(req)
	}
	return s.sendRequest(req, func(resp *Message, err error) {
		s.handleCreatePermissionResponse(peer, resp, err)
	})
}

func (s *Session) handleCreatePermissionResponse(peer *net.UDPAddr, resp *Message, err error) {
	if err != nil {
		return
	}
	if resp.Type.IsError() {
		code, _, _ := resp.ErrorCode()
		s.handleChallenge(code, resp, func() { s.sendCreatePermission(peer, true) })
		return
	}
	key := peer.IP.String()
	p := s.perms[key]
	if p == nil {
		p = &permission{}
		s.perms[key] = p
	}
	p.expires = time.Now().Add(permissionLifetime)
	if s.timers != nil {
		if p.timer != nil {
			s.timers.Cancel(p.timer)
		}
		p.timer = s.timers.Schedule(permissionLifetime*9/10, func() {
			s.run(func() { s.sendCreatePermission(peer, false) })
		})
	}
	if s.metrics != nil {
		s.metrics.PermissionsActive.Set(float64(len(s.perms)))
	}
}

// BindChannel binds a channel number to peer, allocating the next free
// number from [0x4000, 0x7FFF] (reusing released numbers first).
func (s *Session) BindChannel(peer *net.UDPAddr) error {
	var sendErr error
	s.run(func() {
		ch, ok := s.allocateChannelNumber()
		if !ok {
			sendErr = turnerrors.Of("turn.BindChannel", turnerrors.KindInvalid, fmt.Errorf("no free channel numbers"))
			return
		}
		sendErr = s.sendChannelBind(ch, peer, false)
	})
	return sendErr
}

func (s *Session) allocateChannelNumber() (uint16, bool) {
	if n := len(s.freeChannels); n > 0 {
		ch := s.freeChannels[n-1]
		s.freeChannels = s.freeChannels[:n-1]
		return ch, true
	}
	if s.nextChannel > channelNumberMax {
		return 0, false
	}
	ch := s.nextChannel
	s.nextChannel++
	return ch, true
}

func (s *Session) sendChannelBind(ch uint16, peer *net.UDPAddr, authed bool) error {
	req, err := NewRequest(MsgChannelBindRequest)
	if err != nil {
		return err
	}
	s.attachSoftware(req)
	req.AddChannelNumber(ch)
	req.Add(AttrXorPeerAddress, encodeXorAddr(peer, req.TxID))
	if authed {
		s.attachAuth(req)
	}
	return s.sendRequest(req, func(resp *Message, err error) {
		s.handleChannelBindResponse(ch, peer, resp, err)
	})
}

func (s *Session) handleChannelBindResponse(ch uint16, peer *net.UDPAddr, resp *Message, err error) {
	if err != nil {
		return
	}
	if resp.Type.IsError() {
		code, _, _ := resp.ErrorCode()
		s.handleChallenge(code, resp, func() { s.sendChannelBind(ch, peer, true) })
		return
	}
	cb := &channelBinding{channel: ch, peer: peer.String(), expires: time.Now().Add(channelLifetime)}
	s.channelsByNum[ch] = cb
	s.channelsByPeer[peer.String()] = cb
	if s.timers != nil {
		cb.timer = s.timers.Schedule(channelLifetime*9/10, func() {
			s.run(func() { s.sendChannelBind(ch, peer, false) })
		})
	}
	if s.metrics != nil {
		s.metrics.ChannelsActive.Set(float64(len(s.channelsByNum)))
	}
	if s.cb.OnChannelBound != nil {
		s.cb.OnChannelBound(peer, ch)
	}
}

// Send transmits data to peer, preferring an existing channel binding
// (ChannelData) over a Send indication, per spec.md's send-path rule.
func (s *Session) Send(peer *net.UDPAddr, data []byte) error {
	var sendErr error
	s.run(func() {
		if cb, ok := s.channelsByPeer[peer.String()]; ok {
			sendErr = s.sendChannelData(cb.channel, data)
			return
		}
		sendErr = s.sendIndication(peer, data)
	})
	return sendErr
}

func (s *Session) sendChannelData(ch uint16, data []byte) error {
	header := make([]byte, 4)
	header[0] = byte(ch >> 8)
	header[1] = byte(ch)
	header[2] = byte(len(data) >> 8)
	header[3] = byte(len(data))
	pkt := append(header, data...)
	if pad := (4 - len(data)%4) % 4; pad > 0 {
		pkt = append(pkt, make([]byte, pad)...)
	}
	if err := s.cb.Send(pkt); err != nil {
		return turnerrors.Of("turn.Send", turnerrors.KindConnectFailed, err)
	}
	if s.metrics != nil {
		s.metrics.BytesSent.Add(float64(len(data)))
	}
	return nil
}

func (s *Session) sendIndication(peer *net.UDPAddr, data []byte) error {
	msg, err := NewRequest(MsgSendIndication)
	if err != nil {
		return err
	}
	msg.Add(AttrXorPeerAddress, encodeXorAddr(peer, msg.TxID))
	msg.Add(AttrData, data)
	pkt := msg.Encode(nil)
	if err := s.cb.Send(pkt); err != nil {
		return turnerrors.Of("turn.Send", turnerrors.KindConnectFailed, err)
	}
	if s.metrics != nil {
		s.metrics.BytesSent.Add(float64(len(data)))
	}
	return nil
}

// OnRxPkt processes one complete inbound frame (already isolated by
// pkg/framing: either a whole STUN message or a whole ChannelData frame).
// It returns the number of bytes consumed, matching turn_sock.c's
// pj_turn_session_on_rx_pkt contract — the adapter passes the single
// frame's length, not the whole read buffer, per the Open-Question
// resolution in DESIGN.md.
func (s *Session) OnRxPkt(buf []byte) (consumed int) {
	s.run(func() { consumed = s.onRxPktLocked(buf) })
	return consumed
}

func (s *Session) onRxPktLocked(buf []byte) int {
	if len(buf) < 4 {
		return 0
	}
	top2 := buf[0] >> 6
	if top2 != 0 {
		return s.onChannelData(buf)
	}
	msg, err := Decode(buf)
	if err != nil {
		if s.metrics != nil {
			s.metrics.PacketsDropped.Inc()
		}
		return len(buf)
	}
	return s.onStunMessage(buf, msg)
}

func (s *Session) onChannelData(buf []byte) int {
	if len(buf) < 4 {
		return 0
	}
	ch := uint16(buf[0])<<8 | uint16(buf[1])
	length := int(buf[2])<<8 | int(buf[3])
	total := (4 + length + 3) &^ 3
	if len(buf) < total {
		return 0
	}
	cb := s.channelsByNum[ch]
	if cb == nil {
		if s.metrics != nil {
			s.metrics.PacketsDropped.Inc()
		}
		return total
	}
	peerAddr, err := net.ResolveUDPAddr("udp", cb.peer)
	if err == nil && s.cb.OnRxData != nil {
		data := append([]byte(nil), buf[4:4+length]...)
		s.cb.OnRxData(data, peerAddr)
		if s.metrics != nil {
			s.metrics.BytesReceived.Add(float64(length))
		}
	}
	return total
}

func (s *Session) onStunMessage(raw []byte, msg *Message) int {
	if msg.Type == MsgDataIndication {
		peerVal, okPeer := msg.Get(AttrXorPeerAddress)
		dataVal, okData := msg.Get(AttrData)
		if okPeer && okData {
			if addr, derr := decodeXorAddr(peerVal, msg.TxID); derr == nil && s.cb.OnRxData != nil {
				s.cb.OnRxData(dataVal, addr)
				if s.metrics != nil {
					s.metrics.BytesReceived.Add(float64(len(dataVal)))
				}
			}
		}
		return len(raw)
	}

	pending, ok := s.pending[msg.TxID]
	if !ok {
		return len(raw)
	}
	if s.key != nil {
		if !verifyIntegrity(raw, s.key) && !msg.Type.IsError() {
			return len(raw)
		}
	}
	delete(s.pending, msg.TxID)
	if pending.timer != nil && s.timers != nil {
		s.timers.Cancel(pending.timer)
	}
	pending.onDone(msg, nil)
	return len(raw)
}

// handleChallenge answers a 401 (auth required) or 438 (stale nonce) error
// by recording REALM/NONCE, deriving the long-term key and invoking retry.
// A 401 that arrives once a nonce is already recorded is not retried, nor
// is a challenge for which the CredentialStore has no credential: it
// returns false and the caller handles the response as a final error (for
// Allocate, the session moves to DESTROYING). A 438 is retried each time
// it arrives; those retries are not counted.
func (s *Session) handleChallenge(code int, resp *Message, retry func()) bool {
	if code != 401 && code != 438 {
		return false
	}
	realm, _ := resp.String(AttrRealm)
	nonce, _ := resp.String(AttrNonce)
	alreadyChallenged := s.nonce != ""
	s.realm = realm
	s.nonce = nonce

	username, password, ok := s.credential(realm)
	if !ok {
		return false
	}
	s.username = username
	s.key = longTermKey(username, realm, password)

	if alreadyChallenged && code == 401 {
		// second 401 after we already answered one: give up.
		return false
	}
	retry()
	return true
}

func (s *Session) credential(realm string) (string, string, bool) {
	if s.creds == nil {
		return "", "", false
	}
	return s.creds.Credential(realm)
}

func (s *Session) attachAuth(req *Message) {
	if s.username == "" {
		return
	}
	req.AddString(AttrUsername, s.username)
	req.AddString(AttrRealm, s.realm)
	req.AddString(AttrNonce, s.nonce)
}

// attachSoftware adds the SOFTWARE attribute if one has been configured.
// Called at the start of each request builder (sendAllocate etc.) so it is
// covered by MESSAGE-INTEGRITY once a long-term credential is attached.
func (s *Session) attachSoftware(req *Message) {
	if s.softwareName != "" {
		req.AddString(AttrSoftware, s.softwareName)
	}
}

// sendRequest transmits req (attaching MESSAGE-INTEGRITY when a long-term
// credential is already known), tracks it for response correlation, and
// arms the RFC 5389 §7.2.1 retransmission schedule.
func (s *Session) sendRequest(req *Message, onDone func(*Message, error)) error {
	pkt := req.Encode(s.key)
	pt := &pendingTx{req: req, onDone: onDone}
	s.pending[req.TxID] = pt

	if err := s.cb.Send(pkt); err != nil {
		delete(s.pending, req.TxID)
		return turnerrors.Of("turn.sendRequest", turnerrors.KindConnectFailed, err)
	}
	s.armRetransmit(pt)
	return nil
}

func (s *Session) armRetransmit(pt *pendingTx) {
	if s.timers == nil {
		return
	}
	idx := pt.attempt
	if idx >= len(stunRTOSchedule) {
		s.run(func() {
			if _, stillPending := s.pending[pt.req.TxID]; stillPending {
				delete(s.pending, pt.req.TxID)
				pt.onDone(nil, turnerrors.Of("turn.sendRequest", turnerrors.KindTimedOut, fmt.Errorf("transaction timed out")))
			}
		})
		return
	}
	pt.timer = s.timers.Schedule(stunRTOSchedule[idx], func() {
		s.run(func() {
			if _, stillPending := s.pending[pt.req.TxID]; !stillPending {
				return
			}
			pt.attempt++
			if pt.attempt < len(stunRTOSchedule) {
				pkt := pt.req.Encode(s.key)
				_ = s.cb.Send(pkt)
			}
			s.armRetransmit(pt)
		})
	})
}

// MarkDestroyed drives the terminal DESTROYING->DESTROYED transition and
// fires the final OnState(DESTROYED) notification. Called by the adapter's
// deferred destroy callback once the socket has been torn down — never by
// the session itself, since reaching DESTROYED is defined by the adapter
// finishing cleanup, not by any protocol event.
func (s *Session) MarkDestroyed() {
	s.run(func() {
		s.setState(StateDestroyed)
	})
}

// serverAddrSnapshot returns the currently resolved server address, used
// by the adapter when (re)connecting the socket.
func (s *Session) serverAddrSnapshot() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverAddr
}

// RelayedAddr returns the server-allocated relay transport address, valid
// once the session has reached StateReady.
func (s *Session) RelayedAddr() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.relayedAddr
}

// MappedAddr returns this client's server-reflexive address as observed by
// the TURN server.
func (s *Session) MappedAddr() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mappedAddr
}

// Shutdown begins teardown: releases the allocation (Refresh with
// lifetime 0) if one exists, otherwise transitions straight to destroying.
func (s *Session) Shutdown() {
	s.run(func() {
		if s.state == StateReady {
			s.setState(StateDeallocating)
			s.sendRefresh(0, s.key != nil) // moves to DESTROYING itself if the send fails
			return
		}
		s.setState(StateDestroying)
	})
}
