// Adapter: the lifecycle glue tying a socket, a resolver-driven server
// address, a timer service, and a Session together. Transliterated from
// turn_sock.c's turn_on_state / on_connect_complete / on_data_read /
// turn_on_send_pkt / turn_on_rx_data.
package turn

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/khryptorgraphics/ollamamax/turnclient/pkg/framing"
	"github.com/khryptorgraphics/ollamamax/turnclient/pkg/logging"
	"github.com/khryptorgraphics/ollamamax/turnclient/pkg/qos"
	"github.com/khryptorgraphics/ollamamax/turnclient/pkg/resolver"
	"github.com/khryptorgraphics/ollamamax/turnclient/pkg/sockdriver"
	"github.com/khryptorgraphics/ollamamax/turnclient/pkg/timerheap"
	"github.com/khryptorgraphics/ollamamax/turnclient/pkg/turnmetrics"

	turnerrors "github.com/khryptorgraphics/ollamamax/turnclient/pkg/errors"
)

// Config configures a TurnSocket (the public façade's backing adapter).
type Config struct {
	Kind      sockdriver.Kind // KindUDP or KindTCP
	ServerDomain string       // resolved via Resolver
	Resolver  resolver.Resolver
	Transport resolver.Transport

	PortMin, PortMax uint16
	QoS              qos.Params
	MaxPacketSize    int

	Creds    CredentialStore
	Lifetime time.Duration

	Timers  *timerheap.Service // shared; created if nil
	Metrics *turnmetrics.Metrics
	Logger  *logging.StructuredLogger

	// OnState, OnData, OnError are the application-facing callbacks, set
	// by the caller; the adapter invokes them directly.
	OnState func(State)
	OnData  func(data []byte, peer *net.UDPAddr)
	OnError func(error)
}

// TurnSocket is the adapter: spec.md §4.4's socket/resolver/timer/session
// glue, and the type the public façade (facade.go) wraps.
type TurnSocket struct {
	mu sync.Mutex

	cfg      Config
	session  *Session
	driver   *sockdriver.Driver
	timers   *timerheap.Service
	ownTimers bool
	log      *logging.StructuredLogger

	// tcpBuf accumulates partial stream reads until pkg/framing can split
	// off a complete frame; unused for UDP (each read is one datagram).
	tcpBuf []byte

	destroyRequested bool
	destroyTimer     *timerheap.Entry

	userData interface{}
	logFlags int

	facadeMu sync.Mutex
}

// Create constructs a TurnSocket in StateNull and kicks off DNS resolution,
// mirroring pj_turn_sock_create followed immediately by
// pj_turn_session_set_server in pj_turn_sock_alloc.
func Create(cfg Config) (*TurnSocket, error) {
	if cfg.MaxPacketSize <= 0 {
		cfg.MaxPacketSize = 1500
	}
	if cfg.QoS == (qos.Params{}) {
		cfg.QoS = qos.Default()
	}
	timers := cfg.Timers
	ownTimers := false
	if timers == nil {
		timers = timerheap.NewService()
		ownTimers = true
	}
	log := cfg.Logger
	if log == nil {
		log = logging.NewStructuredLogger(nil)
	}

	ts := &TurnSocket{cfg: cfg, timers: timers, ownTimers: ownTimers, log: log}

	ts.session = NewSession(SessionConfig{
		Creds:    cfg.Creds,
		Timers:   timers,
		Metrics:  cfg.Metrics,
		Lifetime: cfg.Lifetime,
	}, Callbacks{
		Send:           ts.sendPkt,
		OnState:        ts.onSessionState,
		OnChannelBound: ts.onChannelBound,
		OnRxData:       ts.onRxData,
	})

	go ts.resolve()
	return ts, nil
}

// sessionHandle returns the adapter's current session reference, or nil
// once the adapter has detached it on the way to DESTROYED (see
// detachAndScheduleDestroy). Every adapter method that touches the session
// must go through this instead of the struct field directly, so a late
// event (a queued DNS answer, a straggling socket read) becomes a no-op
// instead of operating on a session the adapter has already let go of.
func (ts *TurnSocket) sessionHandle() *Session {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.session
}

func (ts *TurnSocket) resolve() {
	session := ts.sessionHandle()
	if session == nil {
		return
	}
	resolv := ts.cfg.Resolver
	if resolv == nil {
		resolv = &resolver.DNSResolver{}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	targets, err := resolv.Resolve(ctx, ts.cfg.ServerDomain, ts.cfg.Transport)
	if err != nil || len(targets) == 0 {
		ts.log.Error("resolve failed", err, "domain", ts.cfg.ServerDomain)
		if ts.cfg.OnError != nil {
			ts.cfg.OnError(turnerrors.Of("turn.resolve", turnerrors.KindConnectFailed, err))
		}
		return
	}
	t := targets[0]
	ip, rerr := net.ResolveIPAddr("ip", t.Host)
	if rerr != nil {
		ts.log.Error("resolve failed", rerr, "domain", ts.cfg.ServerDomain)
		if ts.cfg.OnError != nil {
			ts.cfg.OnError(turnerrors.Of("turn.resolve", turnerrors.KindConnectFailed, rerr))
		}
		return
	}
	session.SetServerResolved(&net.UDPAddr{IP: ip.IP, Port: int(t.Port)})
}

// onSessionState is turn_on_state's Go analogue: notify the application
// first, then react to the transition (socket (re)creation on RESOLVED,
// detach-and-deferred-destroy on >= DESTROYING).
func (ts *TurnSocket) onSessionState(state State) {
	if ts.cfg.OnState != nil {
		ts.cfg.OnState(state)
	}

	switch {
	case state == StateResolved:
		ts.recreateSocket()
	case state >= StateDestroying:
		ts.detachAndScheduleDestroy()
	}
}

// recreateSocket closes any existing socket (the alternate-server case)
// and creates + connects a fresh one, exactly as turn_on_state's RESOLVED
// branch does.
func (ts *TurnSocket) recreateSocket() {
	session := ts.sessionHandle()
	if session == nil {
		return
	}

	ts.mu.Lock()
	if ts.driver != nil {
		ts.driver.Close()
		ts.driver = nil
	}
	ts.mu.Unlock()

	serverAddr := session.serverAddrSnapshot()

	driver, err := sockdriver.Create(sockdriver.Config{
		Kind:          ts.cfg.Kind,
		PortMin:       ts.cfg.PortMin,
		PortMax:       ts.cfg.PortMax,
		QoS:           ts.cfg.QoS,
		MaxPacketSize: ts.cfg.MaxPacketSize,
	}, sockdriver.Callbacks{
		OnRead:            ts.onDriverRead,
		OnConnectComplete: ts.onConnectComplete,
		OnReadError:       ts.onDriverReadError,
	})
	if err != nil {
		ts.log.Error("socket create failed", err)
		if ts.cfg.OnError != nil {
			ts.cfg.OnError(err)
		}
		return
	}

	ts.mu.Lock()
	ts.driver = driver
	ts.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := driver.Connect(ctx, serverAddr); err != nil {
		ts.log.Error("socket connect failed", err, "server", serverAddr.String())
		if ts.cfg.OnError != nil {
			ts.cfg.OnError(err)
		}
	}
}

// onConnectComplete fires once the socket is usable; it calls
// session.Alloc exactly as on_connect_complete calls
// pj_turn_session_alloc.
func (ts *TurnSocket) onConnectComplete(err error) {
	if err != nil {
		ts.log.Error("connect failed", err)
		if ts.cfg.OnError != nil {
			ts.cfg.OnError(err)
		}
		return
	}
	session := ts.sessionHandle()
	if session == nil {
		return
	}
	if err := session.Alloc(); err != nil && ts.cfg.OnError != nil {
		ts.log.Error("alloc failed", err)
		ts.cfg.OnError(err)
	}
}

// onDriverReadError is sess_fail's Go analogue: a stream socket's read
// loop has failed (EOF or reset), so the connection is gone. Logs, surfaces
// the error to the application, and tells the session to tear itself down
// rather than silently going quiet.
func (ts *TurnSocket) onDriverReadError(err error) {
	ts.log.Error("stream read failed", err)
	if ts.cfg.OnError != nil {
		ts.cfg.OnError(err)
	}
	session := ts.sessionHandle()
	if session == nil {
		return
	}
	session.Shutdown()
}

// onDriverRead is on_data_read's Go analogue. For UDP each read is already
// one frame; for TCP it runs pkg/framing over the accumulated buffer,
// feeding the session one complete frame at a time and keeping any
// trailing partial frame for the next read.
func (ts *TurnSocket) onDriverRead(buf []byte, _ net.Addr) {
	session := ts.sessionHandle()
	if session == nil {
		// Adapter has already detached from the session (>= DESTROYING):
		// drop the data instead of delivering it to an app that has
		// already been told the allocation is gone.
		return
	}

	if ts.cfg.Kind == sockdriver.KindUDP {
		session.OnRxPkt(buf)
		return
	}

	ts.mu.Lock()
	ts.tcpBuf = append(ts.tcpBuf, buf...)
	data := ts.tcpBuf
	ts.mu.Unlock()

	var splitter framing.Splitter = framing.TCPSplitter{}
	offset := 0
	for {
		frame := data[offset:]
		n, ok := splitter.Frame(frame)
		if !ok {
			break
		}
		if n > ts.cfg.MaxPacketSize {
			err := turnerrors.Of("turn.onDriverRead", turnerrors.KindProtocol,
				fmt.Errorf("frame length %d exceeds max packet size %d", n, ts.cfg.MaxPacketSize))
			ts.log.Error("oversized TCP frame dropped", err)
			if ts.cfg.OnError != nil {
				ts.cfg.OnError(err)
			}
			offset += n
			continue
		}
		consumed := session.OnRxPkt(frame[:n])
		if consumed == 0 {
			consumed = n
		}
		offset += consumed
		if consumed == 0 {
			break
		}
	}

	ts.mu.Lock()
	ts.tcpBuf = append([]byte(nil), data[offset:]...)
	ts.mu.Unlock()
}

func (ts *TurnSocket) sendPkt(pkt []byte) error {
	ts.mu.Lock()
	driver := ts.driver
	ts.mu.Unlock()
	if driver == nil {
		return turnerrors.Of("turn.sendPkt", turnerrors.KindInvalidState, nil)
	}
	_, err := driver.Send(pkt)
	return err
}

func (ts *TurnSocket) onChannelBound(peer *net.UDPAddr, ch uint16) {
	// no adapter-level action needed; Config has no channel-bound
	// callback, so the event is not passed on to the application.
}

func (ts *TurnSocket) onRxData(data []byte, peer *net.UDPAddr) {
	if ts.cfg.OnData != nil {
		ts.cfg.OnData(data, peer)
	}
}

// detachAndScheduleDestroy is turn_on_state's TIMER_DESTROY trick, plus the
// back-pointer clear spec.md §4.4 requires: the adapter's own reference to
// the session is dropped immediately (under lock, before anything is
// deferred), so any read or callback that arrives between now and the
// timer tick finds sessionHandle() nil and becomes a no-op instead of
// delivering data or driving the session past DESTROYED. The session
// object itself is captured locally so the deferred callback can still
// drive its final DESTROYING->DESTROYED transition.
func (ts *TurnSocket) detachAndScheduleDestroy() {
	ts.mu.Lock()
	if ts.destroyTimer != nil {
		ts.mu.Unlock()
		return
	}
	session := ts.session
	ts.session = nil
	ts.destroyTimer = ts.timers.Schedule(0, func() { ts.destroy(session) })
	ts.mu.Unlock()
}

// destroy releases the socket, drives the session's terminal DESTROYED
// transition, and, if this TurnSocket owns its timer service (none was
// supplied externally), stops it too.
func (ts *TurnSocket) destroy(session *Session) {
	ts.mu.Lock()
	if ts.driver != nil {
		ts.driver.Close()
		ts.driver = nil
	}
	ownTimers := ts.ownTimers
	timers := ts.timers
	ts.mu.Unlock()

	ts.log.Info("allocation destroyed")
	if session != nil {
		session.MarkDestroyed()
	}
	if ownTimers {
		timers.Close()
	}
}

// Destroy requests teardown. Safe to call more than once: subsequent calls
// are no-ops once destruction is already scheduled or complete, mirroring
// pj_turn_sock_destroy's destroy_request flag.
func (ts *TurnSocket) Destroy() {
	ts.mu.Lock()
	if ts.destroyRequested {
		ts.mu.Unlock()
		return
	}
	ts.destroyRequested = true
	ts.mu.Unlock()

	session := ts.sessionHandle()
	if session != nil {
		session.Shutdown()
	}
}

// SetUserData/GetUserData mirror pj_turn_sock_set_user_data /
// pj_turn_sock_get_user_data.
func (ts *TurnSocket) SetUserData(v interface{}) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.userData = v
}

func (ts *TurnSocket) GetUserData() interface{} {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.userData
}
