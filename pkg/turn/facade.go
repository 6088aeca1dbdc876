// Public façade: the small set of calls applications make against a
// TurnSocket, mirroring pj_turn_sock_alloc/set_perm/bind_channel/sendto/
// destroy/lock/unlock/set_user_data/set_software_name/set_log_flags, plus
// the teacher's TURNClient method names where they line up.
package turn

import (
	"net"

	turnerrors "github.com/khryptorgraphics/ollamamax/turnclient/pkg/errors"
)

// Info is a point-in-time snapshot of a TurnSocket's allocation, returned
// by GetInfo. Mirrors pj_turn_session_info's fields relevant to a client.
type Info struct {
	State       State
	ServerAddr  *net.UDPAddr
	RelayedAddr *net.UDPAddr
	MappedAddr  *net.UDPAddr
}

// Lock acquires the façade-level lock (TurnSocket.facadeMu), letting an
// application perform several Alloc/SetPerm/BindChannel/SendTo calls as
// one atomic sequence — the Go stand-in for pj_turn_sock_lock, which
// exposes PJSIP's own recursive session lock to the app. A dedicated
// mutex plays the same role here without requiring reentrancy into
// TurnSocket's internal critical sections.
func (ts *TurnSocket) Lock() { ts.facadeMu.Lock() }

// Unlock releases the façade-level lock.
func (ts *TurnSocket) Unlock() { ts.facadeMu.Unlock() }

// Alloc requests a relay allocation. Valid once the session has resolved
// a server address; the adapter normally drives this itself once the
// socket connects, so applications typically never need to call it
// directly. Once teardown has detached the session (DESTROYING or later),
// Alloc returns an InvalidState error; it cannot re-allocate after Destroy.
func (ts *TurnSocket) Alloc() error {
	session := ts.sessionHandle()
	if session == nil || session.State() == StateNull {
		return turnerrors.Of("turn.Alloc", turnerrors.KindInvalidState, nil)
	}
	return session.Alloc()
}

// SetPerm installs a permission for peer, mirroring pj_turn_sock_set_perm
// (here: one peer per call; callers wanting several issue several calls).
func (ts *TurnSocket) SetPerm(peer *net.UDPAddr) error {
	session := ts.sessionHandle()
	if session == nil {
		return turnerrors.Of("turn.SetPerm", turnerrors.KindInvalidState, nil)
	}
	return session.CreatePermission(peer)
}

// BindChannel requests a channel binding to peer, mirroring
// pj_turn_sock_bind_channel.
func (ts *TurnSocket) BindChannel(peer *net.UDPAddr) error {
	session := ts.sessionHandle()
	if session == nil {
		return turnerrors.Of("turn.BindChannel", turnerrors.KindInvalidState, nil)
	}
	return session.BindChannel(peer)
}

// SendTo transmits data to peer, mirroring pj_turn_sock_sendto. A prior
// SetPerm for peer's IP is required by the server. The data goes out as a
// Send indication or ChannelData frame, neither of which gets a response,
// so data sent without a permission is dropped by the server and SendTo
// still returns nil.
func (ts *TurnSocket) SendTo(peer *net.UDPAddr, data []byte) error {
	session := ts.sessionHandle()
	if session == nil {
		return turnerrors.Of("turn.SendTo", turnerrors.KindInvalidState, nil)
	}
	return session.Send(peer, data)
}

// GetInfo returns a snapshot of the allocation's current state. Once the
// session has been detached (destruction in progress or complete), it
// reports the zero Info with StateDestroyed rather than panicking.
func (ts *TurnSocket) GetInfo() Info {
	session := ts.sessionHandle()
	if session == nil {
		return Info{State: StateDestroyed}
	}
	return Info{
		State:       session.State(),
		ServerAddr:  session.serverAddrSnapshot(),
		RelayedAddr: session.RelayedAddr(),
		MappedAddr:  session.MappedAddr(),
	}
}

// SetSoftwareName sets the SOFTWARE attribute value attached to future
// requests. A no-op once the session has been detached.
func (ts *TurnSocket) SetSoftwareName(name string) {
	if session := ts.sessionHandle(); session != nil {
		session.SetSoftwareName(name)
	}
}

// SetLogFlags stores the packet-level log flags on the TurnSocket (mirrors
// pj_turn_sock_set_log). Nothing in this package reads the stored value, so
// it does not change what is logged.
func (ts *TurnSocket) SetLogFlags(flags int) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.logFlags = flags
}
