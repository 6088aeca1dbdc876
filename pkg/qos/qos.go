// Package qos applies DSCP/TOS and socket-priority settings to a connected
// socket, mirroring the QoS step turn_sock.c performs right after bind and
// before connect (pj_sock_setsockopt for TOS/priority, tolerant of
// per-platform ENOPROTOOPT style failures when the caller asks it to be).
package qos

import (
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	turnerrors "github.com/khryptorgraphics/ollamamax/turnclient/pkg/errors"
)

// Type mirrors the coarse QoS classes turn_sock.c exposes
// (pj_qos_type): best effort, background, video, audio, control.
type Type int

const (
	TypeBestEffort Type = iota
	TypeBackground
	TypeVideo
	TypeVoice
	TypeControl
)

// dscp returns the 6-bit Differentiated Services Code Point for t,
// unshifted; Apply shifts it left by 2 into the upper 6 bits of the
// TOS/TCLASS byte (RFC 2474 §3).
func (t Type) dscp() int {
	switch t {
	case TypeBackground:
		return 0x08 // CS1
	case TypeVideo:
		return 0x22 // AF41
	case TypeVoice:
		return 0x2E // EF
	case TypeControl:
		return 0x30 // CS6
	default:
		return 0x00 // CS0 / best effort
	}
}

// Params is the QoS configuration applied to a socket, equivalent to
// pj_qos_params carried in pj_turn_sock_cfg.
type Params struct {
	Type Type

	// IgnoreError mirrors qos_ignore_error: when true, a platform that
	// rejects the socket option (no CAP_NET_ADMIN, unsupported family)
	// does not abort the connection attempt.
	IgnoreError bool
}

// Default matches pj_turn_sock_cfg_default: best-effort, errors ignored.
func Default() Params {
	return Params{Type: TypeBestEffort, IgnoreError: true}
}

// Apply sets the DSCP/TOS and socket priority on conn. conn must expose a
// syscall.Conn (true for *net.UDPConn and *net.TCPConn).
func Apply(conn net.Conn, p Params) error {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		if p.IgnoreError {
			return nil
		}
		return turnerrors.Of("qos.Apply", turnerrors.KindInvalid,
			fmt.Errorf("connection type %T does not support raw socket options", conn))
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		if p.IgnoreError {
			return nil
		}
		return turnerrors.Of("qos.Apply", turnerrors.KindConnectFailed, err)
	}

	dscp := p.Type.dscp()
	isV6 := isIPv6(conn)

	var applyErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		if isV6 {
			applyErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_TCLASS, dscp<<2)
		} else {
			applyErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, dscp<<2)
		}
		if applyErr == nil {
			// SO_PRIORITY is Linux-specific; absence on other kernels is
			// reported through applyErr and folded into IgnoreError below.
			if perr := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_PRIORITY, priorityFor(p.Type)); perr != nil {
				applyErr = perr
			}
		}
	})
	if ctrlErr != nil {
		applyErr = ctrlErr
	}
	if applyErr != nil && !p.IgnoreError {
		return turnerrors.Of("qos.Apply", turnerrors.KindConnectFailed, applyErr)
	}
	return nil
}

func priorityFor(t Type) int {
	switch t {
	case TypeVoice:
		return 6
	case TypeVideo:
		return 4
	case TypeControl:
		return 7
	case TypeBackground:
		return 1
	default:
		return 0
	}
}

func isIPv6(conn net.Conn) bool {
	addr := conn.LocalAddr()
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.To4() == nil
}
