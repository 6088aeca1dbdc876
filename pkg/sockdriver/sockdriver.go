// Package sockdriver implements the non-blocking socket primitives the
// adapter drives: create, bind-with-retry, connect, start-reading, send,
// close. It is grounded on turn_sock.c's socket-creation block inside
// turn_on_state (bind via pj_sock_bind_random with a capped retry count,
// QoS applied post-bind/pre-connect, activesock wrapping for async
// connect/read) and on the teacher's TURNClient goroutine shape
// (handlePackets run on its own goroutine per socket).
package sockdriver

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/khryptorgraphics/ollamamax/turnclient/pkg/qos"

	turnerrors "github.com/khryptorgraphics/ollamamax/turnclient/pkg/errors"
)

// Kind selects the transport turn_sock.c calls conn_type: SOCK_DGRAM or
// SOCK_STREAM.
type Kind int

const (
	KindUDP Kind = iota
	KindTCP
)

func (k Kind) network(v6 bool) string {
	switch k {
	case KindTCP:
		if v6 {
			return "tcp6"
		}
		return "tcp4"
	default:
		if v6 {
			return "udp6"
		}
		return "udp4"
	}
}

// maxBindRetry mirrors turn_sock.c's MAX_BIND_RETRY: min(port_range, 100).
const maxBindRetry = 100

// Config mirrors the fields of pj_turn_sock_cfg relevant to the socket
// layer: bind port range and QoS policy. MaxPacketSize bounds one read.
type Config struct {
	Kind Kind
	IPv6 bool

	// PortMin/PortMax bound the local ports bind-retry tries. Zero for
	// both means let the OS choose (pj_sock_bind_random's 0 case).
	PortMin uint16
	PortMax uint16

	QoS           qos.Params
	MaxPacketSize int
}

func (c Config) bindRetries() int {
	if c.PortMin == 0 && c.PortMax == 0 {
		return 1
	}
	span := int(c.PortMax) - int(c.PortMin) + 1
	if span > maxBindRetry {
		return maxBindRetry
	}
	if span < 1 {
		return 1
	}
	return span
}

// Multiplexer is the event-delivery collaborator a Driver reports to,
// standing in for an external I/O multiplexer/reactor: each Driver runs its
// own read/connect goroutines and delivers events to its Multiplexer rather
// than registering with a shared epoll loop.
type Multiplexer interface {
	// OnConnected fires once for stream sockets when the non-blocking
	// connect resolves (err nil on success), mirroring on_connect_complete.
	// UDP sockets call it inline and successfully, since "connect" on a UDP
	// socket only fixes the peer address.
	OnConnected(err error)

	// OnData delivers one inbound read. For UDP this is one datagram; for
	// TCP this is whatever arrived on the wire (the caller is expected to
	// run it through pkg/framing before interpreting it as a PDU).
	OnData(buf []byte, from net.Addr)
}

// Callbacks is the function-valued Multiplexer every Driver in this module
// is built with — simpler than a named type at each call site, while still
// satisfying Multiplexer for callers that want to program against the
// interface. OnReadError has no Multiplexer equivalent: a struct can't
// declare both a field and a method of the same name, and it is only ever
// invoked directly on the concrete Callbacks a Driver is built with.
type Callbacks struct {
	OnRead            func(buf []byte, from net.Addr)
	OnConnectComplete func(err error)

	// OnReadError fires when a stream socket's read loop fails (EOF or
	// transport error). UDP never calls this: a datagram read error does
	// not mean the "connection" is gone, so it is swallowed as turn_sock.c
	// does. The caller is expected to run its own sess_fail-equivalent
	// teardown from here.
	OnReadError func(err error)
}

func (c Callbacks) OnConnected(err error) {
	if c.OnConnectComplete != nil {
		c.OnConnectComplete(err)
	}
}

func (c Callbacks) OnData(buf []byte, from net.Addr) {
	if c.OnRead != nil {
		c.OnRead(buf, from)
	}
}

// Driver owns one socket: its local bind, its (optional) stream
// connection, and the goroutine reading from it.
type Driver struct {
	cfg Config
	cb  Callbacks

	mu       sync.Mutex
	pc       net.PacketConn // set for UDP
	conn     net.Conn       // set for TCP once connected
	closed   bool
	cancel   context.CancelFunc
	readDone chan struct{}
}

// Create allocates and binds the local socket, retrying across the
// configured port range sequentially from PortMin. It does not apply QoS,
// connect, or start reading; Connect does those.
func Create(cfg Config, cb Callbacks) (*Driver, error) {
	if cfg.MaxPacketSize <= 0 {
		cfg.MaxPacketSize = 1500
	}
	d := &Driver{cfg: cfg, cb: cb}

	retries := cfg.bindRetries()
	var lastErr error
	for i := 0; i < retries; i++ {
		port := cfg.PortMin
		if cfg.PortMin != 0 && cfg.PortMax != 0 {
			port = cfg.PortMin + uint16(i)
		}
		laddr := fmt.Sprintf(":%d", port)

		if cfg.Kind == KindUDP {
			pc, err := net.ListenPacket(cfg.Kind.network(cfg.IPv6), laddr)
			if err != nil {
				lastErr = err
				continue
			}
			d.pc = pc
			break
		}

		lc := net.ListenConfig{}
		ln, err := lc.Listen(context.Background(), "tcp", laddr)
		if err != nil {
			lastErr = err
			continue
		}
		// A TURN client only needs the bound local port, not to accept
		// inbound connections on it; close the listener and remember the
		// port for the subsequent Dial.
		localPort := ln.Addr().(*net.TCPAddr).Port
		ln.Close()
		d.cfg.PortMin, d.cfg.PortMax = uint16(localPort), uint16(localPort)
		lastErr = nil
		break
	}
	if d.pc == nil && cfg.Kind == KindUDP {
		return nil, turnerrors.Of("sockdriver.Create", turnerrors.KindBindExhausted, lastErr)
	}
	if cfg.Kind == KindTCP && lastErr != nil {
		return nil, turnerrors.Of("sockdriver.Create", turnerrors.KindBindExhausted, lastErr)
	}

	// QoS is applied once the socket is actually connected (see Connect):
	// applying it here to the UDP listener would be silently discarded,
	// since Connect redials on the bound port to fix the peer address.

	return d, nil
}

// Connect initiates the (possibly non-blocking, for TCP) connection to
// remote. For UDP it "connects" the socket to fix the peer and calls
// OnConnectComplete inline, matching turn_sock.c's on_connect_complete
// being invoked synchronously when the OS completes the connect
// immediately. For TCP it dials on a background goroutine and delivers the
// result via OnConnectComplete asynchronously.
func (d *Driver) Connect(ctx context.Context, remote net.Addr) error {
	if d.cfg.Kind == KindUDP {
		localAddr, ok := d.pc.LocalAddr().(*net.UDPAddr)
		if !ok {
			return turnerrors.Of("sockdriver.Connect", turnerrors.KindInvalid,
				fmt.Errorf("bound packet conn has no *net.UDPAddr local address"))
		}
		remoteUDP, err := net.ResolveUDPAddr(d.cfg.Kind.network(d.cfg.IPv6), remote.String())
		if err != nil {
			return turnerrors.Of("sockdriver.Connect", turnerrors.KindConnectFailed, err)
		}
		d.pc.Close() // release the listener; DialUDP below rebinds the same local port
		conn, err := net.DialUDP(d.cfg.Kind.network(d.cfg.IPv6), localAddr, remoteUDP)
		if err != nil {
			return turnerrors.Of("sockdriver.Connect", turnerrors.KindConnectFailed, err)
		}
		if err := qos.Apply(conn, d.cfg.QoS); err != nil && !d.cfg.QoS.IgnoreError {
			conn.Close()
			return turnerrors.Of("sockdriver.Connect", turnerrors.KindConnectFailed, err)
		}
		d.mu.Lock()
		d.conn = conn
		d.mu.Unlock()
		d.startRead()
		if d.cb.OnConnectComplete != nil {
			d.cb.OnConnectComplete(nil)
		}
		return nil
	}

	dialer := net.Dialer{
		LocalAddr: &net.TCPAddr{Port: int(d.cfg.PortMin)},
	}
	if d.cfg.PortMin == 0 {
		dialer.LocalAddr = nil
	}

	go func() {
		conn, err := dialer.DialContext(ctx, d.cfg.Kind.network(d.cfg.IPv6), remote.String())
		if err != nil {
			if d.cb.OnConnectComplete != nil {
				d.cb.OnConnectComplete(turnerrors.Of("sockdriver.Connect", turnerrors.KindConnectFailed, err))
			}
			return
		}
		if err := qos.Apply(conn, d.cfg.QoS); err != nil && !d.cfg.QoS.IgnoreError {
			conn.Close()
			if d.cb.OnConnectComplete != nil {
				d.cb.OnConnectComplete(err)
			}
			return
		}
		d.mu.Lock()
		d.conn = conn
		d.mu.Unlock()
		d.startRead()
		if d.cb.OnConnectComplete != nil {
			d.cb.OnConnectComplete(nil)
		}
	}()
	return nil
}

func (d *Driver) startRead() {
	ctx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.cancel = cancel
	d.readDone = make(chan struct{})
	d.mu.Unlock()

	go func() {
		defer close(d.readDone)
		buf := make([]byte, d.cfg.MaxPacketSize)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			d.mu.Lock()
			conn := d.conn
			d.mu.Unlock()
			if conn == nil {
				return
			}
			n, err := conn.Read(buf)
			if ctx.Err() != nil {
				// Close ran while this read was in flight: deliver nothing.
				return
			}
			if err != nil {
				// A datagram "read" failure on a connected UDP socket does
				// not mean the peer is gone — ICMP-driven errors surface
				// this way on some platforms — so it is swallowed, matching
				// turn_sock.c. A stream socket's read failure (EOF or
				// reset) does mean the connection is gone and must be
				// reported so the session can tear itself down.
				if d.cfg.Kind == KindTCP && d.cb.OnReadError != nil {
					d.cb.OnReadError(turnerrors.Of("sockdriver.read", turnerrors.KindClosedByPeer, err))
				}
				return
			}
			if n > 0 && d.cb.OnRead != nil {
				frame := make([]byte, n)
				copy(frame, buf[:n])
				d.cb.OnRead(frame, conn.RemoteAddr())
			}
		}
	}()
}

// Send writes buf to the connected peer.
func (d *Driver) Send(buf []byte) (int, error) {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return 0, turnerrors.Of("sockdriver.Send", turnerrors.KindInvalidState, fmt.Errorf("socket not connected"))
	}
	n, err := conn.Write(buf)
	if err != nil {
		return n, turnerrors.Of("sockdriver.Send", turnerrors.KindConnectFailed, err)
	}
	return n, nil
}

// Close shuts down the read goroutine and the underlying socket. Safe to
// call more than once.
func (d *Driver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	cancel := d.cancel
	conn := d.conn
	pc := d.pc
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if conn != nil {
		err = conn.Close()
	} else if pc != nil {
		err = pc.Close()
	}
	return err
}

// LocalPort reports the local port the socket ended up with after bind
// retry.
func (d *Driver) LocalPort() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		if a, ok := d.conn.LocalAddr().(*net.TCPAddr); ok {
			return uint16(a.Port)
		}
		if a, ok := d.conn.LocalAddr().(*net.UDPAddr); ok {
			return uint16(a.Port)
		}
	}
	return d.cfg.PortMin
}
