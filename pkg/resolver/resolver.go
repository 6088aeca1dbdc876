// Package resolver turns a TURN server name into a concrete, dialable
// address. It is the DNS collaborator spec.md describes only through the
// interface it exposes to the adapter/session — internal caching, retry,
// and recursion policy are out of scope here, same as the spec's carve-out.
package resolver

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/miekg/dns"

	turnerrors "github.com/khryptorgraphics/ollamamax/turnclient/pkg/errors"
)

// Transport selects which SRV service name to query (RFC 5928).
type Transport int

const (
	TransportUDP Transport = iota
	TransportTCP
	TransportTLS
)

func (t Transport) service() string {
	switch t {
	case TransportTCP:
		return "_turn._tcp"
	case TransportTLS:
		return "_turns._tcp"
	default:
		return "_turn._udp"
	}
}

func (t Transport) defaultPort() uint16 {
	if t == TransportTLS {
		return 5349
	}
	return 3478
}

// Target is a resolved TURN server endpoint: one of possibly several,
// ordered by SRV priority/weight.
type Target struct {
	Host string
	Port uint16
}

func (t Target) String() string { return net.JoinHostPort(t.Host, strconv.Itoa(int(t.Port))) }

// Resolver resolves a TURN server domain name to one or more candidate
// addresses, in the order the lookup returned them. The adapter connects
// to the first target only; the others are not tried.
type Resolver interface {
	Resolve(ctx context.Context, domain string, transport Transport) ([]Target, error)
}

// DNSResolver resolves via SRV records per RFC 5928, falling back to a
// plain A/AAAA lookup against the transport's default port when no SRV
// record is published.
type DNSResolver struct {
	// Nameserver overrides the system resolver, e.g. "8.8.8.8:53". Empty
	// uses the OS-configured resolver via net.Resolver.
	Nameserver string
}

func (r *DNSResolver) Resolve(ctx context.Context, domain string, transport Transport) ([]Target, error) {
	if targets, err := r.resolveSRV(ctx, domain, transport); err == nil && len(targets) > 0 {
		return targets, nil
	}
	return r.resolveHost(ctx, domain, transport)
}

func (r *DNSResolver) resolveSRV(ctx context.Context, domain string, transport Transport) ([]Target, error) {
	name := fmt.Sprintf("%s.%s.", transport.service(), dns.Fqdn(domain))
	m := new(dns.Msg)
	m.SetQuestion(name, dns.TypeSRV)
	m.RecursionDesired = true

	in, err := r.exchange(ctx, m)
	if err != nil {
		return nil, turnerrors.Of("resolver.SRV", turnerrors.KindConnectFailed, err)
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, turnerrors.Of("resolver.SRV", turnerrors.KindProtocol,
			fmt.Errorf("srv lookup %s: rcode %d", name, in.Rcode))
	}

	var targets []Target
	for _, rr := range in.Answer {
		srv, ok := rr.(*dns.SRV)
		if !ok {
			continue
		}
		targets = append(targets, Target{Host: trimTrailingDot(srv.Target), Port: srv.Port})
	}
	if len(targets) == 0 {
		return nil, turnerrors.Of("resolver.SRV", turnerrors.KindProtocol, fmt.Errorf("no SRV records for %s", name))
	}
	return targets, nil
}

func (r *DNSResolver) resolveHost(ctx context.Context, domain string, transport Transport) ([]Target, error) {
	var res net.Resolver
	if r.Nameserver != "" {
		ns := r.Nameserver
		res.PreferGo = true
		res.Dial = func(ctx context.Context, network, _ string) (net.Conn, error) {
			d := net.Dialer{}
			return d.DialContext(ctx, network, ns)
		}
	}
	ips, err := res.LookupIPAddr(ctx, domain)
	if err != nil {
		return nil, turnerrors.Of("resolver.Host", turnerrors.KindConnectFailed, err)
	}
	if len(ips) == 0 {
		return nil, turnerrors.Of("resolver.Host", turnerrors.KindProtocol, fmt.Errorf("no addresses for %s", domain))
	}
	targets := make([]Target, 0, len(ips))
	for _, ip := range ips {
		targets = append(targets, Target{Host: ip.IP.String(), Port: transport.defaultPort()})
	}
	return targets, nil
}

func (r *DNSResolver) exchange(ctx context.Context, m *dns.Msg) (*dns.Msg, error) {
	c := new(dns.Client)
	server := r.Nameserver
	if server == "" {
		server = systemNameserver()
	}
	in, _, err := c.ExchangeContext(ctx, m, server)
	return in, err
}

func systemNameserver() string {
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(conf.Servers) == 0 {
		return "127.0.0.1:53"
	}
	return net.JoinHostPort(conf.Servers[0], conf.Port)
}

func trimTrailingDot(s string) string {
	if len(s) > 0 && s[len(s)-1] == '.' {
		return s[:len(s)-1]
	}
	return s
}
