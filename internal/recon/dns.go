package recon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/caffix/stringset"
	"github.com/miekg/dns"
	"github.com/vulnverified/tollsweep/internal/engine"
)

const (
	resolvConfPath     = "/etc/resolv.conf"
	defaultDNSTimeout  = 5 * time.Second
	defaultNameserver  = "1.1.1.1:53"
	ednsUDPPayloadSize = 1232
)

// Resolver implements engine.Resolver over a fixed set of recursive
// nameservers. A lookup asks for A and AAAA records and fails over to the
// next server on transport errors.
type Resolver struct {
	servers []string
	udp     *dns.Client
	tcp     *dns.Client
}

// NewResolver returns a resolver querying servers ("host" or "host:port").
// With no servers it falls back to the system resolv.conf.
func NewResolver(servers []string, timeout time.Duration) (*Resolver, error) {
	if timeout <= 0 {
		timeout = defaultDNSTimeout
	}
	if len(servers) == 0 {
		var err error
		servers, err = systemNameservers(resolvConfPath)
		if err != nil {
			return nil, err
		}
	}

	r := &Resolver{
		udp: &dns.Client{Net: "udp", Timeout: timeout},
		tcp: &dns.Client{Net: "tcp", Timeout: timeout},
	}
	for _, s := range servers {
		r.servers = append(r.servers, withPort(s))
	}
	return r, nil
}

// Servers returns the nameservers in failover order.
func (r *Resolver) Servers() []string {
	return append([]string(nil), r.servers...)
}

// Resolve returns the distinct IPv4 then IPv6 addresses of host. An NXDOMAIN
// answer yields engine.ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, host string) ([]string, error) {
	seen := stringset.New()
	defer seen.Close()

	var addrs []string
	collect := func(resp *dns.Msg) {
		for _, rr := range resp.Answer {
			var ip net.IP
			switch v := rr.(type) {
			case *dns.A:
				ip = v.A
			case *dns.AAAA:
				ip = v.AAAA
			default:
				continue
			}
			a := ip.String()
			if !seen.Has(a) {
				seen.Insert(a)
				addrs = append(addrs, a)
			}
		}
	}

	resp, err := r.Exchange(ctx, host, dns.TypeA)
	if err != nil {
		return nil, err
	}
	collect(resp)

	resp, err = r.Exchange(ctx, host, dns.TypeAAAA)
	if err != nil {
		// An AAAA failure is not worth discarding good IPv4 answers.
		if len(addrs) > 0 {
			return addrs, nil
		}
		return nil, err
	}
	collect(resp)

	if len(addrs) == 0 {
		return nil, fmt.Errorf("%s: no address records: %w", host, engine.ErrNotFound)
	}
	return addrs, nil
}

// Exchange sends a single question for name and returns a successful
// response. Truncated UDP answers are retried over TCP.
func (r *Resolver) Exchange(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.SetEdns0(ednsUDPPayloadSize, false)

	var lastErr error
	for _, server := range r.servers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, _, err := r.udp.ExchangeContext(ctx, msg, server)
		if err == nil && resp.Truncated {
			resp, _, err = r.tcp.ExchangeContext(ctx, msg, server)
		}
		if err != nil {
			lastErr = fmt.Errorf("query %s %s at %s: %w", dns.TypeToString[qtype], name, server, err)
			continue
		}

		switch resp.Rcode {
		case dns.RcodeSuccess:
			return resp, nil
		case dns.RcodeNameError:
			return nil, fmt.Errorf("%s: %w", name, engine.ErrNotFound)
		default:
			// SERVFAIL and REFUSED are server-specific; try the next one.
			lastErr = fmt.Errorf("query %s %s at %s: %s", dns.TypeToString[qtype], name, server, dns.RcodeToString[resp.Rcode])
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no nameservers configured")
	}
	return nil, lastErr
}

func systemNameservers(path string) ([]string, error) {
	conf, err := dns.ClientConfigFromFile(path)
	if err != nil {
		return []string{defaultNameserver}, nil
	}
	var servers []string
	for _, s := range conf.Servers {
		servers = append(servers, net.JoinHostPort(s, conf.Port))
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("no nameservers in %s", path)
	}
	return servers, nil
}

func withPort(server string) string {
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	return net.JoinHostPort(strings.Trim(server, "[]"), "53")
}
