package recon

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/miekg/dns"
	"github.com/vulnverified/tollsweep/internal/engine"
)

// CymruEnricher maps addresses to their origin AS through the Team Cymru
// IP-to-ASN DNS service.
type CymruEnricher struct {
	Resolver *Resolver
}

// Enrich implements engine.Enricher.
func (c *CymruEnricher) Enrich(ctx context.Context, addr string) (engine.Network, error) {
	name, err := cymruOriginName(addr)
	if err != nil {
		return engine.Network{}, err
	}

	fields, err := c.txtFields(ctx, name)
	if err != nil {
		return engine.Network{}, err
	}
	// ASN | prefix | CC | registry | allocated
	if len(fields) < 2 {
		return engine.Network{}, fmt.Errorf("cymru: malformed origin answer for %s", addr)
	}
	// Multi-origin prefixes list several ASNs in the first field.
	asn, err := strconv.Atoi(strings.Fields(fields[0])[0])
	if err != nil {
		return engine.Network{}, fmt.Errorf("cymru: parse origin of %s: %w", addr, err)
	}

	network := engine.Network{
		ID:     "AS" + strconv.Itoa(asn),
		Prefix: fields[1],
	}

	// ASN | CC | registry | allocated | description
	fields, err = c.txtFields(ctx, network.ID+".asn.cymru.com")
	if err != nil {
		return engine.Network{}, err
	}
	if len(fields) >= 5 {
		network.Name = fields[4]
	}
	return network, nil
}

func (c *CymruEnricher) txtFields(ctx context.Context, name string) ([]string, error) {
	resp, err := c.Resolver.Exchange(ctx, name, dns.TypeTXT)
	if err != nil {
		return nil, fmt.Errorf("cymru: %w", err)
	}
	for _, rr := range resp.Answer {
		txt, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		fields := strings.Split(strings.Join(txt.Txt, ""), "|")
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		if fields[0] == "" {
			continue
		}
		return fields, nil
	}
	return nil, fmt.Errorf("cymru: %s returned zero answers", name)
}

// cymruOriginName builds the origin query name: reversed octets for IPv4,
// reversed nibbles for IPv6.
func cymruOriginName(addr string) (string, error) {
	ip := net.ParseIP(addr)
	if ip == nil {
		return "", fmt.Errorf("cymru: invalid address %q", addr)
	}

	if v4 := ip.To4(); v4 != nil {
		return fmt.Sprintf("%d.%d.%d.%d.origin.asn.cymru.com", v4[3], v4[2], v4[1], v4[0]), nil
	}

	const hexDigits = "0123456789abcdef"
	ip = ip.To16()
	var b strings.Builder
	for i := len(ip) - 1; i >= 0; i-- {
		b.WriteByte(hexDigits[ip[i]&0x0f])
		b.WriteByte('.')
		b.WriteByte(hexDigits[ip[i]>>4])
		b.WriteByte('.')
	}
	b.WriteString("origin6.asn.cymru.com")
	return b.String(), nil
}
