package recon

import (
	"net"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

// zone maps lower-case FQDNs to the answers served for them. Names absent
// from every map get NXDOMAIN.
type zone struct {
	a        map[string][]string
	aaaa     map[string][]string
	txt      map[string]string
	servfail map[string]bool
	queries  atomic.Int64
}

func (z *zone) ServeDNS(w dns.ResponseWriter, req *dns.Msg) {
	z.queries.Add(1)
	resp := new(dns.Msg)
	resp.SetReply(req)

	q := req.Question[0]
	name := strings.ToLower(q.Name)
	if z.servfail[name] {
		resp.Rcode = dns.RcodeServerFailure
		_ = w.WriteMsg(resp)
		return
	}

	_, hasA := z.a[name]
	_, hasAAAA := z.aaaa[name]
	_, hasTXT := z.txt[name]
	if !hasA && !hasAAAA && !hasTXT {
		resp.Rcode = dns.RcodeNameError
		_ = w.WriteMsg(resp)
		return
	}

	hdr := dns.RR_Header{Name: q.Name, Class: dns.ClassINET, Ttl: 60}
	switch q.Qtype {
	case dns.TypeA:
		for _, ip := range z.a[name] {
			h := hdr
			h.Rrtype = dns.TypeA
			resp.Answer = append(resp.Answer, &dns.A{Hdr: h, A: net.ParseIP(ip)})
		}
	case dns.TypeAAAA:
		for _, ip := range z.aaaa[name] {
			h := hdr
			h.Rrtype = dns.TypeAAAA
			resp.Answer = append(resp.Answer, &dns.AAAA{Hdr: h, AAAA: net.ParseIP(ip)})
		}
	case dns.TypeTXT:
		if txt, ok := z.txt[name]; ok {
			h := hdr
			h.Rrtype = dns.TypeTXT
			resp.Answer = append(resp.Answer, &dns.TXT{Hdr: h, Txt: []string{txt}})
		}
	}
	_ = w.WriteMsg(resp)
}

// startDNS serves z on a loopback UDP port and returns its address.
func startDNS(t *testing.T, z *zone) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: z, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })

	return pc.LocalAddr().String()
}

// startSilentUDP binds a loopback UDP port that never replies.
func startSilentUDP(t *testing.T) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })
	return pc.LocalAddr().String()
}
