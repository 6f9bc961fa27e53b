package recon

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vulnverified/tollsweep/internal/engine"
)

const (
	// DefaultUserAgent is a mobile Chrome on iOS, the audience toll lures target.
	DefaultUserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 15_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) CriOS/94.0.4606.52 Mobile/15E148 Safari/604.1"
	// DefaultExcerptSize bounds the stored response body.
	DefaultExcerptSize = 1024

	dialTimeout = 10 * time.Second
)

type pinnedAddrKey struct{}

// Prober implements engine.Verifier. Each probe connects to the address the
// hostname resolved to in this run while TLS SNI and the Host header carry
// the hostname, so a later DNS change cannot redirect the probe.
// Certificates are not verified and redirects are not followed.
type Prober struct {
	scheme      string
	port        int
	userAgent   string
	excerptSize int
	client      *http.Client
}

// ProberOptions configures a Prober. Zero values select defaults.
type ProberOptions struct {
	Scheme      string
	Port        int
	UserAgent   string
	ExcerptSize int
}

// NewProber returns a prober for opts.
func NewProber(opts ProberOptions) (*Prober, error) {
	scheme := strings.ToLower(opts.Scheme)
	if scheme == "" {
		scheme = "https"
	}
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", opts.Scheme)
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.ExcerptSize <= 0 {
		opts.ExcerptSize = DefaultExcerptSize
	}

	dialer := &net.Dialer{Timeout: dialTimeout}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, address string) (net.Conn, error) {
			if pinned, ok := ctx.Value(pinnedAddrKey{}).(string); ok && pinned != "" {
				_, port, err := net.SplitHostPort(address)
				if err != nil {
					return nil, err
				}
				address = net.JoinHostPort(pinned, port)
			}
			return dialer.DialContext(ctx, network, address)
		},
		TLSClientConfig:   &tls.Config{InsecureSkipVerify: true},
		DisableKeepAlives: true,
	}

	return &Prober{
		scheme:      scheme,
		port:        opts.Port,
		userAgent:   opts.UserAgent,
		excerptSize: opts.ExcerptSize,
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

// Verify implements engine.Verifier. The caller's context bounds the attempt.
func (p *Prober) Verify(ctx context.Context, host, addr, path string) (engine.Probe, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	target := p.scheme + "://" + host
	if p.port > 0 {
		target = p.scheme + "://" + net.JoinHostPort(host, strconv.Itoa(p.port))
	}

	ctx = context.WithValue(ctx, pinnedAddrKey{}, addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target+path, nil)
	if err != nil {
		return engine.Probe{}, err
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return engine.Probe{}, err
	}
	defer resp.Body.Close()

	// The status line arrived; a body that fails mid-stream still counts.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, int64(p.excerptSize)))

	return engine.Probe{
		StatusCode: resp.StatusCode,
		Excerpt:    strings.ToValidUTF8(string(body), ""),
	}, nil
}
