package recon

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vulnverified/tollsweep/internal/engine"
)

func serverPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	return srv.Listener.Addr().(*net.TCPAddr).Port
}

func TestProber_PinsAddressAndSendsHostname(t *testing.T) {
	var gotHost, gotUA, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		gotUA = r.Header.Get("User-Agent")
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ip":"198.51.100.7"}`))
	}))
	defer srv.Close()

	p, err := NewProber(ProberOptions{Scheme: "http", Port: serverPort(t, srv)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	probe, err := p.Verify(context.Background(), "sunpass-ab.win", "127.0.0.1", "/front/checkIp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if probe.StatusCode != 200 {
		t.Errorf("status = %d, want 200", probe.StatusCode)
	}
	if probe.Excerpt != `{"ip":"198.51.100.7"}` {
		t.Errorf("excerpt = %q", probe.Excerpt)
	}
	if !strings.HasPrefix(gotHost, "sunpass-ab.win:") {
		t.Errorf("host header = %q, want sunpass-ab.win", gotHost)
	}
	if gotUA != DefaultUserAgent {
		t.Errorf("user agent = %q", gotUA)
	}
	if gotPath != "/front/checkIp" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestProber_AcceptsInvalidCertificates(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	p, err := NewProber(ProberOptions{Port: serverPort(t, srv)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	probe, err := p.Verify(context.Background(), "txtag.org-abc.win", "127.0.0.1", "/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if probe.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", probe.StatusCode)
	}
}

func TestProber_DoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://www.sunpass.com/", http.StatusFound)
	}))
	defer srv.Close()

	p, _ := NewProber(ProberOptions{Scheme: "http", Port: serverPort(t, srv)})
	probe, err := p.Verify(context.Background(), "sunpass-ab.win", "127.0.0.1", "/front/checkIp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if probe.StatusCode != http.StatusFound {
		t.Errorf("status = %d, want 302", probe.StatusCode)
	}
}

func TestProber_TruncatesExcerpt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 4096)))
	}))
	defer srv.Close()

	p, _ := NewProber(ProberOptions{Scheme: "http", Port: serverPort(t, srv), ExcerptSize: 100})
	probe, err := p.Verify(context.Background(), "sunpass-ab.win", "127.0.0.1", "/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(probe.Excerpt) != 100 {
		t.Errorf("excerpt length = %d, want 100", len(probe.Excerpt))
	}
}

func TestProber_RefusedIsUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	p, _ := NewProber(ProberOptions{Scheme: "http", Port: port})
	_, err = p.Verify(context.Background(), "sunpass-ab.win", "127.0.0.1", "/")
	if err == nil {
		t.Fatal("expected connection error")
	}
	if got := engine.ClassifyVerification(err); got != engine.Unreachable {
		t.Errorf("outcome = %s, want unreachable", got)
	}
}

func TestProber_SlowServerTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	p, _ := NewProber(ProberOptions{Scheme: "http", Port: serverPort(t, srv)})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := p.Verify(ctx, "sunpass-ab.win", "127.0.0.1", "/")
	if err == nil {
		t.Fatal("expected timeout")
	}
	if got := engine.ClassifyVerification(err); got != engine.Timeout {
		t.Errorf("outcome = %s, want timeout", got)
	}
}

func TestNewProber_RejectsScheme(t *testing.T) {
	if _, err := NewProber(ProberOptions{Scheme: "ftp"}); err == nil {
		t.Error("expected error for ftp scheme")
	}
}
