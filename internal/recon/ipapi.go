package recon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vulnverified/tollsweep/internal/engine"
	"golang.org/x/time/rate"
)

const (
	// DefaultIPAPIURL is the free ip-api.com JSON endpoint.
	DefaultIPAPIURL = "http://ip-api.com/json/"
	// DefaultIPAPIRate matches the free tier allowance of 45 requests per minute.
	DefaultIPAPIRate = 45
)

// IPAPIEnricher maps addresses to their AS through the ip-api.com JSON API.
// Requests are paced by a token bucket so the free tier never throttles us.
type IPAPIEnricher struct {
	baseURL   string
	userAgent string
	client    *http.Client
	limiter   *rate.Limiter
}

type ipapiResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	AS      string `json:"as"`
	ASName  string `json:"asname"`
}

// NewIPAPIEnricher returns an enricher issuing at most perMinute requests.
// An empty baseURL selects DefaultIPAPIURL.
func NewIPAPIEnricher(baseURL string, perMinute int, timeout time.Duration, userAgent string) *IPAPIEnricher {
	if baseURL == "" {
		baseURL = DefaultIPAPIURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if perMinute <= 0 {
		perMinute = DefaultIPAPIRate
	}
	return &IPAPIEnricher{
		baseURL:   baseURL,
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

// Enrich implements engine.Enricher.
func (e *IPAPIEnricher) Enrich(ctx context.Context, addr string) (engine.Network, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return engine.Network{}, fmt.Errorf("ip-api: %w", err)
	}

	u := e.baseURL + url.PathEscape(addr) + "?fields=status,message,as,asname"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return engine.Network{}, fmt.Errorf("ip-api: %w", err)
	}
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return engine.Network{}, fmt.Errorf("ip-api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return engine.Network{}, fmt.Errorf("ip-api: HTTP %d for %s", resp.StatusCode, addr)
	}

	var body ipapiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body); err != nil {
		return engine.Network{}, fmt.Errorf("ip-api: decode %s: %w", addr, err)
	}
	if body.Status == "fail" {
		return engine.Network{}, fmt.Errorf("ip-api: %s: %s", addr, body.Message)
	}
	return parseIPAPINetwork(body)
}

// parseIPAPINetwork splits the "as" field ("AS15169 Google LLC") into the AS
// number and the organisation, preferring asname for the name.
func parseIPAPINetwork(body ipapiResponse) (engine.Network, error) {
	id, org, _ := strings.Cut(strings.TrimSpace(body.AS), " ")
	if id == "" {
		return engine.Network{}, fmt.Errorf("ip-api: no AS in response")
	}
	name := strings.TrimSpace(body.ASName)
	if name == "" {
		name = strings.TrimSpace(org)
	}
	return engine.Network{ID: id, Name: name}, nil
}
