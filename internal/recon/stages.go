package recon

import (
	"fmt"
	"strings"
	"time"

	"github.com/vulnverified/tollsweep/internal/engine"
)

// Enrichment source names accepted by Options.EnrichSources.
const (
	SourceCymru = "cymru"
	SourceIPAPI = "ip-api"
)

// Options configures the concrete stage implementations.
type Options struct {
	Nameservers []string
	DNSTimeout  time.Duration

	// EnrichSources lists enrichment sources in fallback order. Empty
	// disables enrichment.
	EnrichSources     []string
	IPAPIURL          string
	IPAPIRate         int
	CacheSize         int
	FailureThreshold  int
	FailureCooldown   time.Duration
	EnrichHTTPTimeout time.Duration

	Scheme      string
	Port        int
	UserAgent   string
	ExcerptSize int
}

// Stages is the set of network-facing stage implementations for a run.
type Stages struct {
	Resolver *Resolver
	Enricher engine.Enricher
	Prober   *Prober
}

// NewStages builds the resolver, enrichment chain and prober for opts.
// Enrichment is NetworkCache -> Fallback -> Breaker -> source.
func NewStages(opts Options) (*Stages, error) {
	resolver, err := NewResolver(opts.Nameservers, opts.DNSTimeout)
	if err != nil {
		return nil, fmt.Errorf("resolver: %w", err)
	}

	prober, err := NewProber(ProberOptions{
		Scheme:      opts.Scheme,
		Port:        opts.Port,
		UserAgent:   opts.UserAgent,
		ExcerptSize: opts.ExcerptSize,
	})
	if err != nil {
		return nil, fmt.Errorf("prober: %w", err)
	}

	s := &Stages{Resolver: resolver, Prober: prober}
	if len(opts.EnrichSources) == 0 {
		return s, nil
	}

	var chain Fallback
	for _, name := range opts.EnrichSources {
		var src engine.Enricher
		switch strings.ToLower(strings.TrimSpace(name)) {
		case SourceCymru:
			src = &CymruEnricher{Resolver: resolver}
		case SourceIPAPI:
			src = NewIPAPIEnricher(opts.IPAPIURL, opts.IPAPIRate, opts.EnrichHTTPTimeout, "")
		default:
			return nil, fmt.Errorf("unknown enrichment source %q", name)
		}
		chain = append(chain, &Breaker{
			Next:      src,
			Threshold: opts.FailureThreshold,
			Cooldown:  opts.FailureCooldown,
		})
	}

	cache, err := NewNetworkCache(chain, opts.CacheSize)
	if err != nil {
		return nil, err
	}
	s.Enricher = cache
	return s, nil
}
