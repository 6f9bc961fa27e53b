package recon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/vulnverified/tollsweep/internal/engine"
	"github.com/yl2chen/cidranger"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheSize bounds the number of addresses remembered per run.
const DefaultCacheSize = 65536

// ErrSuspended is returned while a failing enrichment source cools down.
var ErrSuspended = errors.New("enrichment suspended")

// NetworkCache fronts an Enricher with a bounded address cache and an index
// of the prefixes already learned, so every address inside a known prefix
// is answered locally. Concurrent misses for one address share one lookup.
type NetworkCache struct {
	next   engine.Enricher
	addrs  *lru.Cache[string, engine.Network]
	flight singleflight.Group

	mu     sync.RWMutex
	ranger cidranger.Ranger
}

type prefixEntry struct {
	ipnet   net.IPNet
	network engine.Network
}

func (e *prefixEntry) Network() net.IPNet {
	return e.ipnet
}

// NewNetworkCache wraps next with a cache of at most size addresses.
func NewNetworkCache(next engine.Enricher, size int) (*NetworkCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	addrs, err := lru.New[string, engine.Network](size)
	if err != nil {
		return nil, fmt.Errorf("network cache: %w", err)
	}
	return &NetworkCache{
		next:   next,
		addrs:  addrs,
		ranger: cidranger.NewPCTrieRanger(),
	}, nil
}

// Enrich implements engine.Enricher.
func (c *NetworkCache) Enrich(ctx context.Context, addr string) (engine.Network, error) {
	if n, ok := c.addrs.Get(addr); ok {
		return n, nil
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return engine.Network{}, fmt.Errorf("invalid address %q", addr)
	}
	if n, ok := c.searchPrefix(ip); ok {
		c.addrs.Add(addr, n)
		return n, nil
	}

	v, err, _ := c.flight.Do(addr, func() (any, error) {
		n, err := c.next.Enrich(ctx, addr)
		if err != nil {
			return engine.Network{}, err
		}
		c.addrs.Add(addr, n)
		c.insertPrefix(n)
		return n, nil
	})
	if err != nil {
		return engine.Network{}, err
	}
	return v.(engine.Network), nil
}

// Len returns the number of cached addresses.
func (c *NetworkCache) Len() int {
	return c.addrs.Len()
}

func (c *NetworkCache) searchPrefix(ip net.IP) (engine.Network, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries, err := c.ranger.ContainingNetworks(ip)
	if err != nil {
		return engine.Network{}, false
	}

	// Prefer the most specific prefix.
	var best *prefixEntry
	bestOnes := -1
	for _, e := range entries {
		entry, ok := e.(*prefixEntry)
		if !ok {
			continue
		}
		if ones, _ := entry.ipnet.Mask.Size(); ones > bestOnes {
			best, bestOnes = entry, ones
		}
	}
	if best == nil {
		return engine.Network{}, false
	}
	return best.network, true
}

func (c *NetworkCache) insertPrefix(n engine.Network) {
	if n.Prefix == "" {
		return
	}
	_, ipnet, err := net.ParseCIDR(n.Prefix)
	if err != nil {
		return
	}
	// A default route would swallow every lookup.
	if ones, _ := ipnet.Mask.Size(); ones == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ranger.Insert(&prefixEntry{ipnet: *ipnet, network: n})
}

// Breaker suspends an enrichment source for Cooldown once it has failed
// Threshold times in a row. While suspended, lookups fail immediately with
// ErrSuspended instead of waiting on a dead source.
type Breaker struct {
	Next      engine.Enricher
	Threshold int
	Cooldown  time.Duration
	Now       func() time.Time

	mu        sync.Mutex
	failures  int
	openUntil time.Time
}

// Enrich implements engine.Enricher.
func (b *Breaker) Enrich(ctx context.Context, addr string) (engine.Network, error) {
	now := b.now()
	b.mu.Lock()
	if now.Before(b.openUntil) {
		b.mu.Unlock()
		return engine.Network{}, ErrSuspended
	}
	b.mu.Unlock()

	n, err := b.Next.Enrich(ctx, addr)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		if b.Threshold > 0 && b.failures >= b.Threshold {
			b.openUntil = b.now().Add(b.Cooldown)
			b.failures = 0
		}
		return engine.Network{}, err
	}
	b.failures = 0
	return n, nil
}

func (b *Breaker) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// Fallback tries each enricher in order and returns the first answer.
type Fallback []engine.Enricher

// Enrich implements engine.Enricher.
func (f Fallback) Enrich(ctx context.Context, addr string) (engine.Network, error) {
	var errs *multierror.Error
	for _, e := range f {
		n, err := e.Enrich(ctx, addr)
		if err == nil {
			return n, nil
		}
		errs = multierror.Append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if errs == nil {
		return engine.Network{}, fmt.Errorf("no enrichment sources for %s", addr)
	}
	return engine.Network{}, errs.ErrorOrNil()
}
