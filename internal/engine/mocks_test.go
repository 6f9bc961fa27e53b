package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Mock implementations for testing.

type inflight struct {
	cur, peak atomic.Int64
}

func (f *inflight) enter() {
	n := f.cur.Add(1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (f *inflight) leave() { f.cur.Add(-1) }

type mockResolver struct {
	mu      sync.Mutex
	addrs   map[string][]string
	errs    map[string][]error // consumed one per call
	calls   map[string]int
	delay   time.Duration
	block   chan struct{}
	entered atomic.Int64
	flight  inflight
}

func newMockResolver(addrs map[string][]string) *mockResolver {
	return &mockResolver{addrs: addrs, errs: map[string][]error{}, calls: map[string]int{}}
}

func (m *mockResolver) Resolve(ctx context.Context, host string) ([]string, error) {
	m.flight.enter()
	defer m.flight.leave()
	m.entered.Add(1)

	m.mu.Lock()
	m.calls[host]++
	var err error
	if q := m.errs[host]; len(q) > 0 {
		err, m.errs[host] = q[0], q[1:]
	}
	addrs := m.addrs[host]
	m.mu.Unlock()

	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, ErrNotFound
	}
	return addrs, nil
}

func (m *mockResolver) callCount(host string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[host]
}

type mockEnricher struct {
	networks map[string]Network
	err      error
}

func (m *mockEnricher) Enrich(ctx context.Context, addr string) (Network, error) {
	if m.err != nil {
		return Network{}, m.err
	}
	n, ok := m.networks[addr]
	if !ok {
		return Network{}, errors.New("no network")
	}
	return n, nil
}

type mockVerifier struct {
	status int
	body   string
	err    error
	delay  time.Duration
	flight inflight
	calls  atomic.Int64
}

func (m *mockVerifier) Verify(ctx context.Context, host, addr, path string) (Probe, error) {
	m.flight.enter()
	defer m.flight.leave()
	m.calls.Add(1)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.err != nil {
		return Probe{}, m.err
	}
	return Probe{StatusCode: m.status, Excerpt: m.body}, nil
}

type memStore struct {
	mu            sync.Mutex
	resolutions   map[string]ResolutionRecord
	verifications map[string]VerificationRecord
	runs          []RunSummary
	orderErrors   []string
	failAfter     int // fail resolution writes after this many; <0 disables
	writes        int
	synced        bool
}

func newMemStore() *memStore {
	return &memStore{
		resolutions:   map[string]ResolutionRecord{},
		verifications: map[string]VerificationRecord{},
		failAfter:     -1,
	}
}

func recordKey(host string, t time.Time) string {
	return host + "|" + t.Format(time.RFC3339Nano)
}

func (s *memStore) WriteResolution(ctx context.Context, rec ResolutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAfter >= 0 && s.writes >= s.failAfter {
		return errors.New("database is locked")
	}
	s.writes++
	key := recordKey(rec.Hostname, rec.ObservedAt)
	if _, dup := s.resolutions[key]; !dup {
		s.resolutions[key] = rec
	}
	return nil
}

func (s *memStore) WriteVerification(ctx context.Context, rec VerificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for _, r := range s.resolutions {
		if r.Hostname == rec.Hostname && r.Outcome == Resolved && r.RunID == rec.RunID {
			found = true
			break
		}
	}
	if !found {
		s.orderErrors = append(s.orderErrors, rec.Hostname)
	}
	key := recordKey(rec.Hostname, rec.ObservedAt)
	if _, dup := s.verifications[key]; !dup {
		s.verifications[key] = rec
	}
	return nil
}

func (s *memStore) WriteRun(ctx context.Context, sum RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, sum)
	return nil
}

func (s *memStore) Sync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synced = true
	return nil
}

func (s *memStore) resolutionList() []ResolutionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ResolutionRecord
	for _, r := range s.resolutions {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hostname < out[j].Hostname })
	return out
}

func (s *memStore) verificationList() []VerificationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []VerificationRecord
	for _, r := range s.verifications {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hostname < out[j].Hostname })
	return out
}

type noopProgress struct{}

func (p *noopProgress) Stage(num, total int, msg string) {}
func (p *noopProgress) Resolved(rec ResolutionRecord)    {}
func (p *noopProgress) Verified(rec VerificationRecord)  {}
func (p *noopProgress) Warn(msg string)                  {}
