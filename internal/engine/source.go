package engine

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/vulnverified/tollsweep/internal/pattern"
)

// CandidateSource yields candidates one at a time. Sources are consumed by a
// single goroutine.
type CandidateSource interface {
	Next() (Candidate, bool)
}

// PatternSource adapts a pattern generator, optionally capped at limit
// candidates (zero means no cap).
type PatternSource struct {
	gen     *pattern.Generator
	id      string
	limit   uint64
	emitted uint64
}

// NewPatternSource starts generation of p at offset.
func NewPatternSource(p *pattern.Pattern, offset, limit uint64) (*PatternSource, error) {
	gen, err := pattern.NewGenerator(p, offset)
	if err != nil {
		return nil, err
	}
	return &PatternSource{gen: gen, id: p.ID(), limit: limit}, nil
}

// NewShuffledPatternSource enumerates p in the order fixed by seed, starting
// at position offset of that order.
func NewShuffledPatternSource(p *pattern.Pattern, offset, limit, seed uint64) (*PatternSource, error) {
	gen, err := pattern.NewShuffledGenerator(p, offset, seed)
	if err != nil {
		return nil, err
	}
	return &PatternSource{gen: gen, id: p.ID(), limit: limit}, nil
}

// Next implements CandidateSource.
func (s *PatternSource) Next() (Candidate, bool) {
	if s.limit > 0 && s.emitted >= s.limit {
		return Candidate{}, false
	}
	host, ordinal, ok := s.gen.Next()
	if !ok {
		return Candidate{}, false
	}
	s.emitted++
	return Candidate{Hostname: host, PatternID: s.id, Ordinal: ordinal}, true
}

// ListSource yields a fixed list of hostnames.
type ListSource struct {
	hosts []string
	i     int
}

// NewListSource returns a source over hosts.
func NewListSource(hosts []string) *ListSource {
	return &ListSource{hosts: hosts}
}

// Next implements CandidateSource.
func (s *ListSource) Next() (Candidate, bool) {
	if s.i >= len(s.hosts) {
		return Candidate{}, false
	}
	h := s.hosts[s.i]
	s.i++
	return Candidate{Hostname: h}, true
}

// ReadHostnames parses a newline-delimited hostname list. Blank lines and
// '#' comments are skipped, names are lower-cased and deduplicated.
func ReadHostnames(r io.Reader) ([]string, error) {
	seen := make(map[string]bool)
	var hosts []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSuffix(line, ".")
		if !seen[line] {
			seen[line] = true
			hosts = append(hosts, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read hostnames: %w", err)
	}
	return hosts, nil
}

// chainSource drains each source in order.
type chainSource []CandidateSource

func (c *chainSource) Next() (Candidate, bool) {
	for len(*c) > 0 {
		if cand, ok := (*c)[0].Next(); ok {
			return cand, true
		}
		*c = (*c)[1:]
	}
	return Candidate{}, false
}
