package pattern

import (
	"fmt"
	"strings"
)

// Generator lazily enumerates a pattern's candidates in a fixed order: each
// variable segment counts through its strings (shorter lengths first, then
// lexicographic over the charset), and segments nest like a mixed-radix
// counter with the rightmost segment varying fastest.
//
// A Generator holds one counter digit per variable segment; it never
// materializes the candidate space. It is not safe for concurrent use.
type Generator struct {
	p      *Pattern
	digits []uint64
	next   uint64
	perm   *Permutation
}

// NewGenerator returns a generator positioned at offset.
func NewGenerator(p *Pattern, offset uint64) (*Generator, error) {
	g := &Generator{p: p, digits: make([]uint64, len(p.radices))}
	if err := g.Seek(offset); err != nil {
		return nil, err
	}
	return g, nil
}

// Seek repositions the generator so the next candidate has ordinal offset.
// Seeking to Size() leaves the generator exhausted.
func (g *Generator) Seek(offset uint64) error {
	if offset > g.p.size {
		return fmt.Errorf("offset %d beyond candidate space of %d", offset, g.p.size)
	}
	rem := offset
	for i := len(g.p.radices) - 1; i >= 0; i-- {
		g.digits[i] = rem % g.p.radices[i]
		rem /= g.p.radices[i]
	}
	g.next = offset
	return nil
}

// Offset is the ordinal of the next candidate Next will return.
func (g *Generator) Offset() uint64 { return g.next }

// Remaining is the number of candidates not yet returned.
func (g *Generator) Remaining() uint64 { return g.p.size - g.next }

// Next returns the next hostname and its ordinal, or false when exhausted.
func (g *Generator) Next() (string, uint64, bool) {
	if g.next >= g.p.size {
		return "", 0, false
	}
	ordinal := g.next
	if g.perm != nil {
		g.next++
		host, _ := g.p.At(g.perm.At(ordinal))
		return host, ordinal, true
	}
	host := g.p.render(g.digits)

	g.next++
	for i := len(g.digits) - 1; i >= 0; i-- {
		g.digits[i]++
		if g.digits[i] < g.p.radices[i] {
			break
		}
		g.digits[i] = 0
	}
	return host, ordinal, true
}

// At returns the candidate with the given ordinal.
func (p *Pattern) At(ordinal uint64) (string, error) {
	if ordinal >= p.size {
		return "", fmt.Errorf("ordinal %d beyond candidate space of %d", ordinal, p.size)
	}
	digits := make([]uint64, len(p.radices))
	for i := len(p.radices) - 1; i >= 0; i-- {
		digits[i] = ordinal % p.radices[i]
		ordinal /= p.radices[i]
	}
	return p.render(digits), nil
}

func (p *Pattern) render(digits []uint64) string {
	var b strings.Builder
	v := 0
	for _, s := range p.Segments {
		if s.Kind == Literal {
			b.WriteString(s.Text)
			continue
		}
		writeVariable(&b, s, digits[v])
		v++
	}
	return b.String()
}

// writeVariable decodes index into the segment's string: lengths are laid
// out shortest first, and within a length the leftmost character is the
// most significant digit.
func writeVariable(b *strings.Builder, s Segment, index uint64) {
	k := uint64(len(s.Charset))
	for l := s.Min; l <= s.Max; l++ {
		count, _ := pow(k, l)
		if index >= count {
			index -= count
			continue
		}
		buf := make([]byte, l)
		for i := l - 1; i >= 0; i-- {
			buf[i] = s.Charset[index%k]
			index /= k
		}
		b.Write(buf)
		return
	}
}
