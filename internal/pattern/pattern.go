// Package pattern compiles hostname patterns such as "sunpass.com-[a-z]{4}.win"
// into segment lists and enumerates the candidate hostnames they describe.
package pattern

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"

	"github.com/vulnverified/tollsweep/pkg/charset"
)

// DefaultMaxLength bounds the length of a single variable segment.
const DefaultMaxLength = 8

// Kind distinguishes literal from variable segments.
type Kind int

const (
	// Literal segments contribute fixed text.
	Literal Kind = iota
	// Variable segments contribute a run of characters drawn from a charset.
	Variable
)

func (k Kind) String() string {
	if k == Variable {
		return "variable"
	}
	return "literal"
}

// Segment is one compiled piece of a pattern.
type Segment struct {
	Kind    Kind
	Text    string // literal text
	Charset string // sorted, deduplicated members
	Min     int
	Max     int
}

// cardinality returns the number of distinct strings the segment yields,
// and false on uint64 overflow.
func (s Segment) cardinality() (uint64, bool) {
	if s.Kind == Literal {
		return 1, true
	}
	k := uint64(len(s.Charset))
	var total uint64
	for l := s.Min; l <= s.Max; l++ {
		n, ok := pow(k, l)
		if !ok {
			return 0, false
		}
		var carry uint64
		total, carry = bits.Add64(total, n, 0)
		if carry != 0 {
			return 0, false
		}
	}
	return total, true
}

// Pattern is a compiled hostname pattern. It is immutable after Compile.
type Pattern struct {
	Source   string
	Segments []Segment

	radices []uint64 // cardinality per variable segment
	size    uint64
}

// ID identifies the pattern candidates were generated from.
func (p *Pattern) ID() string { return p.String() }

// Size is the number of candidates in the pattern space.
func (p *Pattern) Size() uint64 { return p.size }

// String renders the canonical form of the pattern. Compiling the canonical
// form yields an identical segment list.
func (p *Pattern) String() string {
	var b strings.Builder
	for _, s := range p.Segments {
		if s.Kind == Literal {
			b.WriteString(s.Text)
			continue
		}
		b.WriteByte('[')
		b.WriteString(s.Charset)
		b.WriteByte(']')
		if s.Min == s.Max {
			fmt.Fprintf(&b, "{%d}", s.Min)
		} else {
			fmt.Fprintf(&b, "{%d,%d}", s.Min, s.Max)
		}
	}
	return b.String()
}

// Options tune compilation.
type Options struct {
	// MaxLength caps every variable segment's maximum length.
	// Zero means DefaultMaxLength.
	MaxLength int
	// Alphabet, when set, restricts every class to the given members.
	Alphabet string
}

// Error reports why a pattern was rejected.
type Error struct {
	Pattern string
	Pos     int
	Reason  string
}

func (e *Error) Error() string {
	if e.Pos < 0 {
		return fmt.Sprintf("pattern %q: %s", e.Pattern, e.Reason)
	}
	return fmt.Sprintf("pattern %q: at offset %d: %s", e.Pattern, e.Pos, e.Reason)
}

// Compile parses src into a Pattern. Compilation is deterministic.
func Compile(src string, opts Options) (*Pattern, error) {
	if opts.MaxLength <= 0 {
		opts.MaxLength = DefaultMaxLength
	}

	c := &compiler{src: src, opts: opts}
	if err := c.parse(); err != nil {
		return nil, err
	}

	p := &Pattern{Source: src, Segments: c.segments, size: 1}
	for _, s := range p.Segments {
		if s.Kind != Variable {
			continue
		}
		n, ok := s.cardinality()
		if !ok {
			return nil, &Error{Pattern: src, Pos: -1, Reason: "candidate space overflows"}
		}
		hi, lo := bits.Mul64(p.size, n)
		if hi != 0 {
			return nil, &Error{Pattern: src, Pos: -1, Reason: "candidate space overflows"}
		}
		p.size = lo
		p.radices = append(p.radices, n)
	}
	if p.size == 0 {
		return nil, &Error{Pattern: src, Pos: -1, Reason: "pattern produces no candidates"}
	}
	return p, nil
}

type compiler struct {
	src      string
	opts     Options
	pos      int
	segments []Segment
	literal  strings.Builder
}

func (c *compiler) fail(pos int, format string, args ...any) error {
	return &Error{Pattern: c.src, Pos: pos, Reason: fmt.Sprintf(format, args...)}
}

func (c *compiler) flushLiteral() {
	if c.literal.Len() == 0 {
		return
	}
	c.segments = append(c.segments, Segment{Kind: Literal, Text: c.literal.String()})
	c.literal.Reset()
}

func (c *compiler) parse() error {
	if strings.TrimSpace(c.src) == "" {
		return c.fail(-1, "empty pattern")
	}

	for c.pos < len(c.src) {
		ch := c.src[c.pos]
		switch {
		case ch == '\\':
			if c.pos+1 >= len(c.src) {
				return c.fail(c.pos, "dangling escape")
			}
			next := c.src[c.pos+1]
			if next != '.' && next != '-' {
				return c.fail(c.pos, "unsupported escape \\%c", next)
			}
			c.literal.WriteByte(next)
			c.pos += 2
		case ch == '[':
			seg, err := c.parseVariable()
			if err != nil {
				return err
			}
			c.flushLiteral()
			c.segments = append(c.segments, seg)
		case ch == '*' || ch == '+':
			return c.fail(c.pos, "unbounded quantifier %q", ch)
		case ch == '?' || ch == '{' || ch == '}' || ch == ']':
			return c.fail(c.pos, "unexpected %q", ch)
		case ch == '(' || ch == ')' || ch == '|' || ch == '^' || ch == '$':
			return c.fail(c.pos, "unsupported syntax %q", ch)
		case ch == '.' || charset.IsHostnameByte(ch):
			c.literal.WriteByte(ch)
			c.pos++
		case ch >= 'A' && ch <= 'Z':
			c.literal.WriteByte(ch + ('a' - 'A'))
			c.pos++
		default:
			return c.fail(c.pos, "invalid hostname character %q", ch)
		}
	}
	c.flushLiteral()
	return nil
}

// parseVariable consumes "[class]" and an optional "{n}" or "{m,n}" quantifier.
func (c *compiler) parseVariable() (Segment, error) {
	start := c.pos
	end := strings.IndexByte(c.src[start:], ']')
	if end < 0 {
		return Segment{}, c.fail(start, "unterminated character class")
	}
	body := c.src[start+1 : start+end]
	c.pos = start + end + 1

	members, err := c.parseClass(start, body)
	if err != nil {
		return Segment{}, err
	}
	if c.opts.Alphabet != "" {
		members = restrict(members, c.opts.Alphabet)
	}
	if members == "" {
		return Segment{}, c.fail(start, "empty character class")
	}

	minLen, maxLen, err := c.parseQuantifier()
	if err != nil {
		return Segment{}, err
	}
	return Segment{Kind: Variable, Charset: members, Min: minLen, Max: maxLen}, nil
}

func (c *compiler) parseClass(pos int, body string) (string, error) {
	if body == "" {
		return "", c.fail(pos, "empty character class")
	}
	if strings.HasPrefix(body, "^") {
		return "", c.fail(pos, "negated classes are unsupported")
	}
	if strings.HasPrefix(body, ":") && strings.HasSuffix(body, ":") && len(body) > 2 {
		name := body[1 : len(body)-1]
		members, ok := charset.Lookup(name)
		if !ok {
			return "", c.fail(pos, "unknown class [:%s:]", name)
		}
		return members, nil
	}

	var members []byte
	for i := 0; i < len(body); i++ {
		lo := body[i]
		if i+2 < len(body) && body[i+1] == '-' {
			hi := body[i+2]
			if hi < lo {
				return "", c.fail(pos, "reversed range %c-%c", lo, hi)
			}
			for b := lo; b <= hi; b++ {
				if !charset.IsHostnameByte(b) {
					return "", c.fail(pos, "range %c-%c spans invalid hostname characters", lo, hi)
				}
				members = append(members, b)
			}
			i += 2
			continue
		}
		if !charset.IsHostnameByte(lo) {
			return "", c.fail(pos, "invalid class member %q", lo)
		}
		members = append(members, lo)
	}
	return charset.Normalize(members), nil
}

func (c *compiler) parseQuantifier() (int, int, error) {
	if c.pos >= len(c.src) {
		return 1, 1, nil
	}
	switch c.src[c.pos] {
	case '*', '+':
		return 0, 0, c.fail(c.pos, "unbounded quantifier %q", c.src[c.pos])
	case '?':
		return 0, 0, c.fail(c.pos, "optional quantifier is unsupported, use {0,1}")
	case '{':
	default:
		return 1, 1, nil
	}

	start := c.pos
	end := strings.IndexByte(c.src[start:], '}')
	if end < 0 {
		return 0, 0, c.fail(start, "unterminated quantifier")
	}
	body := c.src[start+1 : start+end]
	c.pos = start + end + 1

	lo, hi, found := strings.Cut(body, ",")
	minLen, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil || minLen < 0 {
		return 0, 0, c.fail(start, "invalid length %q", lo)
	}
	maxLen := minLen
	if found {
		if strings.TrimSpace(hi) == "" {
			return 0, 0, c.fail(start, "unbounded length {%d,}", minLen)
		}
		maxLen, err = strconv.Atoi(strings.TrimSpace(hi))
		if err != nil || maxLen < 0 {
			return 0, 0, c.fail(start, "invalid length %q", hi)
		}
	}
	if minLen > maxLen {
		return 0, 0, c.fail(start, "minimum length %d exceeds maximum %d", minLen, maxLen)
	}
	if maxLen > c.opts.MaxLength {
		return 0, 0, c.fail(start, "length %d exceeds limit %d", maxLen, c.opts.MaxLength)
	}
	return minLen, maxLen, nil
}

func restrict(members, alphabet string) string {
	var out []byte
	for i := 0; i < len(members); i++ {
		if strings.IndexByte(alphabet, members[i]) >= 0 {
			out = append(out, members[i])
		}
	}
	return string(out)
}

func pow(base uint64, exp int) (uint64, bool) {
	result := uint64(1)
	for i := 0; i < exp; i++ {
		hi, lo := bits.Mul64(result, base)
		if hi != 0 {
			return 0, false
		}
		result = lo
	}
	return result, true
}
