package pattern

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_Segments(t *testing.T) {
	p, err := Compile(`sunpass.com-[a-z]{4}\.win`, Options{})
	require.NoError(t, err)

	require.Len(t, p.Segments, 3)
	assert.Equal(t, Segment{Kind: Literal, Text: "sunpass.com-"}, p.Segments[0])
	assert.Equal(t, Segment{Kind: Variable, Charset: "abcdefghijklmnopqrstuvwxyz", Min: 4, Max: 4}, p.Segments[1])
	assert.Equal(t, Segment{Kind: Literal, Text: ".win"}, p.Segments[2])
	assert.Equal(t, uint64(26*26*26*26), p.Size())
}

func TestCompile_Deterministic(t *testing.T) {
	srcs := []string{
		"sunpass-[a-z]{2}.win",
		"txtag.org-[a-z]{3}.win",
		"ez-[0-9a-c]{1,3}-[:digit:].top",
		"[abc][xy]{0,2}.vip",
	}
	for _, src := range srcs {
		t.Run(src, func(t *testing.T) {
			a, err := Compile(src, Options{})
			require.NoError(t, err)
			b, err := Compile(src, Options{})
			require.NoError(t, err)
			assert.Equal(t, a.Segments, b.Segments)

			// The canonical form compiles to the same segments.
			c, err := Compile(a.String(), Options{})
			require.NoError(t, err)
			assert.Equal(t, a.Segments, c.Segments)
		})
	}
}

func TestCompile_SizeIsProductOfCardinalities(t *testing.T) {
	tests := []struct {
		src  string
		want uint64
	}{
		{"a.com", 1},
		{"x-[ab]{2}.win", 4},
		{"x-[ab]{1,2}.win", 2 + 4},
		{"[ab]{0,1}-[0-9]{2}.top", 3 * 100},
		{"[a-c]-[xy]{3}.vip", 3 * 8},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			p, err := Compile(tt.src, Options{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Size())
		})
	}
}

func TestCompile_Rejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
		opts Options
	}{
		{"empty", "", Options{}},
		{"empty class", "a[]{2}.win", Options{}},
		{"min exceeds max", "a-[a-z]{3,2}.win", Options{}},
		{"length over limit", "a-[a-z]{9}.win", Options{}},
		{"configured limit", "a-[a-z]{4}.win", Options{MaxLength: 3}},
		{"star", "a-[a-z]*.win", Options{}},
		{"plus", "a-[a-z]+.win", Options{}},
		{"open range", "a-[a-z]{2,}.win", Options{}},
		{"group", "(a|b).win", Options{}},
		{"negated class", "a-[^a].win", Options{}},
		{"unknown named class", "a-[:upper:].win", Options{}},
		{"uppercase member", "a-[A-Z].win", Options{}},
		{"unterminated class", "a-[a-z.win", Options{}},
		{"unterminated quantifier", "a-[a-z]{2.win", Options{}},
		{"bad escape", `a\d.win`, Options{}},
		{"invalid char", "a_b.win", Options{}},
		{"alphabet empties class", "a-[0-9].win", Options{Alphabet: "ab"}},
		{"overflow", "[a-z0-9]{8}[a-z0-9]{8}[a-z0-9]{8}[a-z0-9]{8}", Options{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.src, tt.opts)
			require.Error(t, err)
			var perr *Error
			assert.True(t, errors.As(err, &perr), "want *pattern.Error, got %T", err)
		})
	}
}

func TestCompile_UppercaseLiteralsFolded(t *testing.T) {
	p, err := Compile("SunPass-[ab].WIN", Options{})
	require.NoError(t, err)
	assert.Equal(t, "sunpass-", p.Segments[0].Text)
	assert.Equal(t, ".win", p.Segments[2].Text)
}

func TestCompile_AlphabetRestricts(t *testing.T) {
	p, err := Compile("sunpass-[a-z]{2}.win", Options{Alphabet: "ab"})
	require.NoError(t, err)
	assert.Equal(t, "ab", p.Segments[1].Charset)
	assert.Equal(t, uint64(4), p.Size())
}
