package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, p *Pattern, offset uint64) []string {
	t.Helper()
	g, err := NewGenerator(p, offset)
	require.NoError(t, err)
	out := []string{}
	for {
		host, _, ok := g.Next()
		if !ok {
			break
		}
		out = append(out, host)
	}
	return out
}

func TestGenerator_LexicographicOrder(t *testing.T) {
	p, err := Compile("sunpass-[a-z]{2}.win", Options{Alphabet: "ab"})
	require.NoError(t, err)

	got := collect(t, p, 0)
	assert.Equal(t, []string{
		"sunpass-aa.win",
		"sunpass-ab.win",
		"sunpass-ba.win",
		"sunpass-bb.win",
	}, got)
}

func TestGenerator_MixedRadixAcrossSegments(t *testing.T) {
	p, err := Compile("[ab]-[xy]{0,1}.top", Options{})
	require.NoError(t, err)

	got := collect(t, p, 0)
	assert.Equal(t, []string{
		"a-.top", "a-x.top", "a-y.top",
		"b-.top", "b-x.top", "b-y.top",
	}, got)
}

func TestGenerator_ExactlyNDistinct(t *testing.T) {
	p, err := Compile("t-[a-c]{1,3}-[0-9].vip", Options{})
	require.NoError(t, err)

	got := collect(t, p, 0)
	require.Len(t, got, int(p.Size()))

	seen := make(map[string]bool, len(got))
	for _, h := range got {
		assert.False(t, seen[h], "duplicate %s", h)
		seen[h] = true
	}
}

func TestGenerator_ResumeMatchesSkip(t *testing.T) {
	p, err := Compile("e-[a-d]{1,2}[0-2].win", Options{})
	require.NoError(t, err)

	full := collect(t, p, 0)
	for _, k := range []uint64{0, 1, 7, 19, p.Size() - 1, p.Size()} {
		got := collect(t, p, k)
		assert.Equal(t, full[k:], got, "offset %d", k)
	}
}

func TestGenerator_OrdinalsAndAt(t *testing.T) {
	p, err := Compile("x-[a-e]{2}.win", Options{})
	require.NoError(t, err)

	g, err := NewGenerator(p, 3)
	require.NoError(t, err)
	for want := uint64(3); ; want++ {
		host, ordinal, ok := g.Next()
		if !ok {
			assert.Equal(t, p.Size(), want)
			break
		}
		assert.Equal(t, want, ordinal)
		at, err := p.At(ordinal)
		require.NoError(t, err)
		assert.Equal(t, host, at)
	}
	assert.Zero(t, g.Remaining())
}

func TestGenerator_SeekBeyondSpace(t *testing.T) {
	p, err := Compile("x-[ab].win", Options{})
	require.NoError(t, err)
	_, err = NewGenerator(p, 3)
	assert.Error(t, err)
	_, err = p.At(2)
	assert.Error(t, err)
}

func TestGenerator_LiteralOnly(t *testing.T) {
	p, err := Compile("ezpass.win", Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"ezpass.win"}, collect(t, p, 0))
}
