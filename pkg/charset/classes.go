// Package charset provides the character classes accepted in hostname patterns.
package charset

import "sort"

const (
	// Lower is the lowercase ASCII alphabet.
	Lower = "abcdefghijklmnopqrstuvwxyz"
	// Digits are the decimal digits.
	Digits = "0123456789"
)

// Named maps POSIX-style class names (as written inside "[: :]") to their members.
// Every class is sorted ascending so enumeration order is stable.
var Named = map[string]string{
	"alpha": Lower,
	"lower": Lower,
	"digit": Digits,
	"alnum": Digits + Lower,
}

// Lookup returns the members of a named class.
func Lookup(name string) (string, bool) {
	s, ok := Named[name]
	return s, ok
}

// IsHostnameByte reports whether b may appear inside a DNS label.
func IsHostnameByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9') || b == '-'
}

// Normalize sorts and deduplicates a set of class members.
func Normalize(members []byte) string {
	seen := make(map[byte]bool, len(members))
	deduped := make([]byte, 0, len(members))
	for _, b := range members {
		if !seen[b] {
			seen[b] = true
			deduped = append(deduped, b)
		}
	}
	sort.Slice(deduped, func(i, j int) bool { return deduped[i] < deduped[j] })
	return string(deduped)
}
