// Package wordlist provides the embedded list of known phishing hostname
// patterns.
package wordlist

import (
	"bufio"
	"embed"
	"strings"
)

//go:embed patterns.txt
var patternsFS embed.FS

// Known is a hostname pattern observed in the wild.
type Known struct {
	Pattern string
	Note    string
}

// Patterns returns the embedded pattern list. Lines are trimmed and empty
// lines/comments are skipped.
func Patterns() []Known {
	data, err := patternsFS.ReadFile("patterns.txt")
	if err != nil {
		return nil
	}

	var out []Known
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		out = append(out, Known{
			Pattern: fields[0],
			Note:    strings.Join(fields[1:], " "),
		})
	}
	return out
}

// Lookup returns the known entry for pattern, if any.
func Lookup(pattern string) (Known, bool) {
	for _, k := range Patterns() {
		if k.Pattern == pattern {
			return k, true
		}
	}
	return Known{}, false
}
