package output

import (
	"fmt"
	"io"

	"github.com/vulnverified/tollsweep/internal/engine"
)

// Version is set via ldflags at build time.
var Version = "dev"

// WriteHeader prints the tollsweep banner.
func WriteHeader(w io.Writer, noColor bool) {
	if noColor {
		fmt.Fprintf(w, "tollsweep %s\n\n", Version)
	} else {
		fmt.Fprintf(w, "\033[1mtollsweep %s\033[0m\n\n", Version)
	}
}

// WriteSummary prints the post-run summary: what was probed, what was found
// and whether the run broke.
func WriteSummary(w io.Writer, s *engine.RunSummary, noColor bool) {
	label := func(name string) string {
		if noColor {
			return name + ":"
		}
		return "\033[1m" + name + ":\033[0m"
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s %s\n", label("Run"), s.RunID)
	if s.Pattern != "" {
		fmt.Fprintf(w, "%s %s (%d candidates, offset %d)\n", label("Pattern"), s.Pattern, s.SpaceSize, s.StartOffset)
	}
	fmt.Fprintf(w, "%s %d generated, %d resolved, %d verified, %d failed\n",
		label("Candidates"), s.Generated, s.Resolved, s.Verified, s.FailedCount())
	fmt.Fprintf(w, "%s %.1fs\n", label("Duration"), s.DurationSecs)

	WriteCounts(w, s, noColor)

	switch {
	case s.State == engine.Aborted:
		fmt.Fprintln(w)
		if noColor {
			fmt.Fprintf(w, "! Run aborted: %s\n", s.Error)
		} else {
			fmt.Fprintf(w, "\033[31m!\033[0m Run aborted: %s\n", s.Error)
		}
		if s.Pattern != "" {
			fmt.Fprintf(w, "  Resume with %s\n", resumeArgs(s))
		}
	case s.Skipped > 0 && s.Pattern != "":
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Stopped early, %d candidates skipped. Resume with %s\n", s.Skipped, resumeArgs(s))
	case s.Pattern != "" && s.NextOffset < s.SpaceSize:
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Pattern not exhausted. Continue with %s\n", resumeArgs(s))
	}
}

// resumeArgs returns the flags that continue s where it stopped.
func resumeArgs(s *engine.RunSummary) string {
	if s.Shuffled {
		return fmt.Sprintf("--shuffle --seed %d --offset %d", s.Seed, s.NextOffset)
	}
	return fmt.Sprintf("--offset %d", s.NextOffset)
}
