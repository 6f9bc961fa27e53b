// Package output handles all tollsweep CLI output formatting.
package output

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/vulnverified/tollsweep/internal/engine"
)

// Progress reports a run on stderr: stage headers, warnings and, in verbose
// mode, every hostname that resolved or answered HTTP. It implements
// engine.ProgressReporter and is safe for use by concurrent workers.
type Progress struct {
	w       io.Writer
	verbose bool
	silent  bool
	mu      sync.Mutex
	start   time.Time

	resolved int
	answered int
	live     int
}

// NewProgress creates a progress reporter.
func NewProgress(w io.Writer, verbose, silent bool) *Progress {
	return &Progress{
		w:       w,
		verbose: verbose,
		silent:  silent,
		start:   time.Now(),
	}
}

// Stage prints a stage header like "[2/3] Probing with 100 resolvers..."
func (p *Progress) Stage(num, total int, msg string) {
	if p.silent {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "[%d/%d] %s\n", num, total, msg)
}

// Resolved counts a hostname that resolved.
func (p *Progress) Resolved(rec engine.ResolutionRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resolved++
	if p.verbose && !p.silent {
		fmt.Fprintf(p.w, "  %s -> %s\n", rec.Hostname, rec.Address)
	}
}

// Verified counts a hostname that answered the status probe. A 200 marks
// the lure as live.
func (p *Progress) Verified(rec engine.VerificationRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answered++
	if rec.StatusCode == http.StatusOK {
		p.live++
	}
	if p.verbose && !p.silent {
		fmt.Fprintf(p.w, "  %s%s: HTTP %d\n", rec.Hostname, rec.Path, rec.StatusCode)
	}
}

// Warn prints a warning to stderr.
func (p *Progress) Warn(msg string) {
	if p.silent {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "  ! %s\n", msg)
}

// Complete prints the duration and how many hosts resolved, answered and
// looked live.
func (p *Progress) Complete() {
	if p.silent {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	elapsed := time.Since(p.start)
	fmt.Fprintf(p.w, "\nCompleted in %.1fs: %d resolved, %d answered HTTP, %d live\n",
		elapsed.Seconds(), p.resolved, p.answered, p.live)
}
