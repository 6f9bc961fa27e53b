package output

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/vulnverified/tollsweep/internal/engine"
)

const timeFormat = "2006-01-02 15:04:05"

// WriteCounts renders the per-outcome counts of a run.
func WriteCounts(w io.Writer, s *engine.RunSummary, noColor bool) {
	rows := [][]string{
		{"resolve", string(engine.Resolved), itoa(s.Resolved)},
		{"resolve", string(engine.NotFound), itoa(s.NotFound)},
		{"resolve", string(engine.Timeout), itoa(s.ResolveTimeouts)},
		{"resolve", string(engine.Failed), itoa(s.ResolveErrors)},
		{"resolve", "retried", itoa(s.Retries)},
		{"enrich", "enriched", itoa(s.Enriched)},
		{"enrich", "failed", itoa(s.EnrichFailures)},
		{"verify", string(engine.Checked), itoa(s.Verified)},
		{"verify", string(engine.Unreachable), itoa(s.Unreachable)},
		{"verify", string(engine.Timeout), itoa(s.VerifyTimeouts)},
		{"verify", string(engine.Failed), itoa(s.VerifyErrors)},
		{"run", "skipped", itoa(s.Skipped)},
		{"run", "store failures", itoa(s.StoreFailures)},
	}
	fmt.Fprintln(w)
	render(w, []string{"Stage", "Outcome", "Count"}, rows, noColor)
}

// WriteResolutions renders DNS observations, one per row.
func WriteResolutions(w io.Writer, recs []engine.ResolutionRecord, noColor bool) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "\nNo resolution records.")
		return
	}
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		network := r.NetworkID
		if r.NetworkName != "" {
			network = strings.TrimSpace(network + " " + r.NetworkName)
		}
		rows = append(rows, []string{
			r.ObservedAt.Format(timeFormat),
			r.Hostname,
			string(r.Outcome),
			r.Address,
			truncate(network, 40),
		})
	}
	fmt.Fprintln(w)
	render(w, []string{"Observed", "Host", "Outcome", "Address", "Network"}, rows, noColor)
}

// WriteVerifications renders HTTP observations, one per row.
func WriteVerifications(w io.Writer, recs []engine.VerificationRecord, noColor bool) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "\nNo verification records.")
		return
	}
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		status := ""
		if r.Outcome == engine.Checked {
			status = strconv.Itoa(r.StatusCode)
		}
		rows = append(rows, []string{
			r.ObservedAt.Format(timeFormat),
			r.Hostname,
			r.Path,
			string(r.Outcome),
			status,
			truncate(oneLine(r.Excerpt), 40),
		})
	}
	fmt.Fprintln(w)
	render(w, []string{"Observed", "Host", "Path", "Outcome", "Status", "Response"}, rows, noColor)
}

// WriteRuns renders stored run summaries.
func WriteRuns(w io.Writer, runs []engine.RunSummary, noColor bool) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "\nNo runs recorded.")
		return
	}
	rows := make([][]string, 0, len(runs))
	for _, s := range runs {
		rows = append(rows, []string{
			s.StartedAt.Format(timeFormat),
			s.RunID,
			truncate(s.Pattern, 30),
			s.State.String(),
			itoa(s.Generated),
			itoa(s.Resolved),
			itoa(s.Verified),
			strconv.FormatUint(s.NextOffset, 10),
		})
	}
	fmt.Fprintln(w)
	render(w, []string{"Started", "Run", "Pattern", "State", "Generated", "Resolved", "Verified", "Next"}, rows, noColor)
}

// WritePatterns renders the bundled pattern list with candidate counts.
func WritePatterns(w io.Writer, rows [][]string, noColor bool) {
	render(w, []string{"Pattern", "Candidates", "Note"}, rows, noColor)
}

func render(w io.Writer, headers []string, rows [][]string, noColor bool) {
	if noColor {
		writeSimpleTable(w, headers, rows)
		return
	}

	t := table.New().
		Headers(headers...).
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
			}
			return lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
		})

	for _, row := range rows {
		t.Row(row...)
	}

	fmt.Fprintln(w, t.Render())
}

func writeSimpleTable(w io.Writer, headers []string, rows [][]string) {
	// Calculate column widths.
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	writeRow := func(cells []string) {
		for i, cell := range cells {
			if i > 0 {
				fmt.Fprint(w, " | ")
			}
			fmt.Fprintf(w, "%-*s", widths[i], cell)
		}
		fmt.Fprintln(w)
	}

	writeRow(headers)
	for i, width := range widths {
		if i > 0 {
			fmt.Fprint(w, "-+-")
		}
		fmt.Fprint(w, strings.Repeat("-", width))
	}
	fmt.Fprintln(w)
	for _, row := range rows {
		writeRow(row)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
