package main

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/vulnverified/tollsweep/internal/output"
	"github.com/vulnverified/tollsweep/internal/pattern"
	"github.com/vulnverified/tollsweep/internal/wordlist"
)

func newPatternsCommand() *cobra.Command {
	var jsonOutput, noColor bool
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "List the bundled toll-lure patterns and their candidate counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			type row struct {
				Pattern string `json:"pattern"`
				Size    uint64 `json:"size"`
				Note    string `json:"note,omitempty"`
			}
			var rows []row
			for _, k := range wordlist.Patterns() {
				p, err := pattern.Compile(k.Pattern, pattern.Options{})
				if err != nil {
					return err
				}
				rows = append(rows, row{Pattern: p.ID(), Size: p.Size(), Note: k.Note})
			}
			if jsonOutput {
				return output.WriteJSON(os.Stdout, rows)
			}
			table := make([][]string, 0, len(rows))
			for _, r := range rows {
				table = append(table, []string{r.Pattern, strconv.FormatUint(r.Size, 10), r.Note})
			}
			if _, ok := os.LookupEnv("NO_COLOR"); ok {
				noColor = true
			}
			output.WritePatterns(os.Stdout, table, noColor)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable terminal colors")
	return cmd
}
