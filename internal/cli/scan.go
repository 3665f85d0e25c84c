package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sentinel/internal/config"
	"github.com/ppiankov/sentinel/internal/scan"
)

func init() {
	rootCmd.AddCommand(scanCmd)
}

var scanCmd = &cobra.Command{
	Use:   "scan <text>...",
	Short: "Run the local pattern matcher on text",
	Long: "Runs only the local identifier and keyword patterns, with no oracle call.\n" +
		"Arguments are joined with spaces; \"-\" reads from stdin. Matched values are masked.",
	Args: cobra.MinimumNArgs(1),
	RunE: runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := config.Read(flagConfig)
	if err != nil {
		return err
	}
	scanner, err := scan.New(&cfg.Patterns)
	if err != nil {
		return &config.Error{Field: "patterns", Err: err}
	}

	text := strings.Join(args, " ")
	if text == "-" {
		raw, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		text = string(raw)
	}

	matches := scanner.Scan(text)
	for i := range matches {
		matches[i].Value = scan.Mask(matches[i].Value)
	}

	format := cfg.Report.Format
	if flagFormat != "" {
		format = flagFormat
	}
	out := cmd.OutOrStdout()
	if format == "json" {
		if matches == nil {
			matches = []scan.Match{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(matches)
	}

	if len(matches) == 0 {
		fmt.Fprintln(out, "clean: no patterns matched")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tRULE\tVALUE\tSPAN")
	for _, m := range matches {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d-%d\n", m.Kind, m.Rule, m.Value, m.Start, m.End)
	}
	return w.Flush()
}
