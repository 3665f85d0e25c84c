package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sentinel/internal/pipeline"
	"github.com/ppiankov/sentinel/internal/report"
	"github.com/ppiankov/sentinel/internal/source"
)

var (
	batchDeterministic bool
	batchReportPath    string
)

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.Flags().BoolVar(&batchDeterministic, "deterministic", false, "Zero-tolerance pattern matching: any identifier hit is an axiom violation")
	batchCmd.Flags().StringVar(&batchReportPath, "report", "", "Write a Markdown audit report to this path")
}

var batchCmd = &cobra.Command{
	Use:   "batch <file.json>",
	Short: "Audit a JSON array of log records in one oracle call",
	Long: "Reads every record from the file, classifies them in one request and renders the report.\n" +
		"Exits 0 when clean (or when the oracle failed and the batch was skipped), 100 on lockdown.",
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()
	if a.latch.Locked() {
		return lockdownError(a.latch.Path())
	}

	src, err := source.OpenBatch(args[0])
	if err != nil {
		return inputError(err)
	}
	driver, err := a.newDriver(modeFor(batchDeterministic), a.reporter(), nil)
	if err != nil {
		return err
	}

	outcome, rep, err := driver.RunBatch(ctx, src)
	if err != nil {
		return err
	}
	if rep != nil && batchReportPath != "" {
		if err := os.WriteFile(batchReportPath, report.Markdown(rep), 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		a.logger.Info("report written", "path", batchReportPath)
	}
	if outcome == pipeline.OutcomeLockdown {
		return lockdownError(a.latch.Path())
	}
	return nil
}
