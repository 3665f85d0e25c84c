package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sentinel/internal/alert"
	"github.com/ppiankov/sentinel/internal/config"
	"github.com/ppiankov/sentinel/internal/integrity"
	"github.com/ppiankov/sentinel/internal/logging"
)

var (
	flagConfig   string
	flagLogLevel string
	flagLogJSON  bool
	flagFormat   string
)

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Reasoning-integrity monitor for agent logs",
	Long: "Classifies log records for PII leaks and reasoning drift through an external oracle.\n" +
		"The first critical verdict trips an irreversible lockdown: a forensic trace is written\n" +
		"and the process exits with code 100.",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: verifyBinary,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to config YAML (default $SENTINEL_CONFIG or ~/.sentinel/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false, "Emit logs as JSON")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "", "Report format: console or json")
}

// verifyBinary refuses to run a binary whose checksum does not match.
// Tamper alerts go to the configured webhooks when the config loads.
func verifyBinary(cmd *cobra.Command, _ []string) error {
	checker := &integrity.Checker{
		Logger: logging.New(flagLogLevel, flagLogJSON, cmd.ErrOrStderr()),
	}
	if cfg, err := config.Read(flagConfig); err == nil {
		checker.Alerts = alert.NewDispatcher(cfg.Alerts, checker.Logger)
	}
	if err := checker.Verify(); err != nil {
		return &ExitError{Code: ExitConfig, Err: err}
	}
	return nil
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	code := exitCode(err)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sentinel: %v\n", err)
	}
	return code
}
