package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sentinel/internal/audit"
	"github.com/ppiankov/sentinel/internal/audit/sqlstore"
)

var (
	tailLines  int
	tailRunID  string
	tailKind   string
	auditStore string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditCmd.PersistentFlags().StringVar(&auditStore, "driver", "", "Audit store: jsonl or sqlite (default: by file extension)")
	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")
	auditTailCmd.Flags().StringVar(&tailRunID, "run", "", "Only entries for this run ID")
	auditTailCmd.Flags().StringVar(&tailKind, "kind", "", "Only entries of this kind (classified, skipped, lockdown, restart)")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit trail operations",
	Long:  "Commands for verifying and inspecting the hash-chained audit trail.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify <path>",
	Short: "Verify hash chain integrity of an audit trail",
	Long: "Walks the audit trail and validates that every entry's prev_hash\n" +
		"matches the SHA-256 of the previous entry. Exits 0 if valid, 1 if tampered.",
	Args: cobra.ExactArgs(1),
	RunE: runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail <path>",
	Short: "Show recent audit trail entries",
	Long:  "Reads the last N entries from the audit trail and prints a timeline with a summary.",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditTail,
}

// isSQLite picks the store from --driver or the file extension.
func isSQLite(path string) bool {
	if auditStore != "" {
		return auditStore == "sqlite"
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return true
	}
	return false
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	path := args[0]
	var result audit.VerifyResult
	if isSQLite(path) {
		store, err := openStore(path)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		result = store.Verify(commandContext(cmd))
	} else {
		result = audit.Verify(path)
	}

	if result.Valid {
		fmt.Fprintf(cmd.OutOrStdout(), "OK: %d entries verified\n", result.Lines)
		return nil
	}
	return &ExitError{
		Code: ExitFailure,
		Err:  fmt.Errorf("FAILED at line %d: %s", result.ErrorLine, result.Error),
	}
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	if tailLines <= 0 {
		return errors.New("--lines must be positive")
	}
	path := args[0]
	filter := audit.Filter{RunID: tailRunID, Kind: tailKind}

	result, err := tailStore(commandContext(cmd), path, filter)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if flagFormat == "json" {
		s, err := audit.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, s)
		return nil
	}
	fmt.Fprint(out, audit.FormatTimeline(result))
	return nil
}

func tailStore(ctx context.Context, path string, filter audit.Filter) (*audit.TailResult, error) {
	if !isSQLite(path) {
		return audit.Tail(path, tailLines, filter)
	}
	store, err := openStore(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()
	return store.Tail(ctx, tailLines, filter)
}

// openStore opens an existing SQLite trail; it never creates one.
func openStore(path string) (*sqlstore.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	store, err := sqlstore.OpenSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	return store, nil
}
