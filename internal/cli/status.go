package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sentinel/internal/config"
	"github.com/ppiankov/sentinel/internal/latch"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a lockdown artifact is present",
	Long: "Reports the configured artifact path, whether it exists and what the next watch or batch\n" +
		"run will do about it under the configured resume policy. Exits 100 when the next run would stay locked.",
	Args: cobra.NoArgs,
	RunE: runStatus,
}

type statusInfo struct {
	State          string `json:"state"`
	ArtifactPath   string `json:"artifact_path"`
	ArtifactExists bool   `json:"artifact_exists"`
	ResumePolicy   string `json:"resume_policy"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Read(flagConfig)
	if err != nil {
		return err
	}
	info := statusInfo{
		State:        latch.Watching.String(),
		ArtifactPath: cfg.Lockdown.ArtifactPath,
		ResumePolicy: string(cfg.Lockdown.Resume),
	}
	if _, err := os.Stat(info.ArtifactPath); err == nil {
		info.ArtifactExists = true
		if cfg.Lockdown.Resume != latch.StartFresh {
			info.State = latch.Locked.String()
		}
	}

	out := cmd.OutOrStdout()
	if flagFormat == "json" {
		data, _ := json.MarshalIndent(info, "", "  ")
		fmt.Fprintln(out, string(data))
	} else {
		fmt.Fprintf(out, "state:    %s\nartifact: %s (exists: %t)\nresume:   %s\n",
			info.State, info.ArtifactPath, info.ArtifactExists, info.ResumePolicy)
	}
	if info.State == latch.Locked.String() {
		return &ExitError{Code: ExitLockdown, Err: fmt.Errorf("locked: artifact present at %s", info.ArtifactPath)}
	}
	return nil
}
