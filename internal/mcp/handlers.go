package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/sentinel/internal/model"
	"github.com/ppiankov/sentinel/internal/scan"
	"github.com/ppiankov/sentinel/internal/source"
)

// --- Input/Output types ---

// AuditInput defines parameters for the sentinel_audit tool.
type AuditInput struct {
	Logs []string `json:"logs" jsonschema:"log entries, each a JSON object with timestamp/role/content or plain text"`
	Mode string   `json:"mode,omitempty" jsonschema:"deterministic or analytical (default analytical)"`
}

// AuditOutput wraps the enforced audit report.
type AuditOutput struct {
	Report *model.AuditReport `json:"report"`
}

// ScanInput defines parameters for the sentinel_scan tool.
type ScanInput struct {
	Text string `json:"text" jsonschema:"text to scan"`
}

// ScanMatch is one masked match.
type ScanMatch struct {
	Kind  string `json:"kind"`
	Rule  string `json:"rule"`
	Value string `json:"value"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// ScanOutput lists the matches.
type ScanOutput struct {
	Matches []ScanMatch `json:"matches"`
	Clean   bool        `json:"clean"`
}

// StatusInput is empty, no parameters needed.
type StatusInput struct{}

// StatusOutput describes the latch.
type StatusOutput struct {
	State          string `json:"state"`
	ArtifactPath   string `json:"artifact_path"`
	ArtifactExists bool   `json:"artifact_exists"`
}

// --- Handlers ---

func (s *Server) handleAudit(ctx context.Context, req *mcpsdk.CallToolRequest, input AuditInput) (*mcpsdk.CallToolResult, AuditOutput, error) {
	if len(input.Logs) == 0 {
		return nil, AuditOutput{}, errors.New("logs must not be empty")
	}
	if len(input.Logs) > s.cfg.MaxInput {
		return nil, AuditOutput{}, fmt.Errorf("too many logs: %d (max %d)", len(input.Logs), s.cfg.MaxInput)
	}

	mode := model.Mode(input.Mode)
	if mode == "" {
		mode = model.ModeAnalytical
	}
	driver, ok := s.cfg.Drivers[mode]
	if !ok {
		return nil, AuditOutput{}, fmt.Errorf("unsupported mode %q", input.Mode)
	}

	raw, err := json.Marshal(input.Logs)
	if err != nil {
		return nil, AuditOutput{}, err
	}
	records, err := source.ParseBatch(raw, time.Now())
	if err != nil {
		return nil, AuditOutput{}, err
	}
	if len(records) == 0 {
		return nil, AuditOutput{}, errors.New("logs contain no non-blank entries")
	}

	report, err := driver.Classify(ctx, records)
	if err != nil {
		return nil, AuditOutput{}, err
	}
	return nil, AuditOutput{Report: report}, nil
}

func (s *Server) handleScan(_ context.Context, _ *mcpsdk.CallToolRequest, input ScanInput) (*mcpsdk.CallToolResult, ScanOutput, error) {
	matches := s.cfg.Scanner.Scan(input.Text)
	out := ScanOutput{Matches: make([]ScanMatch, 0, len(matches)), Clean: len(matches) == 0}
	for _, m := range matches {
		out.Matches = append(out.Matches, ScanMatch{
			Kind:  string(m.Kind),
			Rule:  m.Rule,
			Value: scan.Mask(m.Value),
			Start: m.Start,
			End:   m.End,
		})
	}
	return nil, out, nil
}

func (s *Server) handleStatus(_ context.Context, _ *mcpsdk.CallToolRequest, _ StatusInput) (*mcpsdk.CallToolResult, StatusOutput, error) {
	if s.cfg.Latch == nil {
		return nil, StatusOutput{State: "UNKNOWN"}, nil
	}
	out := StatusOutput{
		State:        s.cfg.Latch.State().String(),
		ArtifactPath: s.cfg.Latch.Path(),
	}
	if _, err := os.Stat(out.ArtifactPath); err == nil {
		out.ArtifactExists = true
	}
	return nil, out, nil
}
