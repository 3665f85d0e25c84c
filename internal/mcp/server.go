// Package mcp exposes sentinel over the Model Context Protocol so agents
// can audit their own reasoning logs, pre-scan text for PII and query the
// lockdown state.
package mcp

import (
	"context"
	"errors"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/sentinel/internal/latch"
	"github.com/ppiankov/sentinel/internal/model"
	"github.com/ppiankov/sentinel/internal/scan"
)

// Classifier runs one audit without enforcement. *pipeline.Driver
// satisfies it.
type Classifier interface {
	Classify(ctx context.Context, records []model.LogRecord) (*model.AuditReport, error)
}

// Config wires the server to its collaborators. Drivers are keyed by mode
// so callers can pick the strictness per call.
type Config struct {
	Version  string
	Drivers  map[model.Mode]Classifier
	Scanner  *scan.Scanner
	Latch    *latch.Latch
	MaxInput int
}

// Server wraps the MCP SDK server with sentinel tools.
type Server struct {
	mcpServer *mcpsdk.Server
	cfg       Config
}

// New creates an MCP server with all sentinel tools registered.
func New(cfg Config) (*Server, error) {
	if len(cfg.Drivers) == 0 {
		return nil, errors.New("mcp: at least one driver is required")
	}
	if cfg.Scanner == nil {
		return nil, errors.New("mcp: scanner is required")
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.MaxInput <= 0 {
		cfg.MaxInput = 500
	}

	s := &Server{cfg: cfg}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "sentinel",
			Version: cfg.Version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all sentinel tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "sentinel_audit",
		Description: "Audit agent log entries for reasoning drift and PII leaks. Returns scores, findings and whether the batch would trigger lockdown. Does not trip the lockdown latch.",
	}, s.handleAudit)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "sentinel_scan",
		Description: "Scan text locally for PII patterns (addresses, medical terms, SSN, cards, IBAN, passport, UUID). No model call; matched values are masked.",
	}, s.handleScan)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "sentinel_status",
		Description: "Report the lockdown latch state and artifact location.",
	}, s.handleStatus)
}
