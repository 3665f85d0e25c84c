package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	sentinelmcp "github.com/ppiankov/sentinel/internal/mcp"
	"github.com/ppiankov/sentinel/internal/model"
)

var mcpMaxInput int

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().IntVar(&mcpMaxInput, "max-input", 500, "Maximum log entries accepted per sentinel_audit call")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long: "Runs sentinel as an MCP (Model Context Protocol) server over stdio.\n" +
		"Exposes tools: sentinel_audit, sentinel_scan, sentinel_status.",
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	// stdout carries the MCP protocol, so drivers get no reporter.
	drivers := make(map[model.Mode]sentinelmcp.Classifier, 2)
	for _, mode := range []model.Mode{model.ModeAnalytical, model.ModeDeterministic} {
		d, err := a.newDriver(mode, nil, nil)
		if err != nil {
			return err
		}
		drivers[mode] = d
	}

	srv, err := sentinelmcp.New(sentinelmcp.Config{
		Version:  Version,
		Drivers:  drivers,
		Scanner:  a.scanner,
		Latch:    a.latch,
		MaxInput: mcpMaxInput,
	})
	if err != nil {
		return fmt.Errorf("create MCP server: %w", err)
	}

	a.logger.Info("mcp server started", "transport", "stdio", "backend", a.classifier.Name())
	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
