package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/riskwatch/internal/alert"
	riskmcp "github.com/ppiankov/riskwatch/internal/mcp"
	"github.com/ppiankov/riskwatch/internal/monitor"
)

var mcpWatch bool

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().BoolVar(&mcpWatch, "watch", false, "Reload custom risk profiles when the config file changes")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long: "Runs riskwatch as an MCP (Model Context Protocol) server over stdio.\n" +
		"Exposes tools: check_command, session_summary, statistics, alerts,\n" +
		"acknowledge_alert. Alerts are logged to stderr; stdout carries the protocol.",
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := monitor.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger()
	engine, err := monitor.New(cfg, monitor.WithLogger(logger))
	if err != nil {
		return err
	}
	if am := engine.Alerts(); am != nil {
		am.RegisterHandler(alert.LogHandler(logger.WithPrefix("alert")))
	}

	srv, err := riskmcp.New(engine, riskmcp.Config{Version: version, Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nShutting down MCP server...")
			cancel()
		case <-ctx.Done():
		}
	}()

	if mcpWatch {
		path := configPath
		if path == "" {
			path = monitor.DefaultConfigPath()
		}
		reloader, err := monitor.NewConfigReloader(engine, path)
		if err != nil {
			return err
		}
		go reloader.Run(ctx)
	}

	fmt.Fprintln(os.Stderr, "riskwatch MCP server running on stdio")
	fmt.Fprintln(os.Stderr)

	runErr := srv.Run(ctx)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.AlertShutdownTimeout+time.Second)
	defer cancelShutdown()
	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}

	// Print session stats on exit
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Monitor summary:")
	out, _ := json.MarshalIndent(map[string]any{
		"tool_calls": srv.Calls(),
		"monitor":    engine.Statistics(),
	}, "", "  ")
	fmt.Fprintln(os.Stderr, string(out))

	if ctx.Err() != nil {
		return nil
	}
	return runErr
}
