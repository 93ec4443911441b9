package mcp

import (
	"context"
	"errors"
	"maps"
	"sync"

	"github.com/charmbracelet/log"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/riskwatch/internal/monitor"
)

// Config holds MCP server configuration.
type Config struct {
	Name    string
	Version string
	Logger  *log.Logger
}

// Server exposes a monitor engine as MCP tools. The engine is shared, so
// every tool call from every client lands in the same session windows,
// alert history and journal.
type Server struct {
	mcpServer *mcpsdk.Server
	engine    *monitor.Engine
	logger    *log.Logger

	mu    sync.Mutex
	calls map[string]int
}

// New creates an MCP server over engine and registers its tools.
func New(engine *monitor.Engine, cfg Config) (*Server, error) {
	if engine == nil {
		return nil, errors.New("mcp: nil engine")
	}
	if cfg.Name == "" {
		cfg.Name = "riskwatch"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	s := &Server{
		engine: engine,
		logger: cfg.Logger.WithPrefix("mcp"),
		calls:  make(map[string]int),
	}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s.registerTools()
	return s, nil
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled
// or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// Calls returns the number of calls served per tool.
func (s *Server) Calls() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.calls)
}

func (s *Server) countCall(tool string) {
	s.mu.Lock()
	s.calls[tool]++
	s.mu.Unlock()
}

// Tool names.
const (
	ToolCheckCommand     = "riskwatch_check_command"
	ToolSessionSummary   = "riskwatch_session_summary"
	ToolStatistics       = "riskwatch_statistics"
	ToolAlerts           = "riskwatch_alerts"
	ToolAcknowledgeAlert = "riskwatch_acknowledge_alert"
)

// registerTools adds all riskwatch tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        ToolCheckCommand,
		Description: "Assess a command before running it. Returns its risk level, score, detected multi-step patterns and whether it must be blocked. Blocked commands return an error result with the reason.",
	}, s.handleCheckCommand)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        ToolSessionSummary,
		Description: "Summarize the recent command window of a session: action and risk counts, worst level, command IDs.",
	}, s.handleSessionSummary)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        ToolStatistics,
		Description: "Report monitor counters: commands checked, blocked, alerts, and breakdowns by risk level and pattern.",
	}, s.handleStatistics)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        ToolAlerts,
		Description: "List unacknowledged alerts, optionally filtered by minimum risk level, alert type or session.",
	}, s.handleAlerts)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        ToolAcknowledgeAlert,
		Description: "Acknowledge an alert by ID so it no longer appears as pending.",
	}, s.handleAcknowledgeAlert)
}
