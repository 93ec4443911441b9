package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/riskwatch/internal/alert"
	"github.com/ppiankov/riskwatch/internal/model"
	"github.com/ppiankov/riskwatch/internal/monitor"
)

// --- Input/Output types ---

// ActionInput is one step of a command.
type ActionInput struct {
	ActionType  string   `json:"action_type" jsonschema:"action type (io_read/io_write/io_delete/compute/external_call/network_request/state_change/system_command/privilege_change)"`
	Name        string   `json:"name,omitempty" jsonschema:"short action name"`
	Description string   `json:"description,omitempty" jsonschema:"what the action does; keywords like delete or wipe raise its risk"`
	SideEffects []string `json:"side_effects,omitempty" jsonschema:"side effects (data_loss/system_crash/security_breach/data_modification/state_change/external_communication)"`
}

// CheckCommandInput defines parameters for the riskwatch_check_command tool.
type CheckCommandInput struct {
	CommandID   string         `json:"command_id,omitempty" jsonschema:"caller-chosen command ID, generated when omitted"`
	CommandName string         `json:"command_name" jsonschema:"command line or name"`
	Actions     []ActionInput  `json:"actions" jsonschema:"the steps the command performs"`
	SessionID   string         `json:"session_id,omitempty" jsonschema:"session the command belongs to, for multi-step pattern detection"`
	UserID      string         `json:"user_id,omitempty" jsonschema:"user issuing the command"`
	Environment string         `json:"environment,omitempty" jsonschema:"target environment (e.g. production)"`
	Metadata    map[string]any `json:"metadata,omitempty" jsonschema:"extra context; sensitive_resources, admin_privilege and external_connection raise the score"`
}

// PatternMatch is a detected multi-step pattern.
type PatternMatch struct {
	Pattern          string   `json:"pattern"`
	Severity         string   `json:"severity"`
	Confidence       float64  `json:"confidence"`
	Description      string   `json:"description"`
	CommandsInvolved []string `json:"commands_involved"`
}

// CheckCommandOutput contains the monitor's verdict.
type CheckCommandOutput struct {
	CommandID       string         `json:"command_id"`
	SessionID       string         `json:"session_id,omitempty"`
	Level           string         `json:"level"`
	Score           int            `json:"score"`
	Blocked         bool           `json:"blocked"`
	BlockReason     string         `json:"block_reason,omitempty"`
	Factors         []string       `json:"factors"`
	Recommendations []string       `json:"recommendations"`
	Patterns        []PatternMatch `json:"patterns"`
	AlertIDs        []string       `json:"alert_ids"`
}

// SessionSummaryInput defines parameters for the riskwatch_session_summary tool.
type SessionSummaryInput struct {
	SessionID string `json:"session_id" jsonschema:"session to summarize"`
}

// SessionSummaryOutput is a session window summary.
type SessionSummaryOutput struct {
	SessionID        string         `json:"session_id"`
	CommandCount     int            `json:"command_count"`
	FirstSeen        string         `json:"first_seen"`
	LastSeen         string         `json:"last_seen"`
	WorstLevel       string         `json:"worst_level"`
	ActionTypeCounts map[string]int `json:"action_type_counts"`
	RiskLevelCounts  map[string]int `json:"risk_level_counts"`
	CommandIDs       []string       `json:"command_ids"`
}

// StatisticsInput takes no parameters.
type StatisticsInput struct{}

// StatisticsOutput contains engine counters.
type StatisticsOutput struct {
	TotalChecked         int            `json:"total_checked"`
	Blocked              int            `json:"blocked"`
	AlertsSent           int            `json:"alerts_sent"`
	SequenceAlerts       int            `json:"sequence_alerts"`
	ActiveSessions       int            `json:"active_sessions"`
	CallbackErrors       int            `json:"callback_errors"`
	UnacknowledgedAlerts int            `json:"unacknowledged_alerts"`
	LogEntries           int            `json:"log_entries"`
	ByLevel              map[string]int `json:"by_level"`
	ByPattern            map[string]int `json:"by_pattern"`
}

// AlertsInput defines parameters for the riskwatch_alerts tool.
type AlertsInput struct {
	MinLevel  string `json:"min_level,omitempty" jsonschema:"only alerts at least this severe (CRITICAL/HIGH/MEDIUM/LOW/SAFE)"`
	Type      string `json:"type,omitempty" jsonschema:"alert type (immediate/priority/standard/informational)"`
	SessionID string `json:"session_id,omitempty" jsonschema:"only alerts from this session"`
}

// AlertInfo is one pending alert.
type AlertInfo struct {
	ID            string `json:"alert_id"`
	Type          string `json:"alert_type"`
	Level         string `json:"risk_level"`
	Title         string `json:"title"`
	Message       string `json:"message"`
	SourceCommand string `json:"source_command"`
	SessionID     string `json:"session_id,omitempty"`
	Timestamp     string `json:"timestamp"`
}

// AlertsOutput lists pending alerts, oldest first.
type AlertsOutput struct {
	Alerts []AlertInfo `json:"alerts"`
}

// AcknowledgeAlertInput defines parameters for the riskwatch_acknowledge_alert tool.
type AcknowledgeAlertInput struct {
	AlertID string `json:"alert_id" jsonschema:"alert to acknowledge"`
	By      string `json:"by,omitempty" jsonschema:"who acknowledges it"`
}

// AcknowledgeAlertOutput confirms the acknowledgement.
type AcknowledgeAlertOutput struct {
	AlertID      string `json:"alert_id"`
	Acknowledged bool   `json:"acknowledged"`
}

var errAlertsDisabled = errors.New("alerts are disabled in the monitor config")

// --- Handlers ---

func (s *Server) handleCheckCommand(ctx context.Context, req *mcpsdk.CallToolRequest, input CheckCommandInput) (*mcpsdk.CallToolResult, CheckCommandOutput, error) {
	s.countCall(ToolCheckCommand)
	if input.CommandName == "" && len(input.Actions) == 0 {
		return nil, CheckCommandOutput{}, errors.New("command_name or actions required")
	}

	in := buildCommandInput(input)
	res := s.engine.CheckCommand(in)
	out := checkOutput(res)

	if res.Blocked {
		s.logger.Warn("command blocked", "command_id", out.CommandID, "session", out.SessionID, "reason", out.BlockReason)
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func buildCommandInput(input CheckCommandInput) model.CommandInput {
	in := model.CommandInput{
		CommandID:   input.CommandID,
		CommandName: input.CommandName,
		SessionID:   input.SessionID,
		UserID:      input.UserID,
		Environment: input.Environment,
		Metadata:    input.Metadata,
		Actions:     make([]model.Action, 0, len(input.Actions)),
	}
	if in.CommandID == "" {
		in.CommandID = "mcp-" + uuid.NewString()[:8]
	}
	for _, a := range input.Actions {
		in.Actions = append(in.Actions, model.Action{
			ActionType:  model.ActionType(a.ActionType),
			Name:        a.Name,
			Description: a.Description,
			SideEffects: a.SideEffects,
		})
	}
	return in
}

func checkOutput(res *monitor.MonitorResult) CheckCommandOutput {
	out := CheckCommandOutput{
		CommandID:       res.CommandID,
		SessionID:       res.SessionID,
		Level:           res.Level().String(),
		Blocked:         res.Blocked,
		BlockReason:     res.BlockReason,
		Factors:         []string{},
		Recommendations: append([]string{}, res.Recommendations...),
		Patterns:        make([]PatternMatch, 0, len(res.SequenceAlerts)),
		AlertIDs:        make([]string, 0, len(res.AlertsSent)),
	}
	if a := res.RiskAssessment; a != nil {
		out.Score = a.FinalScore
		out.Factors = append(out.Factors, a.Factors...)
	}
	for _, sa := range res.SequenceAlerts {
		out.Patterns = append(out.Patterns, PatternMatch{
			Pattern:          sa.Pattern,
			Severity:         sa.Severity.String(),
			Confidence:       sa.Confidence,
			Description:      sa.Description,
			CommandsInvolved: append([]string{}, sa.CommandsInvolved...),
		})
	}
	for _, a := range res.AlertsSent {
		out.AlertIDs = append(out.AlertIDs, a.ID)
	}
	return out
}

func (s *Server) handleSessionSummary(ctx context.Context, req *mcpsdk.CallToolRequest, input SessionSummaryInput) (*mcpsdk.CallToolResult, SessionSummaryOutput, error) {
	s.countCall(ToolSessionSummary)
	sum, ok := s.engine.SessionSummary(input.SessionID)
	if !ok {
		return nil, SessionSummaryOutput{}, fmt.Errorf("no active session %q", input.SessionID)
	}

	out := SessionSummaryOutput{
		SessionID:        sum.SessionID,
		CommandCount:     sum.CommandCount,
		FirstSeen:        sum.FirstSeen.UTC().Format(time.RFC3339),
		LastSeen:         sum.LastSeen.UTC().Format(time.RFC3339),
		WorstLevel:       sum.WorstLevel.String(),
		ActionTypeCounts: make(map[string]int, len(sum.ActionTypeCounts)),
		RiskLevelCounts:  make(map[string]int, len(sum.RiskLevelCounts)),
		CommandIDs:       append([]string{}, sum.CommandIDs...),
	}
	for at, n := range sum.ActionTypeCounts {
		out.ActionTypeCounts[string(at)] = n
	}
	for lvl, n := range sum.RiskLevelCounts {
		out.RiskLevelCounts[lvl.String()] = n
	}
	return nil, out, nil
}

func (s *Server) handleStatistics(ctx context.Context, req *mcpsdk.CallToolRequest, input StatisticsInput) (*mcpsdk.CallToolResult, StatisticsOutput, error) {
	s.countCall(ToolStatistics)
	st := s.engine.Statistics()

	out := StatisticsOutput{
		TotalChecked:   st.TotalChecked,
		Blocked:        st.Blocked,
		AlertsSent:     st.AlertsSent,
		SequenceAlerts: st.SequenceAlerts,
		ActiveSessions: st.ActiveSessions,
		CallbackErrors: st.CallbackErrors,
		ByLevel:        make(map[string]int, len(st.ByLevel)),
		ByPattern:      make(map[string]int, len(st.ByPattern)),
	}
	for lvl, n := range st.ByLevel {
		out.ByLevel[lvl.String()] = n
	}
	for p, n := range st.ByPattern {
		out.ByPattern[p] = n
	}
	if st.Alerts != nil {
		out.UnacknowledgedAlerts = st.Alerts.Unacknowledged
	}
	if st.Log != nil {
		out.LogEntries = st.Log.Total
	}
	return nil, out, nil
}

func (s *Server) handleAlerts(ctx context.Context, req *mcpsdk.CallToolRequest, input AlertsInput) (*mcpsdk.CallToolResult, AlertsOutput, error) {
	s.countCall(ToolAlerts)
	am := s.engine.Alerts()
	if am == nil {
		return nil, AlertsOutput{}, errAlertsDisabled
	}

	filter := alert.Filter{Type: alert.Type(input.Type), SessionID: input.SessionID}
	if input.MinLevel != "" {
		lvl, err := model.ParseRiskLevel(input.MinLevel)
		if err != nil {
			return nil, AlertsOutput{}, err
		}
		filter.MinLevel = &lvl
	}

	pending := am.UnacknowledgedAlerts(filter)
	out := AlertsOutput{Alerts: make([]AlertInfo, 0, len(pending))}
	for _, a := range pending {
		out.Alerts = append(out.Alerts, AlertInfo{
			ID:            a.ID,
			Type:          string(a.Type),
			Level:         a.RiskLevel.String(),
			Title:         a.Title,
			Message:       a.Message,
			SourceCommand: a.SourceCommand,
			SessionID:     a.SessionID,
			Timestamp:     a.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	return nil, out, nil
}

func (s *Server) handleAcknowledgeAlert(ctx context.Context, req *mcpsdk.CallToolRequest, input AcknowledgeAlertInput) (*mcpsdk.CallToolResult, AcknowledgeAlertOutput, error) {
	s.countCall(ToolAcknowledgeAlert)
	am := s.engine.Alerts()
	if am == nil {
		return nil, AcknowledgeAlertOutput{}, errAlertsDisabled
	}
	by := input.By
	if by == "" {
		by = "mcp"
	}
	if !am.AcknowledgeAlert(input.AlertID, by) {
		return nil, AcknowledgeAlertOutput{}, fmt.Errorf("unknown alert %q", input.AlertID)
	}
	s.logger.Info("alert acknowledged", "alert_id", input.AlertID, "by", by)
	return nil, AcknowledgeAlertOutput{AlertID: input.AlertID, Acknowledged: true}, nil
}
