package model

import (
	"strings"
	"time"
)

// ActionType names the kind of operation an action performs.
type ActionType string

const (
	ActionIORead          ActionType = "io_read"
	ActionIOWrite         ActionType = "io_write"
	ActionIODelete        ActionType = "io_delete"
	ActionCompute         ActionType = "compute"
	ActionExternalCall    ActionType = "external_call"
	ActionNetworkRequest  ActionType = "network_request"
	ActionStateChange     ActionType = "state_change"
	ActionSystemCommand   ActionType = "system_command"
	ActionPrivilegeChange ActionType = "privilege_change"
)

// Well-known side effects. Callers may supply others.
const (
	EffectDataLoss              = "data_loss"
	EffectSystemCrash           = "system_crash"
	EffectSecurityBreach        = "security_breach"
	EffectDataModification      = "data_modification"
	EffectStateChange           = "state_change"
	EffectExternalCommunication = "external_communication"
)

// Action is one step of a command, as supplied by the host runtime.
type Action struct {
	ActionType  ActionType `json:"action_type" yaml:"action_type"`
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description" yaml:"description"`
	SideEffects []string   `json:"side_effects,omitempty" yaml:"side_effects,omitempty"`
}

// RiskProfile describes the risk of one action. Profiles are values:
// escalation returns a new profile and never edits the receiver's slices.
type RiskProfile struct {
	Level                RiskLevel  `json:"level" yaml:"level"`
	Category             string     `json:"category" yaml:"category"`
	Description          string     `json:"description" yaml:"description"`
	ActionType           ActionType `json:"action_type" yaml:"action_type"`
	AffectedResources    []string   `json:"affected_resources,omitempty" yaml:"affected_resources,omitempty"`
	RequiresConfirmation bool       `json:"requires_confirmation" yaml:"requires_confirmation"`
	Reversible           bool       `json:"reversible" yaml:"reversible"`
	SideEffects          []string   `json:"side_effects,omitempty" yaml:"side_effects,omitempty"`
}

// Clone returns a deep copy of p.
func (p RiskProfile) Clone() RiskProfile {
	out := p
	out.AffectedResources = append([]string(nil), p.AffectedResources...)
	out.SideEffects = append([]string(nil), p.SideEffects...)
	return out
}

// RiskAssessment is the per-command classification result.
type RiskAssessment struct {
	CommandID       string      `json:"command_id"`
	CommandName     string      `json:"command_name"`
	Profile         RiskProfile `json:"profile"`
	BaseScore       int         `json:"base_score"`
	ContextScore    int         `json:"context_score"`
	FinalScore      int         `json:"final_score"`
	Factors         []string    `json:"factors"`
	Recommendations []string    `json:"recommendations"`
}

// Level is shorthand for the worst profile level.
func (a *RiskAssessment) Level() RiskLevel {
	return a.Profile.Level
}

// AssessContext carries environment flags that add to a command's score.
type AssessContext struct {
	SensitiveResources bool   `json:"sensitive_resources"`
	Environment        string `json:"environment"`
	AdminPrivilege     bool   `json:"admin_privilege"`
	ExternalConnection bool   `json:"external_connection"`
}

// IsProduction reports whether the environment names a production deployment.
func (c AssessContext) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// CommandInput is what the host runtime submits before executing a command.
type CommandInput struct {
	CommandID   string         `json:"command_id" yaml:"command_id"`
	CommandName string         `json:"command_name" yaml:"command_name"`
	Actions     []Action       `json:"actions" yaml:"actions"`
	SessionID   string         `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	UserID      string         `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Environment string         `json:"environment,omitempty" yaml:"environment,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
}

// AssessContext derives scoring flags from the input's environment and
// metadata keys sensitive_resources, admin_privilege and external_connection.
func (in CommandInput) AssessContext() AssessContext {
	return AssessContext{
		SensitiveResources: metaBool(in.Metadata, "sensitive_resources"),
		Environment:        in.Environment,
		AdminPrivilege:     metaBool(in.Metadata, "admin_privilege"),
		ExternalConnection: metaBool(in.Metadata, "external_connection"),
	}
}

func metaBool(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "yes" || v == "1"
	default:
		return false
	}
}

// CommandContext is one command as seen by sequence analysis.
type CommandContext struct {
	CommandID   string          `json:"command_id"`
	CommandName string          `json:"command_name"`
	Actions     []Action        `json:"actions"`
	SessionID   string          `json:"session_id"`
	UserID      string          `json:"user_id,omitempty"`
	Environment string          `json:"environment,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Assessment  *RiskAssessment `json:"assessment,omitempty"`
}

// ActionTypes returns the command's action types in order.
func (c CommandContext) ActionTypes() []ActionType {
	out := make([]ActionType, 0, len(c.Actions))
	for _, a := range c.Actions {
		out = append(out, a.ActionType)
	}
	return out
}
