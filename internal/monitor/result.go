package monitor

import (
	"time"

	"github.com/ppiankov/riskwatch/internal/alert"
	"github.com/ppiankov/riskwatch/internal/model"
	"github.com/ppiankov/riskwatch/internal/sequence"
)

// MonitorResult is the outcome of one CheckCommand call. It belongs to the
// caller once returned.
type MonitorResult struct {
	CommandID       string                `json:"command_id"`
	SessionID       string                `json:"session_id,omitempty"`
	RiskAssessment  *model.RiskAssessment `json:"risk_assessment"`
	SequenceAlerts  []sequence.Alert      `json:"sequence_alerts"`
	AlertsSent      []alert.Alert         `json:"alerts_sent"`
	Blocked         bool                  `json:"blocked"`
	BlockReason     string                `json:"block_reason,omitempty"`
	Recommendations []string              `json:"recommendations"`
	CheckedAt       time.Time             `json:"checked_at"`
}

// Level returns the assessed risk level of the command.
func (r *MonitorResult) Level() model.RiskLevel {
	if r.RiskAssessment == nil {
		return model.Safe
	}
	return r.RiskAssessment.Level()
}

// IsSafe reports whether the command was not blocked, triggered no sequence
// pattern, and assessed as LOW or SAFE.
func (r *MonitorResult) IsSafe() bool {
	return !r.Blocked && len(r.SequenceAlerts) == 0 && !r.Level().AtLeast(model.Medium)
}
