// Package alert turns risk levels into alerts, keeps a bounded history, and
// dispatches alerts to in-process handlers inline or via a background consumer.
package alert

import (
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/riskwatch/internal/model"
)

// Type controls how urgently an alert is dispatched.
type Type string

const (
	TypeImmediate     Type = "immediate"
	TypePriority      Type = "priority"
	TypeStandard      Type = "standard"
	TypeInformational Type = "informational"
)

// TypeForLevel derives the alert type from a risk level.
func TypeForLevel(level model.RiskLevel) Type {
	switch level {
	case model.Critical:
		return TypeImmediate
	case model.High:
		return TypePriority
	case model.Medium:
		return TypeStandard
	default:
		return TypeInformational
	}
}

// Alert is one notification. Only the acknowledgement fields change after
// creation.
type Alert struct {
	ID             string          `json:"alert_id"`
	Type           Type            `json:"alert_type"`
	RiskLevel      model.RiskLevel `json:"risk_level"`
	Title          string          `json:"title"`
	Message        string          `json:"message"`
	SourceCommand  string          `json:"source_command"`
	SessionID      string          `json:"session_id,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	Acknowledged   bool            `json:"acknowledged"`
	AcknowledgedAt *time.Time      `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string          `json:"acknowledged_by,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
}

// NewID returns a fresh alert id.
func NewID() string {
	return "a-" + uuid.NewString()
}
