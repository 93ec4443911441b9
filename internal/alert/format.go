package alert

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Output formats understood by FormatPayload.
const (
	FormatText      = "text"
	FormatJSON      = "json"
	FormatSlack     = "slack"
	FormatPagerDuty = "pagerduty"
)

// FormatPayload renders an alert in the given format. Unknown formats fall
// back to JSON.
func FormatPayload(format string, a Alert) ([]byte, error) {
	switch format {
	case FormatText:
		return []byte(formatText(a)), nil
	case FormatSlack:
		return formatSlack(a)
	case FormatPagerDuty:
		return formatPagerDuty(a)
	default:
		return json.Marshal(a)
	}
}

func formatText(a Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s/%s] %s",
		a.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"), a.RiskLevel, a.Type, a.Title)
	if a.SourceCommand != "" {
		fmt.Fprintf(&b, " command=%s", a.SourceCommand)
	}
	if a.SessionID != "" {
		fmt.Fprintf(&b, " session=%s", a.SessionID)
	}
	if a.Message != "" {
		fmt.Fprintf(&b, ": %s", a.Message)
	}
	return b.String()
}

func formatSlack(a Alert) ([]byte, error) {
	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("riskwatch: %s", a.Title),
				},
			},
			map[string]any{
				"type": "section",
				"fields": []any{
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Level:* %s", a.RiskLevel)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Type:* %s", a.Type)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Command:* %s", a.SourceCommand)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Session:* %s", a.SessionID)},
				},
			},
			map[string]any{
				"type": "section",
				"text": map[string]any{"type": "mrkdwn", "text": a.Message},
			},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(a Alert) ([]byte, error) {
	payload := map[string]any{
		"event_action": "trigger",
		"dedup_key":    a.ID,
		"payload": map[string]any{
			"summary":  fmt.Sprintf("riskwatch %s: %s", a.RiskLevel, a.Title),
			"severity": pagerDutySeverity(a.Type),
			"source":   "riskwatch",
			"custom_details": map[string]any{
				"command":    a.SourceCommand,
				"session_id": a.SessionID,
				"message":    a.Message,
				"alert_type": a.Type,
			},
		},
	}
	return json.Marshal(payload)
}

func pagerDutySeverity(t Type) string {
	switch t {
	case TypeImmediate:
		return "critical"
	case TypePriority:
		return "error"
	case TypeStandard:
		return "warning"
	default:
		return "info"
	}
}
