package alert

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/riskwatch/internal/model"
)

func sampleAlert() Alert {
	return Alert{
		ID:            "a-123",
		Type:          TypeImmediate,
		RiskLevel:     model.Critical,
		Title:         "Critical risk: wipe-db",
		Message:       "drop database detected",
		SourceCommand: "cmd-9",
		SessionID:     "s1",
		Timestamp:     testNow,
	}
}

func TestFormatText(t *testing.T) {
	body, err := FormatPayload(FormatText, sampleAlert())
	require.NoError(t, err)
	assert.Equal(t,
		"2025-01-15T14:00:00.000Z [CRITICAL/immediate] Critical risk: wipe-db command=cmd-9 session=s1: drop database detected",
		string(body))
}

func TestFormatJSON(t *testing.T) {
	body, err := FormatPayload(FormatJSON, sampleAlert())
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "a-123", got["alert_id"])
	assert.Equal(t, "immediate", got["alert_type"])
	assert.Equal(t, "CRITICAL", got["risk_level"])
	assert.NotContains(t, got, "acknowledged_at")
}

func TestFormatUnknownFallsBackToJSON(t *testing.T) {
	want, err := FormatPayload(FormatJSON, sampleAlert())
	require.NoError(t, err)
	got, err := FormatPayload("carrier-pigeon", sampleAlert())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFormatSlack(t *testing.T) {
	body, err := FormatPayload(FormatSlack, sampleAlert())
	require.NoError(t, err)

	var got struct {
		Blocks []map[string]any `json:"blocks"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got.Blocks, 3)
	assert.Equal(t, "header", got.Blocks[0]["type"])
	assert.Contains(t, string(body), "*Level:* CRITICAL")
}

func TestFormatPagerDuty(t *testing.T) {
	tests := []struct {
		typ  Type
		want string
	}{
		{TypeImmediate, "critical"},
		{TypePriority, "error"},
		{TypeStandard, "warning"},
		{TypeInformational, "info"},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			a := sampleAlert()
			a.Type = tt.typ
			body, err := FormatPayload(FormatPagerDuty, a)
			require.NoError(t, err)

			var got struct {
				DedupKey string `json:"dedup_key"`
				Payload  struct {
					Severity string `json:"severity"`
				} `json:"payload"`
			}
			require.NoError(t, json.Unmarshal(body, &got))
			assert.Equal(t, "a-123", got.DedupKey)
			assert.Equal(t, tt.want, got.Payload.Severity)
		})
	}
}

func TestWriterHandler(t *testing.T) {
	var buf bytes.Buffer
	h := WriterHandler(&buf, FormatText)

	require.NoError(t, h(sampleAlert()))
	require.NoError(t, h(sampleAlert()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "[CRITICAL/immediate]")
}

func TestLogHandlerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf)
	logger.SetLevel(log.InfoLevel)
	h := LogHandler(logger)

	require.NoError(t, h(sampleAlert()))
	assert.Contains(t, buf.String(), "Critical risk: wipe-db")
	assert.Contains(t, buf.String(), "alert_id=a-123")

	buf.Reset()
	low := sampleAlert()
	low.RiskLevel = model.Low
	low.Type = TypeInformational
	require.NoError(t, h(low))
	assert.Empty(t, buf.String(), "low alerts log at debug")
}
