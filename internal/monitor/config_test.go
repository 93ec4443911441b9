package monitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/riskwatch/internal/model"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.EnableRiskClassification)
	assert.True(t, cfg.EnableSequenceAnalysis)
	assert.Equal(t, 10, cfg.SequenceWindowSize)
	assert.Equal(t, 5*time.Minute, cfg.TimeWindow())
	assert.Equal(t, model.High, cfg.AlertThresholdLevel)
	assert.Equal(t, model.Low, cfg.MinLogLevel)
	assert.Equal(t, 5*time.Second, cfg.AlertShutdownTimeout)
	assert.True(t, cfg.RedactSecrets)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigOverridesOnlyGivenFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
sequence_window_size: 20
alert_threshold_level: medium
min_log_level: HIGH
enable_async_alerts: false
alert_shutdown_timeout: 2s
log_directory: /tmp/riskwatch
enable_json_log: true
custom_risk_profiles:
  compute:
    level: high
    description: GPU jobs are billed
  io_read:
    requires_confirmation: true
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.SequenceWindowSize)
	assert.Equal(t, 5, cfg.SequenceTimeWindowMinutes)
	assert.Equal(t, model.Medium, cfg.AlertThresholdLevel)
	assert.Equal(t, model.High, cfg.MinLogLevel)
	assert.False(t, cfg.EnableAsyncAlerts)
	assert.True(t, cfg.EnableAlerts)
	assert.Equal(t, 2*time.Second, cfg.AlertShutdownTimeout)

	profiles := cfg.RiskProfiles()
	require.Len(t, profiles, 2)
	compute := profiles[model.ActionCompute]
	assert.Equal(t, model.High, compute.Level)
	assert.Equal(t, "GPU jobs are billed", compute.Description)
	assert.True(t, compute.Reversible, "unset fields keep the built-in value")

	read := profiles[model.ActionIORead]
	assert.Equal(t, model.Low, read.Level)
	assert.True(t, read.RequiresConfirmation)

	audit := cfg.AuditConfig()
	assert.True(t, audit.JSONFile)
	assert.Equal(t, "/tmp/riskwatch", audit.Directory)
	assert.Equal(t, model.High, audit.MinLevel)
	assert.True(t, audit.Redact)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "sequence_window_size: [1, 2"},
		{"bad level", "alert_threshold_level: severe"},
		{"zero window", "sequence_window_size: 0"},
		{"negative timeout", "alert_shutdown_timeout: -1s"},
		{"file log without directory", "enable_file_log: true"},
		{"bad override level", "custom_risk_profiles:\n  compute:\n    level: extreme"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0600))
			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestNoOverridesMeansNilProfiles(t *testing.T) {
	assert.Nil(t, DefaultConfig().RiskProfiles())
}
