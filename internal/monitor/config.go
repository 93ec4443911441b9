package monitor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/riskwatch/internal/audit"
	"github.com/ppiankov/riskwatch/internal/model"
	"github.com/ppiankov/riskwatch/internal/policy"
)

// ProfileOverride replaces parts of an action type's built-in profile.
// Unset fields keep the built-in value.
type ProfileOverride struct {
	Level                *model.RiskLevel `yaml:"level,omitempty"`
	Category             string           `yaml:"category,omitempty"`
	Description          string           `yaml:"description,omitempty"`
	RequiresConfirmation *bool            `yaml:"requires_confirmation,omitempty"`
	Reversible           *bool            `yaml:"reversible,omitempty"`
	SideEffects          []string         `yaml:"side_effects,omitempty"`
}

func (o ProfileOverride) apply(p model.RiskProfile) model.RiskProfile {
	if o.Level != nil {
		p.Level = *o.Level
	}
	if o.Category != "" {
		p.Category = o.Category
	}
	if o.Description != "" {
		p.Description = o.Description
	}
	if o.RequiresConfirmation != nil {
		p.RequiresConfirmation = *o.RequiresConfirmation
	}
	if o.Reversible != nil {
		p.Reversible = *o.Reversible
	}
	if o.SideEffects != nil {
		p.SideEffects = append([]string(nil), o.SideEffects...)
	}
	return p
}

// Config is the monitor configuration, read from YAML.
type Config struct {
	EnableRiskClassification bool                                 `yaml:"enable_risk_classification"`
	CustomRiskProfiles       map[model.ActionType]ProfileOverride `yaml:"custom_risk_profiles,omitempty"`

	EnableSequenceAnalysis    bool `yaml:"enable_sequence_analysis"`
	SequenceWindowSize        int  `yaml:"sequence_window_size"`
	SequenceTimeWindowMinutes int  `yaml:"sequence_time_window_minutes"`

	EnableAlerts         bool            `yaml:"enable_alerts"`
	AlertThresholdLevel  model.RiskLevel `yaml:"alert_threshold_level"`
	EnableAsyncAlerts    bool            `yaml:"enable_async_alerts"`
	MaxAlertHistory      int             `yaml:"max_alert_history"`
	AlertShutdownTimeout time.Duration   `yaml:"alert_shutdown_timeout"`

	EnableLogging    bool            `yaml:"enable_logging"`
	LogDirectory     string          `yaml:"log_directory,omitempty"`
	MinLogLevel      model.RiskLevel `yaml:"min_log_level"`
	MaxLogEntries    int             `yaml:"max_log_entries"`
	EnableConsoleLog bool            `yaml:"enable_console_log"`
	EnableFileLog    bool            `yaml:"enable_file_log"`
	EnableJSONLog    bool            `yaml:"enable_json_log"`
	EnableSQLiteLog  bool            `yaml:"enable_sqlite_log"`
	RedactSecrets    bool            `yaml:"redact_secrets"`
}

// DefaultConfig returns the built-in configuration: every stage on, HIGH
// alert threshold, LOW log threshold, in-memory journal only.
func DefaultConfig() *Config {
	return &Config{
		EnableRiskClassification:  true,
		EnableSequenceAnalysis:    true,
		SequenceWindowSize:        10,
		SequenceTimeWindowMinutes: 5,
		EnableAlerts:              true,
		AlertThresholdLevel:       model.High,
		EnableAsyncAlerts:         true,
		MaxAlertHistory:           1000,
		AlertShutdownTimeout:      5 * time.Second,
		EnableLogging:             true,
		MinLogLevel:               model.Low,
		MaxLogEntries:             audit.DefaultMaxEntries,
		RedactSecrets:             true,
	}
}

// DefaultConfigPath returns ~/.riskwatch/config.yaml, or "" when the home
// directory is unknown.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".riskwatch", "config.yaml")
}

// LoadConfig reads the YAML config at path. An empty path uses
// DefaultConfigPath. A missing file yields DefaultConfig; fields absent from
// the YAML keep their defaults.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath()
		if path == "" {
			return DefaultConfig(), nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("monitor: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML over DefaultConfig and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("monitor: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and sink requirements.
func (c *Config) Validate() error {
	var errs []error
	if c.SequenceWindowSize <= 0 {
		errs = append(errs, fmt.Errorf("sequence_window_size must be positive, got %d", c.SequenceWindowSize))
	}
	if c.SequenceTimeWindowMinutes <= 0 {
		errs = append(errs, fmt.Errorf("sequence_time_window_minutes must be positive, got %d", c.SequenceTimeWindowMinutes))
	}
	if c.MaxAlertHistory <= 0 {
		errs = append(errs, fmt.Errorf("max_alert_history must be positive, got %d", c.MaxAlertHistory))
	}
	if c.MaxLogEntries <= 0 {
		errs = append(errs, fmt.Errorf("max_log_entries must be positive, got %d", c.MaxLogEntries))
	}
	if c.AlertShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("alert_shutdown_timeout must not be negative, got %s", c.AlertShutdownTimeout))
	}
	if !c.AlertThresholdLevel.Valid() {
		errs = append(errs, fmt.Errorf("alert_threshold_level is invalid: %s", c.AlertThresholdLevel))
	}
	if !c.MinLogLevel.Valid() {
		errs = append(errs, fmt.Errorf("min_log_level is invalid: %s", c.MinLogLevel))
	}
	if c.EnableLogging && c.fileSinks() && c.LogDirectory == "" {
		errs = append(errs, errors.New("log_directory is required when a file log is enabled"))
	}
	for t, o := range c.CustomRiskProfiles {
		if t == "" {
			errs = append(errs, errors.New("custom_risk_profiles: empty action type"))
		}
		if o.Level != nil && !o.Level.Valid() {
			errs = append(errs, fmt.Errorf("custom_risk_profiles[%s]: invalid level", t))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("monitor: invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) fileSinks() bool {
	return c.EnableFileLog || c.EnableJSONLog || c.EnableSQLiteLog
}

// TimeWindow returns the sequence time window as a duration.
func (c *Config) TimeWindow() time.Duration {
	return time.Duration(c.SequenceTimeWindowMinutes) * time.Minute
}

// RiskProfiles resolves CustomRiskProfiles against the built-in profiles.
func (c *Config) RiskProfiles() map[model.ActionType]model.RiskProfile {
	if len(c.CustomRiskProfiles) == 0 {
		return nil
	}
	out := make(map[model.ActionType]model.RiskProfile, len(c.CustomRiskProfiles))
	for t, o := range c.CustomRiskProfiles {
		out[t] = o.apply(policy.DefaultProfile(t))
	}
	return out
}

// AuditConfig maps the logging fields onto the journal configuration.
func (c *Config) AuditConfig() audit.Config {
	return audit.Config{
		MinLevel:   c.MinLogLevel,
		MaxEntries: c.MaxLogEntries,
		Directory:  c.LogDirectory,
		Console:    c.EnableConsoleLog,
		TextFile:   c.EnableFileLog,
		JSONFile:   c.EnableJSONLog,
		SQLite:     c.EnableSQLiteLog,
		Redact:     c.RedactSecrets,
	}
}
