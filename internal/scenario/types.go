package scenario

import (
	"time"

	"github.com/ppiankov/riskwatch/internal/model"
)

// Step is one command submitted to the monitor, with optional assertions.
type Step struct {
	model.CommandInput `yaml:",inline"`

	Wait           time.Duration    `yaml:"wait,omitempty"`   // advance the clock before the step
	Expect         string           `yaml:"expect,omitempty"` // "block" or "allow"
	ExpectLevel    *model.RiskLevel `yaml:"expect_level,omitempty"`
	ExpectPatterns []string         `yaml:"expect_patterns,omitempty"`
}

// Scenario is a named command sequence replayed against one monitor.
type Scenario struct {
	Name    string `yaml:"name"`
	Session string `yaml:"session,omitempty"` // default session for steps without one
	Steps   []Step `yaml:"steps"`
}

// StepResult is the outcome of one step.
type StepResult struct {
	Index     int             `json:"index"`
	CommandID string          `json:"command_id"`
	Level     model.RiskLevel `json:"level"`
	Score     int             `json:"score"`
	Blocked   bool            `json:"blocked"`
	Reason    string          `json:"reason,omitempty"`
	Patterns  []string        `json:"patterns,omitempty"`
	Passed    bool            `json:"passed"`
	Failures  []string        `json:"failures,omitempty"`
}

// RunResult is the outcome of running one scenario file.
type RunResult struct {
	File    string       `json:"file"`
	Name    string       `json:"name"`
	Total   int          `json:"total"`
	Passed  int          `json:"passed"`
	Failed  int          `json:"failed"`
	Blocked int          `json:"blocked"`
	Steps   []StepResult `json:"steps"`
}
