// Package scenario replays YAML command sequences through a fresh monitor
// and checks the block decisions, levels and sequence patterns they produce.
package scenario

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/riskwatch/internal/monitor"
)

// Epoch is the simulated start time of every scenario.
var Epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Run replays s through a monitor built from cfg on a simulated clock.
// Alerts are dispatched synchronously and the journal stays in memory.
func Run(s *Scenario, cfg *monitor.Config, logger *log.Logger) (*RunResult, error) {
	if cfg == nil {
		cfg = monitor.DefaultConfig()
	}
	local := *cfg
	local.EnableAsyncAlerts = false
	local.EnableConsoleLog = false
	local.EnableFileLog = false
	local.EnableJSONLog = false
	local.EnableSQLiteLog = false

	clk := &clock{now: Epoch}
	opts := []monitor.Option{monitor.WithClock(clk.Now)}
	if logger != nil {
		opts = append(opts, monitor.WithLogger(logger))
	}
	engine, err := monitor.New(&local, opts...)
	if err != nil {
		return nil, err
	}
	defer engine.Shutdown(context.Background())

	result := &RunResult{Name: s.Name, Total: len(s.Steps)}
	for i, step := range s.Steps {
		clk.advance(step.Wait)
		in := step.CommandInput
		if in.SessionID == "" {
			in.SessionID = s.Session
		}
		if in.CommandID == "" {
			in.CommandID = fmt.Sprintf("step-%d", i+1)
		}

		res := engine.CheckCommand(in)
		sr := StepResult{
			Index:     i + 1,
			CommandID: in.CommandID,
			Level:     res.Level(),
			Score:     res.RiskAssessment.FinalScore,
			Blocked:   res.Blocked,
			Reason:    res.BlockReason,
		}
		for _, sa := range res.SequenceAlerts {
			sr.Patterns = append(sr.Patterns, sa.Pattern)
		}
		sr.Failures = check(step, sr)
		sr.Passed = len(sr.Failures) == 0

		if sr.Passed {
			result.Passed++
		} else {
			result.Failed++
		}
		if sr.Blocked {
			result.Blocked++
		}
		result.Steps = append(result.Steps, sr)
	}
	return result, nil
}

func check(step Step, sr StepResult) []string {
	var failures []string
	switch strings.ToLower(step.Expect) {
	case "":
	case "block":
		if !sr.Blocked {
			failures = append(failures, "expected block, got allow")
		}
	case "allow":
		if sr.Blocked {
			failures = append(failures, "expected allow, got block")
		}
	default:
		failures = append(failures, fmt.Sprintf("unknown expectation %q", step.Expect))
	}
	if step.ExpectLevel != nil && *step.ExpectLevel != sr.Level {
		failures = append(failures, fmt.Sprintf("expected level %s, got %s", *step.ExpectLevel, sr.Level))
	}
	for _, p := range step.ExpectPatterns {
		if !slices.Contains(sr.Patterns, p) {
			failures = append(failures, fmt.Sprintf("expected pattern %s", p))
		}
	}
	return failures
}

// Load parses a scenario YAML file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = path
	}
	return &s, nil
}

// LoadAndRun loads a scenario file and the monitor config, then runs it.
func LoadAndRun(path, configPath string, logger *log.Logger) (*RunResult, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg, err := monitor.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	result, err := Run(s, cfg, logger)
	if err != nil {
		return nil, err
	}
	result.File = path
	return result, nil
}
