package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/riskwatch/internal/alert"
	"github.com/ppiankov/riskwatch/internal/audit"
	"github.com/ppiankov/riskwatch/internal/model"
	"github.com/ppiankov/riskwatch/internal/sequence"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEngine struct {
	*Engine
	clock   *fakeClock
	metrics *Metrics
}

func newTestEngine(t *testing.T, mutate func(*Config)) *testEngine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.EnableAsyncAlerts = false
	if mutate != nil {
		mutate(cfg)
	}
	clock := &fakeClock{now: time.Date(2025, 1, 15, 14, 0, 0, 0, time.UTC)}
	metrics := NewMetrics(prometheus.NewRegistry())
	e, err := New(cfg,
		WithLogger(log.New(io.Discard)),
		WithClock(clock.Now),
		WithMetrics(metrics))
	require.NoError(t, err)
	t.Cleanup(func() { e.Shutdown(context.Background()) })
	return &testEngine{Engine: e, clock: clock, metrics: metrics}
}

func input(id, session, name string, actions ...model.Action) model.CommandInput {
	return model.CommandInput{CommandID: id, CommandName: name, SessionID: session, Actions: actions}
}

func act(t model.ActionType, desc string, effects ...string) model.Action {
	return model.Action{ActionType: t, Description: desc, SideEffects: effects}
}

func TestCheckCommandScenarios(t *testing.T) {
	tests := []struct {
		name       string
		action     model.Action
		wantLevel  model.RiskLevel
		wantBlock  bool
		wantAlerts int
		wantSafe   bool
	}{
		{"read config", act(model.ActionIORead, "Read a configuration file"), model.Low, false, 0, true},
		{"external call", act(model.ActionExternalCall, "Call external API"), model.High, false, 1, false},
		{"wipe records", act(model.ActionIOWrite, "Wipe all database records", model.EffectDataLoss), model.Critical, true, 1, false},
		{"compute", act(model.ActionCompute, "Sum numbers"), model.Safe, false, 0, true},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, nil)
			res := e.CheckCommand(input(fmt.Sprintf("c%d", i), "s1", tt.name, tt.action))

			require.NotNil(t, res.RiskAssessment)
			assert.Equal(t, tt.wantLevel, res.Level())
			assert.Equal(t, tt.wantBlock, res.Blocked)
			assert.Len(t, res.AlertsSent, tt.wantAlerts)
			assert.Equal(t, tt.wantSafe, res.IsSafe())
			if tt.wantBlock {
				assert.NotEmpty(t, res.BlockReason)
			} else {
				assert.Empty(t, res.BlockReason)
			}
		})
	}
}

func TestCriticalCommandIsBlockedWithImmediateAlert(t *testing.T) {
	e := newTestEngine(t, nil)
	res := e.CheckCommand(input("c1", "s1", "cleanup", act(model.ActionIODelete, "rm -rf /var/lib/app")))

	assert.True(t, res.Blocked)
	assert.Contains(t, res.BlockReason, "critical risk")
	require.Len(t, res.AlertsSent, 1)
	assert.Equal(t, alert.TypeImmediate, res.AlertsSent[0].Type)
	assert.Equal(t, "c1", res.AlertsSent[0].SourceCommand)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.blockedTotal))
}

func TestThresholdGatesRiskAlerts(t *testing.T) {
	e := newTestEngine(t, nil)

	medium := e.CheckCommand(input("c1", "s1", "save", act(model.ActionIOWrite, "Write report file")))
	assert.Equal(t, model.Medium, medium.Level())
	assert.Empty(t, medium.AlertsSent)

	high := e.CheckCommand(input("c2", "s2", "call", act(model.ActionExternalCall, "Call external API")))
	assert.Equal(t, model.High, high.Level())
	assert.Len(t, high.AlertsSent, 1)

	crit := e.CheckCommand(input("c3", "s3", "drop", act(model.ActionStateChange, "drop database prod")))
	assert.Equal(t, model.Critical, crit.Level())
	assert.Len(t, crit.AlertsSent, 1)
}

func TestLowerThresholdAlertsMedium(t *testing.T) {
	e := newTestEngine(t, func(c *Config) { c.AlertThresholdLevel = model.Medium })
	res := e.CheckCommand(input("c1", "s1", "save", act(model.ActionIOWrite, "Write report file")))
	require.Len(t, res.AlertsSent, 1)
	assert.Equal(t, alert.TypeStandard, res.AlertsSent[0].Type)
}

func TestSequenceAlertsIgnoreThreshold(t *testing.T) {
	e := newTestEngine(t, func(c *Config) { c.AlertThresholdLevel = model.Critical })

	var res *MonitorResult
	for i := 0; i < 3; i++ {
		res = e.CheckCommand(input(fmt.Sprintf("c%d", i), "s1", "cat notes", act(model.ActionIORead, "Read notes")))
	}

	require.Len(t, res.SequenceAlerts, 1)
	sa := res.SequenceAlerts[0]
	assert.Equal(t, sequence.PatternReconnaissance, sa.Pattern)
	assert.Equal(t, 0.5, sa.Confidence)
	assert.Equal(t, []string{"c0", "c1", "c2"}, sa.CommandsInvolved)

	require.Len(t, res.AlertsSent, 1)
	assert.Equal(t, alert.TypeStandard, res.AlertsSent[0].Type)
	assert.Equal(t, model.Low, res.Level())
	assert.False(t, res.Blocked, "medium pattern does not block")
	assert.False(t, res.IsSafe())
	assert.Contains(t, res.Recommendations, sa.Recommendation)
}

func TestCriticalSequenceBlocks(t *testing.T) {
	e := newTestEngine(t, nil)

	first := e.CheckCommand(input("c1", "s1", "read customers export", act(model.ActionIORead, "Read customer table")))
	assert.False(t, first.Blocked)

	res := e.CheckCommand(input("c2", "s1", "curl upload", act(model.ActionExternalCall, "Post data")))
	require.Len(t, res.SequenceAlerts, 1)
	assert.Equal(t, sequence.PatternDataExfiltration, res.SequenceAlerts[0].Pattern)
	assert.Equal(t, 0.8, res.SequenceAlerts[0].Confidence)
	assert.Equal(t, model.High, res.Level())
	assert.True(t, res.Blocked)
	assert.Contains(t, res.BlockReason, "data_exfiltration")

	// Own HIGH risk alert plus the sequence alert.
	require.Len(t, res.AlertsSent, 2)
	assert.Equal(t, alert.TypePriority, res.AlertsSent[0].Type)
	assert.Equal(t, alert.TypeImmediate, res.AlertsSent[1].Type)
}

func TestCriticalSequenceBelowBlockConfidence(t *testing.T) {
	e := newTestEngine(t, nil)
	e.CheckCommand(input("c1", "s1", "read", act(model.ActionIORead, "Read file")))
	res := e.CheckCommand(input("c2", "s1", "curl post", act(model.ActionExternalCall, "Call API")))

	require.Len(t, res.SequenceAlerts, 1)
	assert.Equal(t, 0.7, res.SequenceAlerts[0].Confidence)
	assert.False(t, res.Blocked)
}

func TestSessionsAreIsolated(t *testing.T) {
	e := newTestEngine(t, nil)
	for i := 0; i < 3; i++ {
		res := e.CheckCommand(input(fmt.Sprintf("c%d", i), fmt.Sprintf("s%d", i), "cat", act(model.ActionIORead, "Read")))
		assert.Empty(t, res.SequenceAlerts)
	}
	sum, ok := e.SessionSummary("s1")
	require.True(t, ok)
	assert.Equal(t, 1, sum.CommandCount)

	_, ok = e.SessionSummary("missing")
	assert.False(t, ok)
}

func TestStatisticsCountEveryCheck(t *testing.T) {
	e := newTestEngine(t, nil)
	types := []model.ActionType{model.ActionIORead, model.ActionIOWrite, model.ActionCompute, model.ActionExternalCall}

	for i := 0; i < 10; i++ {
		at := types[i%len(types)]
		e.CheckCommand(input(fmt.Sprintf("c%d", i), "s1", "step", act(at, "routine step")))
		e.clock.Advance(time.Second)
	}

	s := e.Statistics()
	assert.Equal(t, 10, s.TotalChecked)
	sum := 0
	for _, n := range s.ByLevel {
		sum += n
	}
	assert.Equal(t, 10, sum)
	assert.Equal(t, 1, s.ActiveSessions)
	require.NotNil(t, s.Alerts)
	assert.Equal(t, s.AlertsSent, s.Alerts.TotalSent)
	require.NotNil(t, s.Log)
	// SAFE compute steps fall below the LOW log threshold.
	assert.Equal(t, 8, s.Log.ByEventType[audit.EventAssessment])

	total := 0.0
	for _, lvl := range model.AllLevels {
		total += testutil.ToFloat64(e.metrics.checksTotal.WithLabelValues(lvl.String()))
	}
	assert.Equal(t, 10.0, total)
}

func TestJournalRecordsAssessmentSequenceAndBlock(t *testing.T) {
	e := newTestEngine(t, nil)
	e.CheckCommand(input("c1", "s1", "read customers export", act(model.ActionIORead, "Read customer table")))
	e.CheckCommand(input("c2", "s1", "curl upload", act(model.ActionExternalCall, "Post data")))

	j := e.Journal()
	require.NotNil(t, j)
	assert.Len(t, j.Query(audit.Filter{EventType: audit.EventAssessment}), 2)
	assert.Len(t, j.Query(audit.Filter{EventType: audit.EventSequenceAlert}), 1)
	blocked := j.Query(audit.Filter{EventType: audit.EventBlocked})
	require.Len(t, blocked, 1)
	assert.Equal(t, "c2", blocked[0].CommandID)

	entries := j.Query(audit.Filter{EventType: audit.EventAssessment, Limit: 1})
	require.Len(t, entries, 1)
	assert.Equal(t, true, entries[0].Metadata["blocked"])
}

func TestMinLogLevelFiltersJournal(t *testing.T) {
	e := newTestEngine(t, func(c *Config) { c.MinLogLevel = model.High })
	e.CheckCommand(input("c1", "s1", "cat", act(model.ActionIORead, "Read")))
	e.CheckCommand(input("c2", "s2", "call", act(model.ActionExternalCall, "Call external API")))

	assert.Len(t, e.Journal().Query(audit.Filter{}), 1)
}

func TestContextRaisesScore(t *testing.T) {
	e := newTestEngine(t, nil)
	in := input("c1", "s1", "call", act(model.ActionExternalCall, "Call external API"))
	in.Environment = "production"
	in.Metadata = map[string]any{"sensitive_resources": true, "admin_privilege": "yes"}

	res := e.CheckCommand(in)
	assert.Equal(t, 72, res.RiskAssessment.BaseScore)
	assert.Equal(t, 45, res.RiskAssessment.ContextScore)
	assert.Equal(t, 100, res.RiskAssessment.FinalScore)
}

func TestCallbacksObserveOnly(t *testing.T) {
	e := newTestEngine(t, nil)
	var seen []MonitorResult

	e.RegisterPreCheckCallback(func(in model.CommandInput) error {
		in.Actions[0].Description = "drop database"
		return nil
	})
	e.RegisterPreCheckCallback(func(model.CommandInput) error { return errors.New("observer down") })
	e.RegisterPreCheckCallback(func(model.CommandInput) error { panic("observer crashed") })
	e.RegisterPostCheckCallback(func(_ model.CommandInput, r MonitorResult) error {
		seen = append(seen, r)
		return nil
	})
	e.RegisterPostCheckCallback(func(model.CommandInput, MonitorResult) error { panic("late crash") })

	in := input("c1", "s1", "cat", act(model.ActionIORead, "Read a configuration file"))
	res := e.CheckCommand(in)

	assert.Equal(t, model.Low, res.Level())
	assert.Equal(t, "Read a configuration file", in.Actions[0].Description)
	require.Len(t, seen, 1)
	assert.Equal(t, "c1", seen[0].CommandID)
	assert.Equal(t, 3, e.Statistics().CallbackErrors)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.callbackFailures.WithLabelValues("post")))
	assert.Equal(t, 2.0, testutil.ToFloat64(e.metrics.callbackFailures.WithLabelValues("pre")))
}

func TestDisabledStages(t *testing.T) {
	e := newTestEngine(t, func(c *Config) {
		c.EnableRiskClassification = false
		c.EnableSequenceAnalysis = false
		c.EnableAlerts = false
		c.EnableLogging = false
	})
	res := e.CheckCommand(input("c1", "s1", "nuke", act(model.ActionIODelete, "rm -rf /")))

	assert.Equal(t, model.Safe, res.Level())
	assert.False(t, res.Blocked)
	assert.Empty(t, res.AlertsSent)
	assert.Empty(t, res.SequenceAlerts)
	assert.Nil(t, e.Journal())
	assert.Nil(t, e.Alerts())

	s := e.Statistics()
	assert.Equal(t, 1, s.TotalChecked)
	assert.Nil(t, s.Alerts)
	assert.Nil(t, s.Log)
}

func TestHandlersReceiveAlerts(t *testing.T) {
	e := newTestEngine(t, nil)
	var mu sync.Mutex
	var got []alert.Alert
	e.Alerts().RegisterHandler(func(a alert.Alert) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, a)
		return nil
	}, alert.TypeImmediate)

	e.CheckCommand(input("c1", "s1", "drop", act(model.ActionStateChange, "drop table users")))
	e.CheckCommand(input("c2", "s2", "call", act(model.ActionExternalCall, "Call external API")))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "c1", got[0].SourceCommand)
}

func TestAsyncAlertsDeliveredByShutdown(t *testing.T) {
	e := newTestEngine(t, func(c *Config) { c.EnableAsyncAlerts = true })
	var mu sync.Mutex
	count := 0
	e.Alerts().RegisterHandler(func(alert.Alert) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	for i := 0; i < 5; i++ {
		e.CheckCommand(input(fmt.Sprintf("c%d", i), fmt.Sprintf("s%d", i), "call", act(model.ActionExternalCall, "Call external API")))
	}
	require.NoError(t, e.Shutdown(context.Background()))
	require.NoError(t, e.Shutdown(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 5, count)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SequenceWindowSize = 0
	_, err := New(cfg, WithLogger(log.New(io.Discard)))
	require.Error(t, err)
}

func TestFileSinksThroughEngine(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, func(c *Config) {
		c.LogDirectory = dir
		c.EnableJSONLog = true
	})
	e.CheckCommand(input("c1", "s1", "drop", act(model.ActionStateChange, "drop table users")))
	require.NoError(t, e.Shutdown(context.Background()))

	res := audit.Verify(filepath.Join(dir, audit.JSONLFileName))
	assert.True(t, res.Valid, res.Error)
	assert.Equal(t, 2, res.Lines)
}

func TestConcurrentChecks(t *testing.T) {
	e := newTestEngine(t, func(c *Config) { c.EnableAsyncAlerts = true })

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				at := []model.ActionType{model.ActionIORead, model.ActionExternalCall, model.ActionIODelete}[i%3]
				e.CheckCommand(input(fmt.Sprintf("c%d-%d", g, i), fmt.Sprintf("s%d", g), "step", act(at, "routine")))
			}
		}(g)
	}
	wg.Wait()

	s := e.Statistics()
	assert.Equal(t, 200, s.TotalChecked)
	assert.Equal(t, 8, s.ActiveSessions)
}
