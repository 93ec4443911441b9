// Package monitor orchestrates risk classification, sequence analysis,
// alerting and the risk journal for each command a host runtime submits.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ppiankov/riskwatch/internal/alert"
	"github.com/ppiankov/riskwatch/internal/audit"
	"github.com/ppiankov/riskwatch/internal/model"
	"github.com/ppiankov/riskwatch/internal/policy"
	"github.com/ppiankov/riskwatch/internal/sequence"
)

// BlockConfidence is the minimum confidence at which a CRITICAL sequence
// pattern blocks the command.
const BlockConfidence = 0.8

// PreCheckFunc observes a command before evaluation.
type PreCheckFunc func(in model.CommandInput) error

// PostCheckFunc observes a command and its result after evaluation.
type PostCheckFunc func(in model.CommandInput, result MonitorResult) error

// Stats is a snapshot of the engine counters and its components.
type Stats struct {
	TotalChecked   int                     `json:"total_checked"`
	Blocked        int                     `json:"blocked"`
	AlertsSent     int                     `json:"alerts_sent"`
	SequenceAlerts int                     `json:"sequence_alerts"`
	ByLevel        map[model.RiskLevel]int `json:"by_level"`
	ByPattern      map[string]int          `json:"by_pattern"`
	CallbackErrors int                     `json:"callback_errors"`
	ActiveSessions int                     `json:"active_sessions"`
	Alerts         *alert.Statistics       `json:"alerts,omitempty"`
	Log            *audit.Stats            `json:"log,omitempty"`
}

// Engine evaluates commands. It is safe for concurrent use.
type Engine struct {
	cfg        Config
	classifier *policy.Classifier
	analyzer   *sequence.Analyzer
	alerts     *alert.Manager
	journal    *audit.Logger
	metrics    *Metrics
	logger     *log.Logger
	now        func() time.Time

	cbMu sync.RWMutex
	pre  []PreCheckFunc
	post []PostCheckFunc

	mu    sync.Mutex
	stats Stats

	shutdownOnce sync.Once
	shutdownErr  error
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	logger  *log.Logger
	now     func() time.Time
	metrics *Metrics
	sinks   []audit.Sink
}

// WithLogger sets the logger shared by the engine and its components.
func WithLogger(l *log.Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// WithClock replaces time.Now in the engine and its components, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) { o.now = now }
}

// WithMetrics records into m instead of a private registry.
func WithMetrics(m *Metrics) Option {
	return func(o *engineOptions) { o.metrics = m }
}

// WithLogSink adds a journal sink.
func WithLogSink(s audit.Sink) Option {
	return func(o *engineOptions) { o.sinks = append(o.sinks, s) }
}

// New builds an Engine from cfg. A nil cfg uses DefaultConfig.
func New(cfg *Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := engineOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.Default()
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(nil)
	}

	e := &Engine{
		cfg:        *cfg,
		classifier: policy.NewClassifier(cfg.RiskProfiles()),
		metrics:    o.metrics,
		logger:     o.logger.WithPrefix("monitor"),
		now:        o.now,
	}
	e.stats.ByLevel = make(map[model.RiskLevel]int)
	e.stats.ByPattern = make(map[string]int)

	if cfg.EnableSequenceAnalysis {
		e.analyzer = sequence.NewAnalyzer(cfg.SequenceWindowSize, cfg.TimeWindow(),
			sequence.WithClock(o.now),
			sequence.WithLogger(o.logger.WithPrefix("sequence")))
	}
	if cfg.EnableAlerts {
		e.alerts = alert.NewManager(alert.Config{
			MaxHistory: cfg.MaxAlertHistory,
			Async:      cfg.EnableAsyncAlerts,
		}, alert.WithLogger(o.logger.WithPrefix("alert")), alert.WithClock(o.now))
	}
	if cfg.EnableLogging {
		auditOpts := []audit.Option{audit.WithLogger(o.logger.WithPrefix("risk")), audit.WithClock(o.now)}
		for _, s := range o.sinks {
			auditOpts = append(auditOpts, audit.WithSink(s))
		}
		journal, err := audit.New(cfg.AuditConfig(), auditOpts...)
		if err != nil {
			if e.alerts != nil {
				e.alerts.Shutdown(context.Background())
			}
			return nil, fmt.Errorf("monitor: open risk log: %w", err)
		}
		e.journal = journal
	}
	return e, nil
}

// Classifier returns the live classifier.
func (e *Engine) Classifier() *policy.Classifier { return e.classifier }

// Alerts returns the alert manager, or nil when alerts are disabled.
func (e *Engine) Alerts() *alert.Manager { return e.alerts }

// Journal returns the risk journal, or nil when logging is disabled.
func (e *Engine) Journal() *audit.Logger { return e.journal }

// Analyzer returns the sequence analyzer, or nil when disabled.
func (e *Engine) Analyzer() *sequence.Analyzer { return e.analyzer }

// RegisterPreCheckCallback adds an observer run before each evaluation.
func (e *Engine) RegisterPreCheckCallback(fn PreCheckFunc) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.pre = append(e.pre, fn)
}

// RegisterPostCheckCallback adds an observer run after each evaluation.
func (e *Engine) RegisterPostCheckCallback(fn PostCheckFunc) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.post = append(e.post, fn)
}

// CheckCommand classifies in, feeds it to sequence analysis, decides whether
// to block it, sends alerts and records it in the journal. Observer and sink
// failures are logged and never change the result.
func (e *Engine) CheckCommand(in model.CommandInput) *MonitorResult {
	if in.Timestamp.IsZero() {
		in.Timestamp = e.now().UTC()
	}
	e.runPre(in)

	assessment := e.assess(in)
	result := &MonitorResult{
		CommandID:      in.CommandID,
		SessionID:      in.SessionID,
		RiskAssessment: assessment,
		CheckedAt:      e.now().UTC(),
	}

	if e.analyzer != nil {
		result.SequenceAlerts = e.analyzer.AddCommand(model.CommandContext{
			CommandID:   in.CommandID,
			CommandName: in.CommandName,
			Actions:     in.Actions,
			SessionID:   in.SessionID,
			UserID:      in.UserID,
			Environment: in.Environment,
			Metadata:    in.Metadata,
			Timestamp:   in.Timestamp,
			Assessment:  assessment,
		})
	}

	result.Blocked, result.BlockReason = blockDecision(assessment, result.SequenceAlerts)
	result.Recommendations = recommendations(assessment, result.SequenceAlerts)
	result.AlertsSent = e.sendAlerts(in, result)
	e.record(in, result)
	e.count(result)

	e.runPost(in, *result)
	return result
}

func (e *Engine) assess(in model.CommandInput) *model.RiskAssessment {
	if !e.cfg.EnableRiskClassification {
		return &model.RiskAssessment{
			CommandID:   in.CommandID,
			CommandName: in.CommandName,
			Profile: model.RiskProfile{
				Level:       model.Safe,
				Category:    "unclassified",
				Description: "Risk classification disabled",
				Reversible:  true,
			},
			Factors:         []string{},
			Recommendations: []string{},
		}
	}
	actx := in.AssessContext()
	return e.classifier.AssessCommand(in.CommandID, in.CommandName, in.Actions, &actx)
}

// blockDecision blocks CRITICAL commands and CRITICAL sequence patterns at
// or above BlockConfidence.
func blockDecision(a *model.RiskAssessment, seqAlerts []sequence.Alert) (bool, string) {
	var reasons []string
	if a.Level() == model.Critical {
		reasons = append(reasons, fmt.Sprintf("critical risk: %s", a.Profile.Description))
	}
	for _, sa := range seqAlerts {
		if sa.Severity == model.Critical && sa.Confidence >= BlockConfidence {
			reasons = append(reasons, fmt.Sprintf("dangerous sequence %s (confidence %.2f)", sa.Pattern, sa.Confidence))
		}
	}
	if len(reasons) == 0 {
		return false, ""
	}
	return true, strings.Join(reasons, "; ")
}

func recommendations(a *model.RiskAssessment, seqAlerts []sequence.Alert) []string {
	out := []string{}
	seen := make(map[string]bool)
	add := func(r string) {
		if r != "" && !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	for _, r := range a.Recommendations {
		add(r)
	}
	for _, sa := range seqAlerts {
		add(sa.Recommendation)
	}
	return out
}

func (e *Engine) sendAlerts(in model.CommandInput, r *MonitorResult) []alert.Alert {
	if e.alerts == nil {
		return nil
	}
	var sent []alert.Alert
	a := r.RiskAssessment
	if a.Level().AtLeast(e.cfg.AlertThresholdLevel) {
		al := e.alerts.CreateAlert(a.Level(),
			fmt.Sprintf("%s risk command: %s", a.Level(), displayName(in)),
			fmt.Sprintf("%s (score %d)", a.Profile.Description, a.FinalScore),
			in.CommandID, in.SessionID,
			map[string]any{
				"final_score": a.FinalScore,
				"factors":     append([]string(nil), a.Factors...),
				"blocked":     r.Blocked,
			})
		e.alerts.SendAlert(al)
		sent = append(sent, *al)
	}
	for _, sa := range r.SequenceAlerts {
		al := e.alerts.CreateAlert(sa.Severity,
			fmt.Sprintf("Sequence pattern detected: %s", sa.Pattern),
			fmt.Sprintf("%s. %s", sa.Description, sa.Recommendation),
			in.CommandID, in.SessionID,
			map[string]any{
				"pattern":           sa.Pattern,
				"confidence":        sa.Confidence,
				"commands_involved": append([]string(nil), sa.CommandsInvolved...),
			})
		e.alerts.SendAlert(al)
		sent = append(sent, *al)
	}
	for _, al := range sent {
		e.metrics.observeAlert(al.Type)
	}
	return sent
}

func displayName(in model.CommandInput) string {
	if in.CommandName != "" {
		return in.CommandName
	}
	return in.CommandID
}

func (e *Engine) record(in model.CommandInput, r *MonitorResult) {
	if e.journal == nil {
		return
	}
	meta := maps.Clone(in.Metadata)
	if meta == nil {
		meta = map[string]any{}
	}
	meta["blocked"] = r.Blocked
	e.journal.LogAssessment(r.RiskAssessment, in.SessionID, in.UserID, meta)
	for _, sa := range r.SequenceAlerts {
		e.journal.LogSequenceAlert(sa, in.SessionID, in.UserID)
	}
	if r.Blocked {
		e.journal.LogEvent(audit.Entry{
			EventType:   audit.EventBlocked,
			RiskLevel:   model.Critical,
			RiskScore:   r.RiskAssessment.FinalScore,
			CommandID:   in.CommandID,
			CommandName: in.CommandName,
			SessionID:   in.SessionID,
			UserID:      in.UserID,
			Message:     r.BlockReason,
		})
	}
}

func (e *Engine) count(r *MonitorResult) {
	level := r.Level()
	e.mu.Lock()
	e.stats.TotalChecked++
	e.stats.ByLevel[level]++
	if r.Blocked {
		e.stats.Blocked++
	}
	e.stats.AlertsSent += len(r.AlertsSent)
	e.stats.SequenceAlerts += len(r.SequenceAlerts)
	for _, sa := range r.SequenceAlerts {
		e.stats.ByPattern[sa.Pattern]++
	}
	e.mu.Unlock()

	e.metrics.observeCheck(level, r.RiskAssessment.FinalScore, r.Blocked)
	for _, sa := range r.SequenceAlerts {
		e.metrics.observeSequence(sa.Pattern)
	}
	if r.Blocked {
		e.logger.Warn("command blocked", "command", r.CommandID, "session", r.SessionID, "reason", r.BlockReason)
	}
}

func (e *Engine) runPre(in model.CommandInput) {
	e.cbMu.RLock()
	pre := append([]PreCheckFunc(nil), e.pre...)
	e.cbMu.RUnlock()
	for i, fn := range pre {
		err := guard(func() error { return fn(cloneInput(in)) })
		if err != nil {
			e.callbackFailed("pre", i, in.CommandID, err)
		}
	}
}

func (e *Engine) runPost(in model.CommandInput, r MonitorResult) {
	e.cbMu.RLock()
	post := append([]PostCheckFunc(nil), e.post...)
	e.cbMu.RUnlock()
	for i, fn := range post {
		err := guard(func() error { return fn(cloneInput(in), r) })
		if err != nil {
			e.callbackFailed("post", i, in.CommandID, err)
		}
	}
}

func (e *Engine) callbackFailed(stage string, idx int, commandID string, err error) {
	e.mu.Lock()
	e.stats.CallbackErrors++
	e.mu.Unlock()
	e.metrics.observeCallbackFailure(stage)
	e.logger.Error("check callback failed", "stage", stage, "index", idx, "command", commandID, "error", err)
}

func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panic: %v", r)
		}
	}()
	return fn()
}

// cloneInput copies the parts of in a callback could mutate.
func cloneInput(in model.CommandInput) model.CommandInput {
	actions := make([]model.Action, len(in.Actions))
	for i, a := range in.Actions {
		a.SideEffects = append([]string(nil), a.SideEffects...)
		actions[i] = a
	}
	in.Actions = actions
	in.Metadata = maps.Clone(in.Metadata)
	return in
}

// SessionSummary returns the sequence window summary for a session.
func (e *Engine) SessionSummary(sessionID string) (sequence.Summary, bool) {
	if e.analyzer == nil {
		return sequence.Summary{}, false
	}
	return e.analyzer.SessionSummary(sessionID)
}

// Statistics returns engine counters plus alert and journal statistics.
func (e *Engine) Statistics() Stats {
	e.mu.Lock()
	s := e.stats
	s.ByLevel = maps.Clone(e.stats.ByLevel)
	s.ByPattern = maps.Clone(e.stats.ByPattern)
	e.mu.Unlock()

	if e.analyzer != nil {
		s.ActiveSessions = len(e.analyzer.ActiveSessions())
	}
	if e.alerts != nil {
		as := e.alerts.Statistics()
		s.Alerts = &as
	}
	if e.journal != nil {
		ls := e.journal.Statistics(time.Time{}, time.Time{})
		s.Log = &ls
	}
	return s
}

// Patterns lists the sequence patterns in evaluation order.
func (e *Engine) Patterns() []sequence.Pattern {
	if e.analyzer == nil {
		return sequence.Catalog()
	}
	return e.analyzer.Patterns()
}

// Shutdown drains queued alerts within cfg.AlertShutdownTimeout or ctx,
// whichever ends first, then closes the journal. It is idempotent.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.shutdownOnce.Do(func() {
		var errs []error
		if e.alerts != nil {
			if e.cfg.AlertShutdownTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, e.cfg.AlertShutdownTimeout)
				defer cancel()
			}
			if err := e.alerts.Shutdown(ctx); err != nil {
				e.logger.Warn("alert drain incomplete", "error", err)
				errs = append(errs, err)
			}
		}
		if e.journal != nil {
			if err := e.journal.Close(); err != nil {
				errs = append(errs, fmt.Errorf("monitor: close risk log: %w", err))
			}
		}
		e.shutdownErr = errors.Join(errs...)
	})
	return e.shutdownErr
}
