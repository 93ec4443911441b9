// Package sequence correlates the recent commands of a session against known
// multi-step attack patterns.
package sequence

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ppiankov/riskwatch/internal/model"
)

// Defaults applied when the caller passes non-positive values.
const (
	DefaultWindowSize = 10
	DefaultTimeWindow = 5 * time.Minute

	// defaultSessionID groups commands submitted without a session.
	defaultSessionID = "default"

	subsequenceConfidence = 0.5
	keywordStep           = 0.1
	keywordCap            = 0.4
	longSequenceLen       = 5
	longSequenceBonus     = 0.1
)

// Alert reports that a session's recent history matches a pattern.
type Alert struct {
	Pattern          string          `json:"pattern"`
	Severity         model.RiskLevel `json:"severity"`
	Description      string          `json:"description"`
	CommandsInvolved []string        `json:"commands_involved"`
	Confidence       float64         `json:"confidence"`
	Recommendation   string          `json:"recommendation"`
	SessionID        string          `json:"session_id"`
	DetectedAt       time.Time       `json:"detected_at"`
}

type entry struct {
	cmd model.CommandContext
	at  time.Time // command timestamp, or the analyzer clock when unset
}

// session is one bounded, age-pruned command window. A removed session is
// marked dead under mu so late lockers retry with a fresh one.
type session struct {
	mu      sync.Mutex
	entries []entry
	dead    bool
}

// Analyzer owns the per-session windows. Lock order is session.mu then
// Analyzer.mu; Analyzer.mu is never held while waiting on a session.
type Analyzer struct {
	windowSize int
	timeWindow time.Duration
	patterns   []Pattern
	now        func() time.Time
	logger     *log.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(a *Analyzer) { a.logger = l }
}

// WithPatterns replaces the built-in catalog.
func WithPatterns(patterns []Pattern) Option {
	return func(a *Analyzer) {
		a.patterns = make([]Pattern, len(patterns))
		for i, p := range patterns {
			a.patterns[i] = p.clone()
		}
	}
}

// NewAnalyzer creates an Analyzer keeping at most windowSize commands per
// session, none older than timeWindow.
func NewAnalyzer(windowSize int, timeWindow time.Duration, opts ...Option) *Analyzer {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	if timeWindow <= 0 {
		timeWindow = DefaultTimeWindow
	}
	a := &Analyzer{
		windowSize: windowSize,
		timeWindow: timeWindow,
		patterns:   Catalog(),
		now:        time.Now,
		sessions:   make(map[string]*session),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = log.Default().WithPrefix("sequence")
	}
	return a
}

// Patterns returns a copy of the patterns this analyzer evaluates.
func (a *Analyzer) Patterns() []Pattern {
	out := make([]Pattern, len(a.patterns))
	for i, p := range a.patterns {
		out[i] = p.clone()
	}
	return out
}

// AddCommand appends cmd to its session window and re-evaluates every
// pattern against the whole window. Entries more than the time window older
// than cmd.Timestamp are evicted before the append; a zero timestamp means
// the analyzer clock.
func (a *Analyzer) AddCommand(cmd model.CommandContext) []Alert {
	id := sessionKey(cmd.SessionID)
	now := a.now()
	at := cmd.Timestamp
	if at.IsZero() {
		at = now
	}

	s := a.lockSession(id, true)
	defer s.mu.Unlock()

	s.evict(at, a.timeWindow)
	s.entries = append(s.entries, entry{cmd: cmd, at: at})
	if over := len(s.entries) - a.windowSize; over > 0 {
		s.entries = append([]entry(nil), s.entries[over:]...)
	}

	cmds := make([]model.CommandContext, len(s.entries))
	for i, e := range s.entries {
		cmds[i] = e.cmd
	}

	var alerts []Alert
	for _, p := range a.patterns {
		confidence := Match(p, cmds)
		if confidence < p.ConfidenceThreshold {
			continue
		}
		alert := Alert{
			Pattern:          p.Name,
			Severity:         p.Severity,
			Description:      fmt.Sprintf("%s (%d commands in window)", p.Description, len(cmds)),
			CommandsInvolved: commandIDs(cmds),
			Confidence:       confidence,
			Recommendation:   p.Recommendation,
			SessionID:        id,
			DetectedAt:       now,
		}
		a.logger.Debug("sequence pattern matched",
			"session", id, "pattern", p.Name, "confidence", confidence)
		alerts = append(alerts, alert)
	}
	return alerts
}

// lockSession returns the session locked. With create=false a missing
// session yields nil. Analyzer.mu is released before waiting on the session
// so a busy session does not stall the others.
func (a *Analyzer) lockSession(id string, create bool) *session {
	for {
		a.mu.Lock()
		s, ok := a.sessions[id]
		if !ok {
			if !create {
				a.mu.Unlock()
				return nil
			}
			s = &session{}
			a.sessions[id] = s
		}
		a.mu.Unlock()

		s.mu.Lock()
		if !s.dead {
			return s
		}
		s.mu.Unlock()
	}
}

// remove drops s from the registry. s.mu must be held.
func (a *Analyzer) remove(id string, s *session) {
	s.dead = true
	a.mu.Lock()
	if a.sessions[id] == s {
		delete(a.sessions, id)
	}
	a.mu.Unlock()
}

// evict drops entries more than window older than ref. Entries stamped
// after ref are kept.
func (s *session) evict(ref time.Time, window time.Duration) {
	keep := s.entries[:0]
	for _, e := range s.entries {
		if ref.Sub(e.at) <= window {
			keep = append(keep, e)
		}
	}
	for i := len(keep); i < len(s.entries); i++ {
		s.entries[i] = entry{}
	}
	s.entries = keep
}

// Match scores how strongly cmds, in order, match p. The result is in [0,1].
func Match(p Pattern, cmds []model.CommandContext) float64 {
	var types []model.ActionType
	names := make([]string, 0, len(cmds))
	for _, c := range cmds {
		types = append(types, c.ActionTypes()...)
		names = append(names, c.CommandName)
	}
	text := strings.ToLower(strings.Join(names, " "))

	confidence := 0.0
	for _, trigger := range p.Triggers {
		if containsRun(types, trigger) {
			confidence = math.Max(confidence, subsequenceConfidence)
		}
	}

	hits := 0
	seen := make(map[string]bool, len(p.Keywords))
	for _, kw := range p.Keywords {
		kw = strings.ToLower(kw)
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		if strings.Contains(text, kw) {
			hits++
		}
	}
	confidence += math.Min(keywordCap, keywordStep*float64(hits))

	if len(types) >= longSequenceLen {
		confidence += longSequenceBonus
	}

	// Round away float noise so threshold comparisons are exact.
	confidence = math.Round(confidence*100) / 100
	return math.Min(confidence, 1.0)
}

// containsRun reports whether sub occurs as a contiguous run in s.
func containsRun(s, sub []model.ActionType) bool {
	if len(sub) == 0 || len(sub) > len(s) {
		return false
	}
outer:
	for i := 0; i+len(sub) <= len(s); i++ {
		for j := range sub {
			if s[i+j] != sub[j] {
				continue outer
			}
		}
		return true
	}
	return false
}

// Summary describes a session's current window.
type Summary struct {
	SessionID        string                   `json:"session_id"`
	CommandCount     int                      `json:"command_count"`
	FirstSeen        time.Time                `json:"first_seen"`
	LastSeen         time.Time                `json:"last_seen"`
	ActionTypeCounts map[model.ActionType]int `json:"action_type_counts"`
	RiskLevelCounts  map[model.RiskLevel]int  `json:"risk_level_counts"`
	WorstLevel       model.RiskLevel          `json:"worst_level"`
	CommandIDs       []string                 `json:"command_ids"`
}

// SessionSummary reports on a session's window after evicting expired
// entries. The bool is false for unknown sessions.
func (a *Analyzer) SessionSummary(sessionID string) (Summary, bool) {
	id := sessionKey(sessionID)
	s := a.lockSession(id, false)
	if s == nil {
		return Summary{}, false
	}
	defer s.mu.Unlock()

	s.evict(a.now(), a.timeWindow)

	sum := Summary{
		SessionID:        id,
		CommandCount:     len(s.entries),
		ActionTypeCounts: make(map[model.ActionType]int),
		RiskLevelCounts:  make(map[model.RiskLevel]int),
		WorstLevel:       model.Safe,
		CommandIDs:       make([]string, 0, len(s.entries)),
	}
	for i, e := range s.entries {
		if i == 0 {
			sum.FirstSeen = e.at
		}
		sum.LastSeen = e.at
		sum.CommandIDs = append(sum.CommandIDs, e.cmd.CommandID)
		for _, t := range e.cmd.ActionTypes() {
			sum.ActionTypeCounts[t]++
		}
		if e.cmd.Assessment != nil {
			level := e.cmd.Assessment.Level()
			sum.RiskLevelCounts[level]++
			sum.WorstLevel = model.Worst(sum.WorstLevel, level)
		}
	}
	return sum, true
}

// ClearSession drops a session's window. It reports whether the session existed.
func (a *Analyzer) ClearSession(sessionID string) bool {
	id := sessionKey(sessionID)
	s := a.lockSession(id, false)
	if s == nil {
		return false
	}
	a.remove(id, s)
	s.mu.Unlock()
	return true
}

// ActiveSessions returns the ids of sessions with a window, sorted.
func (a *Analyzer) ActiveSessions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.sessions))
	for id := range a.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PruneExpired evicts expired entries everywhere and drops sessions left
// empty. It returns the number of sessions dropped.
func (a *Analyzer) PruneExpired() int {
	now := a.now()
	a.mu.Lock()
	snapshot := make(map[string]*session, len(a.sessions))
	for id, s := range a.sessions {
		snapshot[id] = s
	}
	a.mu.Unlock()

	dropped := 0
	for id, s := range snapshot {
		s.mu.Lock()
		if !s.dead {
			s.evict(now, a.timeWindow)
			if len(s.entries) == 0 {
				a.remove(id, s)
				dropped++
			}
		}
		s.mu.Unlock()
	}
	return dropped
}

func sessionKey(id string) string {
	if id == "" {
		return defaultSessionID
	}
	return id
}

func commandIDs(cmds []model.CommandContext) []string {
	ids := make([]string, len(cmds))
	for i, c := range cmds {
		ids[i] = c.CommandID
	}
	return ids
}
