// Package audit is the risk journal: a bounded, queryable in-memory buffer
// of risk events with optional console, text, hash-chained JSONL and SQLite
// sinks.
package audit

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/ppiankov/riskwatch/internal/model"
	"github.com/ppiankov/riskwatch/internal/redact"
	"github.com/ppiankov/riskwatch/internal/sequence"
)

// DefaultMaxEntries bounds the in-memory buffer when Config.MaxEntries is unset.
const DefaultMaxEntries = 10000

// Sink file names inside Config.Directory.
const (
	TextFileName   = "riskwatch.log"
	JSONLFileName  = "riskwatch.jsonl"
	SQLiteFileName = "riskwatch.db"
)

// Export formats.
const (
	ExportJSON  = "json"
	ExportJSONL = "jsonl"
	ExportCSV   = "csv"
)

// Config configures a Logger. Start from DefaultConfig: the zero MinLevel is
// CRITICAL.
type Config struct {
	MinLevel   model.RiskLevel // entries less severe than this are discarded
	MaxEntries int
	Directory  string // required when any file sink is enabled
	Console    bool
	TextFile   bool
	JSONFile   bool
	SQLite     bool
	Redact     bool // scrub secrets from text and metadata before recording
}

// DefaultConfig records LOW and above in memory only, with redaction on.
func DefaultConfig() Config {
	return Config{MinLevel: model.Low, MaxEntries: DefaultMaxEntries, Redact: true}
}

// Stats aggregates journal entries.
type Stats struct {
	Total         int                     `json:"total"`
	ByLevel       map[model.RiskLevel]int `json:"by_level"`
	ByEventType   map[EventType]int       `json:"by_event_type"`
	AverageScore  float64                 `json:"average_score"`
	HighRiskCount int                     `json:"high_risk_count"`
	Buffered      int                     `json:"buffered"`
	Evicted       int                     `json:"evicted"`
	Filtered      int                     `json:"filtered"`
	SinkErrors    int                     `json:"sink_errors"`
}

// Logger is the risk journal. It is safe for concurrent use.
type Logger struct {
	minLevel   model.RiskLevel
	maxEntries int
	redact     bool
	logger     *log.Logger
	now        func() time.Time
	sinks      []Sink

	// writeMu keeps buffer order and sink order identical.
	writeMu sync.Mutex

	mu         sync.RWMutex
	entries    []Entry
	evicted    int
	filtered   int
	sinkErrors int
}

// Option configures a Logger.
type Option func(*Logger)

// WithLogger sets the diagnostic logger, also used by the console sink.
func WithLogger(l *log.Logger) Option {
	return func(lg *Logger) { lg.logger = l }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(lg *Logger) { lg.now = now }
}

// WithSink adds an extra sink.
func WithSink(s Sink) Option {
	return func(lg *Logger) { lg.sinks = append(lg.sinks, s) }
}

// New creates a Logger and opens the sinks cfg enables.
func New(cfg Config, opts ...Option) (*Logger, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	l := &Logger{
		minLevel:   cfg.MinLevel,
		maxEntries: cfg.MaxEntries,
		redact:     cfg.Redact,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = log.Default().WithPrefix("audit")
	}

	if (cfg.TextFile || cfg.JSONFile || cfg.SQLite) && cfg.Directory == "" {
		return nil, errors.New("audit: log directory is required for file sinks")
	}
	if cfg.Console {
		l.sinks = append(l.sinks, NewConsoleSink(l.logger))
	}
	type opener struct {
		enabled bool
		open    func() (Sink, error)
	}
	openers := []opener{
		{cfg.TextFile, func() (Sink, error) { return OpenText(filepath.Join(cfg.Directory, TextFileName)) }},
		{cfg.JSONFile, func() (Sink, error) { return OpenJSONL(filepath.Join(cfg.Directory, JSONLFileName)) }},
		{cfg.SQLite, func() (Sink, error) { return OpenSQLite(filepath.Join(cfg.Directory, SQLiteFileName)) }},
	}
	for _, o := range openers {
		if !o.enabled {
			continue
		}
		s, err := o.open()
		if err != nil {
			l.Close()
			return nil, err
		}
		l.sinks = append(l.sinks, s)
	}
	return l, nil
}

// MinLevel returns the recording threshold.
func (l *Logger) MinLevel() model.RiskLevel { return l.minLevel }

// LogAssessment records a command's risk assessment.
func (l *Logger) LogAssessment(a *model.RiskAssessment, sessionID, userID string, metadata map[string]any) bool {
	if a == nil {
		return false
	}
	return l.LogEvent(Entry{
		EventType:       EventAssessment,
		RiskLevel:       a.Level(),
		RiskScore:       a.FinalScore,
		CommandID:       a.CommandID,
		CommandName:     a.CommandName,
		SessionID:       sessionID,
		UserID:          userID,
		Message:         a.Profile.Description,
		Factors:         a.Factors,
		Recommendations: a.Recommendations,
		Metadata:        metadata,
	})
}

// LogSequenceAlert records a detected sequence pattern. An empty sessionID
// falls back to the alert's session.
func (l *Logger) LogSequenceAlert(a sequence.Alert, sessionID, userID string) bool {
	if sessionID == "" {
		sessionID = a.SessionID
	}
	var recs []string
	if a.Recommendation != "" {
		recs = []string{a.Recommendation}
	}
	return l.LogEvent(Entry{
		EventType:       EventSequenceAlert,
		RiskLevel:       a.Severity,
		RiskScore:       int(math.Round(a.Confidence * 100)),
		SessionID:       sessionID,
		UserID:          userID,
		Message:         a.Description,
		Pattern:         a.Pattern,
		Confidence:      a.Confidence,
		Recommendations: recs,
		Metadata:        map[string]any{"commands_involved": a.CommandsInvolved},
	})
}

// LogEvent records e if its level is at least as severe as the threshold.
// Missing ID, timestamp and event type are filled in. Sink failures are
// logged and counted. It reports whether the entry was accepted.
func (l *Logger) LogEvent(e Entry) bool {
	if !e.RiskLevel.Valid() {
		l.logger.Warn("risk log entry rejected", "risk_level", int(e.RiskLevel), "event_type", e.EventType)
	}
	if !e.RiskLevel.Valid() || !e.RiskLevel.AtLeast(l.minLevel) {
		l.mu.Lock()
		l.filtered++
		l.mu.Unlock()
		return false
	}
	if e.ID == "" {
		e.ID = "e-" + uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}
	if e.EventType == "" {
		e.EventType = EventCustom
	}
	if l.redact {
		e = scrub(e)
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.Lock()
	l.entries = append(l.entries, e)
	if over := len(l.entries) - l.maxEntries; over > 0 {
		l.entries = append([]Entry(nil), l.entries[over:]...)
		l.evicted += over
	}
	l.mu.Unlock()

	for _, s := range l.sinks {
		if err := s.Write(e); err != nil {
			l.mu.Lock()
			l.sinkErrors++
			l.mu.Unlock()
			l.logger.Error("risk log sink write failed", "entry_id", e.ID, "sink", fmt.Sprintf("%T", s), "error", err)
		}
	}
	return true
}

func scrub(e Entry) Entry {
	e.CommandName = redact.Text(e.CommandName)
	e.Message = redact.Text(e.Message)
	if len(e.Factors) > 0 {
		factors := make([]string, len(e.Factors))
		for i, f := range e.Factors {
			factors[i] = redact.Text(f)
		}
		e.Factors = factors
	}
	e.Metadata = redact.Map(e.Metadata)
	return e
}

// Query returns buffered entries matching filter, newest first.
func (l *Logger) Query(filter Filter) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return filter.apply(l.entries)
}

// Statistics aggregates buffered entries with timestamps in [from, to].
// Zero bounds are open.
func (l *Logger) Statistics(from, to time.Time) Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Summarize(l.entries, from, to)
	s.Buffered = len(l.entries)
	s.Evicted = l.evicted
	s.Filtered = l.filtered
	s.SinkErrors = l.sinkErrors
	return s
}

// Summarize aggregates the entries whose timestamps fall within [from, to].
// Zero bounds are open.
func Summarize(entries []Entry, from, to time.Time) Stats {
	s := Stats{
		ByLevel:     make(map[model.RiskLevel]int),
		ByEventType: make(map[EventType]int),
	}
	window := Filter{From: from, To: to}
	sum := 0
	for i := range entries {
		e := &entries[i]
		if !window.match(e) {
			continue
		}
		s.Total++
		s.ByLevel[e.RiskLevel]++
		s.ByEventType[e.EventType]++
		sum += e.RiskScore
		if e.RiskLevel.AtLeast(model.High) {
			s.HighRiskCount++
		}
	}
	if s.Total > 0 {
		s.AverageScore = math.Round(float64(sum)/float64(s.Total)*100) / 100
	}
	return s
}

// Export writes all buffered entries, oldest first, to path.
func (l *Logger) Export(path, format string) error {
	l.mu.RLock()
	entries := append([]Entry(nil), l.entries...)
	l.mu.RUnlock()
	return WriteEntries(path, format, entries)
}

// WriteEntries writes entries to path as json (array), jsonl or csv.
func WriteEntries(path, format string, entries []Entry) error {
	switch format {
	case ExportJSON, ExportJSONL, ExportCSV:
	default:
		return fmt.Errorf("audit: export: unknown format %q", format)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("audit: export: create directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audit: export: %w", err)
	}
	w := bufio.NewWriter(f)

	switch format {
	case ExportJSON:
		err = writeJSON(w, entries)
	case ExportJSONL:
		err = writeJSONL(w, entries)
	case ExportCSV:
		err = writeCSV(w, entries)
	}
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("audit: export: %w", err)
	}
	return nil
}

func writeJSON(w *bufio.Writer, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

func writeJSONL(w *bufio.Writer, entries []Entry) error {
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

var csvHeader = []string{
	"id", "timestamp", "event_type", "risk_level", "risk_score",
	"command_id", "command_name", "session_id", "user_id", "pattern",
	"confidence", "message",
}

func writeCSV(w *bufio.Writer, entries []Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range entries {
		row := []string{
			e.ID,
			e.Timestamp.UTC().Format(TimestampFormat),
			string(e.EventType),
			e.RiskLevel.String(),
			strconv.Itoa(e.RiskScore),
			e.CommandID,
			e.CommandName,
			e.SessionID,
			e.UserID,
			e.Pattern,
			strconv.FormatFloat(e.Confidence, 'f', 2, 64),
			e.Message,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Close closes every sink.
func (l *Logger) Close() error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	var errs []error
	for _, s := range l.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	l.sinks = nil
	return errors.Join(errs...)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
