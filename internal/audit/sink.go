package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/ppiankov/riskwatch/internal/model"
)

// Sink receives every accepted entry. Write errors are logged and counted by
// the Logger; they never reach the caller.
type Sink interface {
	Write(Entry) error
	Close() error
}

// ConsoleSink writes entries through a structured logger.
type ConsoleSink struct {
	logger *log.Logger
}

// NewConsoleSink returns a sink logging to logger, or to the default logger
// when nil.
func NewConsoleSink(logger *log.Logger) *ConsoleSink {
	if logger == nil {
		logger = log.Default().WithPrefix("risk")
	}
	return &ConsoleSink{logger: logger}
}

func (s *ConsoleSink) Write(e Entry) error {
	kv := []any{
		"event", string(e.EventType),
		"level", e.RiskLevel.String(),
		"score", e.RiskScore,
	}
	if e.CommandName != "" {
		kv = append(kv, "command", e.CommandName)
	}
	if e.SessionID != "" {
		kv = append(kv, "session", e.SessionID)
	}
	if e.Pattern != "" {
		kv = append(kv, "pattern", e.Pattern, "confidence", e.Confidence)
	}
	switch e.RiskLevel {
	case model.Critical:
		s.logger.Error(e.Message, kv...)
	case model.High:
		s.logger.Warn(e.Message, kv...)
	case model.Medium:
		s.logger.Info(e.Message, kv...)
	default:
		s.logger.Debug(e.Message, kv...)
	}
	return nil
}

func (s *ConsoleSink) Close() error { return nil }

// TextSink appends one human-readable line per entry to a file.
type TextSink struct {
	mu   sync.Mutex
	file *os.File
}

// OpenText opens (or creates) a text log file for appending.
func OpenText(path string) (*TextSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("audit: open file: %w", err)
	}
	return &TextSink{file: f}, nil
}

func (s *TextSink) Write(e Entry) error {
	line := FormatLine(e) + "\n"
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.WriteString(line); err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}
	return nil
}

func (s *TextSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// FormatLine renders an entry as a single text line.
func FormatLine(e Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s score=%d",
		e.Timestamp.UTC().Format(TimestampFormat), e.RiskLevel, e.EventType, e.RiskScore)
	if e.CommandName != "" {
		fmt.Fprintf(&b, " command=%q", e.CommandName)
	}
	if e.SessionID != "" {
		fmt.Fprintf(&b, " session=%s", e.SessionID)
	}
	if e.Pattern != "" {
		fmt.Fprintf(&b, " pattern=%s confidence=%.2f", e.Pattern, e.Confidence)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	return b.String()
}
