package alert

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/ppiankov/riskwatch/internal/model"
)

// WriterHandler returns a Handler that writes each alert to w in the given
// format, one per line. Writes are serialized.
func WriterHandler(w io.Writer, format string) Handler {
	var mu sync.Mutex
	return func(a Alert) error {
		body, err := FormatPayload(format, a)
		if err != nil {
			return fmt.Errorf("format payload: %w", err)
		}
		mu.Lock()
		defer mu.Unlock()
		if _, err := w.Write(append(body, '\n')); err != nil {
			return fmt.Errorf("write alert: %w", err)
		}
		return nil
	}
}

// LogHandler returns a Handler that logs alerts at a level matching their
// risk level.
func LogHandler(logger *log.Logger) Handler {
	if logger == nil {
		logger = log.Default().WithPrefix("alert")
	}
	return func(a Alert) error {
		kv := []any{
			"alert_id", a.ID,
			"type", string(a.Type),
			"level", a.RiskLevel.String(),
			"command", a.SourceCommand,
		}
		if a.SessionID != "" {
			kv = append(kv, "session", a.SessionID)
		}
		switch a.RiskLevel {
		case model.Critical:
			logger.Error(a.Title, kv...)
		case model.High:
			logger.Warn(a.Title, kv...)
		case model.Medium:
			logger.Info(a.Title, kv...)
		default:
			logger.Debug(a.Title, kv...)
		}
		return nil
	}
}
