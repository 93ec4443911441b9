package audit

import (
	"time"

	"github.com/ppiankov/riskwatch/internal/model"
)

// EventType classifies journal entries.
type EventType string

const (
	EventAssessment    EventType = "risk_assessment"
	EventSequenceAlert EventType = "sequence_alert"
	EventBlocked       EventType = "command_blocked"
	EventCustom        EventType = "custom"
)

// Entry is one journal record. The JSONL sink writes it as one line and
// fills PrevHash to chain it to the previous line.
type Entry struct {
	ID              string          `json:"id"`
	Timestamp       time.Time       `json:"ts"`
	EventType       EventType       `json:"event_type"`
	RiskLevel       model.RiskLevel `json:"risk_level"`
	RiskScore       int             `json:"risk_score"`
	CommandID       string          `json:"command_id,omitempty"`
	CommandName     string          `json:"command_name,omitempty"`
	SessionID       string          `json:"session_id,omitempty"`
	UserID          string          `json:"user_id,omitempty"`
	Message         string          `json:"message"`
	Pattern         string          `json:"pattern,omitempty"`
	Confidence      float64         `json:"confidence,omitempty"`
	Factors         []string        `json:"factors,omitempty"`
	Recommendations []string        `json:"recommendations,omitempty"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
	PrevHash        string          `json:"prev_hash,omitempty"`
}

// Filter selects entries for Query and ReadLog. Zero fields match everything.
type Filter struct {
	From         time.Time        // inclusive; zero = no lower bound
	To           time.Time        // inclusive; zero = no upper bound
	Level        *model.RiskLevel // exact level
	EventType    EventType
	SessionID    string
	NameContains string // case-insensitive substring of CommandName
	Limit        int    // <= 0 = unlimited
}

func (f Filter) match(e *Entry) bool {
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	if f.Level != nil && e.RiskLevel != *f.Level {
		return false
	}
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if f.NameContains != "" && !containsFold(e.CommandName, f.NameContains) {
		return false
	}
	return true
}

// apply returns matching entries newest first, honoring Limit. entries must
// be oldest first.
func (f Filter) apply(entries []Entry) []Entry {
	var out []Entry
	for i := len(entries) - 1; i >= 0; i-- {
		if !f.match(&entries[i]) {
			continue
		}
		out = append(out, entries[i])
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}
