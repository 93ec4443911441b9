package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// sqliteTime is fixed-width so stored timestamps compare lexically.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS risk_events (
	id           TEXT PRIMARY KEY,
	ts           TEXT NOT NULL,
	event_type   TEXT NOT NULL,
	risk_level   TEXT NOT NULL,
	risk_score   INTEGER NOT NULL,
	command_id   TEXT NOT NULL DEFAULT '',
	command_name TEXT NOT NULL DEFAULT '',
	session_id   TEXT NOT NULL DEFAULT '',
	user_id      TEXT NOT NULL DEFAULT '',
	message      TEXT NOT NULL DEFAULT '',
	entry_json   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_risk_events_ts ON risk_events(ts);
CREATE INDEX IF NOT EXISTS idx_risk_events_session ON risk_events(session_id, ts);
`

// SQLiteSink stores entries in a risk_events table for ad-hoc querying.
type SQLiteSink struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) a SQLite journal database.
func OpenSQLite(path string) (*SQLiteSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite: %w", err)
	}
	// Single writer connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: create schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Write(e Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO risk_events (id, ts, event_type, risk_level, risk_score, command_id, command_name, session_id, user_id, message, entry_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Timestamp.UTC().Format(sqliteTime), string(e.EventType), e.RiskLevel.String(), e.RiskScore,
		e.CommandID, e.CommandName, e.SessionID, e.UserID, e.Message, string(body))
	if err != nil {
		return fmt.Errorf("audit: insert entry: %w", err)
	}
	return nil
}

// Query returns stored entries matching filter, newest first.
func (s *SQLiteSink) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	var where []string
	var args []any
	if !filter.From.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, filter.From.UTC().Format(sqliteTime))
	}
	if !filter.To.IsZero() {
		where = append(where, "ts <= ?")
		args = append(args, filter.To.UTC().Format(sqliteTime))
	}
	if filter.Level != nil {
		where = append(where, "risk_level = ?")
		args = append(args, filter.Level.String())
	}
	if filter.EventType != "" {
		where = append(where, "event_type = ?")
		args = append(args, string(filter.EventType))
	}
	if filter.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.NameContains != "" {
		where = append(where, "instr(lower(command_name), lower(?)) > 0")
		args = append(args, filter.NameContains)
	}

	query := "SELECT entry_json FROM risk_events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts DESC, rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("audit: scan entry: %w", err)
		}
		var e Entry
		if err := json.Unmarshal([]byte(body), &e); err != nil {
			return nil, fmt.Errorf("audit: decode entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate entries: %w", err)
	}
	return out, nil
}

// Count returns the number of stored entries.
func (s *SQLiteSink) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM risk_events").Scan(&n); err != nil {
		return 0, fmt.Errorf("audit: count entries: %w", err)
	}
	return n, nil
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
