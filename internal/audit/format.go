package audit

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ppiankov/riskwatch/internal/model"
)

const separator = "──────────────────────────────────────────────────────────────────────────"

// FormatTimeline renders entries as a human-readable text timeline, in the
// order given.
func FormatTimeline(entries []Entry) string {
	if len(entries) == 0 {
		return "No entries found.\n"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%-19s %-8s %-15s %-5s %-24s %s\n",
		"TIME", "LEVEL", "EVENT", "SCORE", "COMMAND", "SESSION"))
	b.WriteString(separator + "\n")

	counts := make(map[model.RiskLevel]int)
	for _, e := range entries {
		name := e.CommandName
		if e.EventType == EventSequenceAlert {
			name = "pattern:" + e.Pattern
		}
		b.WriteString(fmt.Sprintf("%-19s %-8s %-15s %-5d %-24s %s\n",
			e.Timestamp.UTC().Format("2006-01-02 15:04:05"),
			e.RiskLevel,
			truncate(string(e.EventType), 15),
			e.RiskScore,
			truncate(name, 24),
			e.SessionID))
		counts[e.RiskLevel]++
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(len(entries), counts))
	return b.String()
}

// FormatJSON renders entries as indented JSON.
func FormatJSON(entries []Entry) (string, error) {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal entries: %w", err)
	}
	return string(data), nil
}

func formatSummary(total int, counts map[model.RiskLevel]int) string {
	parts := []string{}
	for _, lvl := range model.AllLevels {
		if n := counts[lvl]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, strings.ToLower(lvl.String())))
		}
	}
	return fmt.Sprintf("Summary: %d entries | %s\n", total, strings.Join(parts, ", "))
}

// truncate shortens s to at most max runes, marking the cut with "...".
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
