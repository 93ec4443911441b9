package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/riskwatch/internal/audit"
	"github.com/ppiankov/riskwatch/internal/model"
)

var (
	logSession string
	logLevel   string
	logEvent   string
	logName    string
	logSince   time.Duration
	logLimit   int
	logFormat  string
	exportFmt  string
	logOut     string
)

func init() {
	rootCmd.AddCommand(logCmd)
	logCmd.AddCommand(logQueryCmd, logStatsCmd, logVerifyCmd, logExportCmd)

	for _, c := range []*cobra.Command{logQueryCmd, logStatsCmd, logExportCmd} {
		c.Flags().StringVar(&logSession, "session", "", "Only entries for this session")
		c.Flags().StringVar(&logLevel, "level", "", "Only entries at this risk level")
		c.Flags().StringVar(&logEvent, "event", "", "Only entries of this event type")
		c.Flags().StringVar(&logName, "name", "", "Only commands whose name contains this text")
		c.Flags().DurationVar(&logSince, "since", 0, "Only entries newer than this (e.g. 1h)")
	}
	logQueryCmd.Flags().IntVarP(&logLimit, "limit", "n", 50, "Maximum entries to show (0 = all)")
	logQueryCmd.Flags().StringVarP(&logFormat, "format", "f", "text", "Output format (text|json)")
	logExportCmd.Flags().StringVarP(&exportFmt, "format", "f", audit.ExportJSONL, "Export format (json|jsonl|csv)")
	logExportCmd.Flags().StringVarP(&logOut, "out", "o", "", "Output file (required)")
	logExportCmd.MarkFlagRequired("out")
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Risk journal operations",
	Long: "Commands for inspecting journal sink files: the hash-chained JSONL\n" +
		"journal (riskwatch.jsonl) and the SQLite journal (riskwatch.db).",
}

var logQueryCmd = &cobra.Command{
	Use:   "query <path>",
	Short: "Show journal entries, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogQuery,
}

var logStatsCmd = &cobra.Command{
	Use:   "stats <path>",
	Short: "Summarize journal entries by level and event type",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogStats,
}

var logVerifyCmd = &cobra.Command{
	Use:   "verify <path>",
	Short: "Verify hash chain integrity of a JSONL journal",
	Long:  "Walks the JSONL journal and validates that every entry's prev_hash\nmatches the SHA-256 of the previous entry. Exits 0 if valid, 1 if tampered.",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogVerify,
}

var logExportCmd = &cobra.Command{
	Use:   "export <path>",
	Short: "Export journal entries as json, jsonl or csv",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogExport,
}

func logFilter(limit int) (audit.Filter, error) {
	f := audit.Filter{
		EventType:    audit.EventType(logEvent),
		SessionID:    logSession,
		NameContains: logName,
		Limit:        limit,
	}
	if logLevel != "" {
		var lvl model.RiskLevel
		if err := lvl.UnmarshalText([]byte(logLevel)); err != nil {
			return f, err
		}
		f.Level = &lvl
	}
	if logSince > 0 {
		f.From = time.Now().Add(-logSince)
	}
	return f, nil
}

// readEntries loads matching entries, newest first, from a SQLite journal
// (.db) or a JSONL journal (anything else).
func readEntries(ctx context.Context, path string, filter audit.Filter) ([]audit.Entry, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		db, err := audit.OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		return db.Query(ctx, filter)
	default:
		return audit.ReadLog(path, filter)
	}
}

func runLogQuery(cmd *cobra.Command, args []string) error {
	filter, err := logFilter(logLimit)
	if err != nil {
		return err
	}
	entries, err := readEntries(cmd.Context(), args[0], filter)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if logFormat == "json" {
		s, err := audit.FormatJSON(entries)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, s)
		return nil
	}
	fmt.Fprint(out, audit.FormatTimeline(entries))
	return nil
}

func runLogStats(cmd *cobra.Command, args []string) error {
	filter, err := logFilter(0)
	if err != nil {
		return err
	}
	entries, err := readEntries(cmd.Context(), args[0], filter)
	if err != nil {
		return err
	}
	stats := audit.Summarize(entries, time.Time{}, time.Time{})
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func runLogVerify(cmd *cobra.Command, args []string) error {
	result := audit.Verify(args[0])
	if result.Valid {
		fmt.Fprintf(cmd.OutOrStdout(), "OK: %d entries verified, tail %s\n", result.Lines, result.TailHash)
		return nil
	}
	fmt.Fprintf(os.Stderr, "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
	os.Exit(1)
	return nil
}

func runLogExport(cmd *cobra.Command, args []string) error {
	filter, err := logFilter(0)
	if err != nil {
		return err
	}
	entries, err := readEntries(cmd.Context(), args[0], filter)
	if err != nil {
		return err
	}
	slices.Reverse(entries)
	if err := audit.WriteEntries(logOut, exportFmt, entries); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d entries to %s\n", len(entries), logOut)
	return nil
}
