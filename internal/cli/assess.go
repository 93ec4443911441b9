package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/riskwatch/internal/alert"
	"github.com/ppiankov/riskwatch/internal/model"
	"github.com/ppiankov/riskwatch/internal/monitor"
)

var (
	assessFormat      string
	assessAlerts      string
	assessWatch       bool
	assessFailOnBlock bool
)

func init() {
	rootCmd.AddCommand(assessCmd)
	assessCmd.Flags().StringVarP(&assessFormat, "format", "f", "text", "Output format (text|json)")
	assessCmd.Flags().StringVar(&assessAlerts, "alerts", "text", "Alert output on stderr (text|json|slack|pagerduty|none)")
	assessCmd.Flags().BoolVar(&assessWatch, "watch", false, "Reload custom risk profiles when the config file changes")
	assessCmd.Flags().BoolVar(&assessFailOnBlock, "fail-on-block", false, "Exit 1 if any command was blocked")
}

var assessCmd = &cobra.Command{
	Use:   "assess [file]",
	Short: "Check a stream of commands through the monitor",
	Long: "Reads JSON command objects (one after another, e.g. JSONL) from a file\n" +
		"or stdin and checks each through one monitor, so sequence patterns\n" +
		"are correlated across the stream. Prints one result per command.",
	Args: cobra.MaximumNArgs(1),
	RunE: runAssess,
}

func runAssess(cmd *cobra.Command, args []string) error {
	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	cfg, err := monitor.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger()
	engine, err := monitor.New(cfg, monitor.WithLogger(logger))
	if err != nil {
		return err
	}
	if am := engine.Alerts(); am != nil && assessAlerts != "none" {
		am.RegisterHandler(alert.WriterHandler(cmd.ErrOrStderr(), assessAlerts))
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if assessWatch {
		path := configPath
		if path == "" {
			path = monitor.DefaultConfigPath()
		}
		reloader, err := monitor.NewConfigReloader(engine, path)
		if err != nil {
			return err
		}
		go reloader.Run(ctx)
	}

	blocked, checkErr := assessStream(ctx, in, cmd.OutOrStdout(), engine)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.AlertShutdownTimeout+time.Second)
	defer cancelShutdown()
	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
	if checkErr != nil {
		return checkErr
	}

	if assessFormat != "json" {
		st := engine.Statistics()
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d commands checked, %d blocked, %d alerts sent, %d sequence alerts.\n",
			st.TotalChecked, st.Blocked, st.AlertsSent, st.SequenceAlerts)
	}
	if assessFailOnBlock && blocked > 0 {
		os.Exit(1)
	}
	return nil
}

// assessStream checks every command decoded from r and returns the number
// blocked. A cancelled ctx stops the stream with ctx.Err().
func assessStream(ctx context.Context, r io.Reader, w io.Writer, engine *monitor.Engine) (int, error) {
	dec := json.NewDecoder(r)
	blocked := 0
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return blocked, err
		}
		var in model.CommandInput
		if err := dec.Decode(&in); err != nil {
			if errors.Is(err, io.EOF) {
				return blocked, nil
			}
			return blocked, fmt.Errorf("decode command %d: %w", n, err)
		}
		if in.CommandID == "" {
			in.CommandID = fmt.Sprintf("cmd-%d", n)
		}

		res := engine.CheckCommand(in)
		if res.Blocked {
			blocked++
		}
		if err := writeResult(w, in, res); err != nil {
			return blocked, err
		}
	}
}

func writeResult(w io.Writer, in model.CommandInput, res *monitor.MonitorResult) error {
	if assessFormat == "json" {
		data, err := json.Marshal(res)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	verdict := "ALLOW"
	if res.Blocked {
		verdict = "BLOCK"
	}
	score := 0
	if res.RiskAssessment != nil {
		score = res.RiskAssessment.FinalScore
	}
	line := fmt.Sprintf("%-5s  %-12s %-8s score=%-3d %s", verdict, in.CommandID, res.Level(), score, in.CommandName)
	if res.Blocked {
		line += "  (" + res.BlockReason + ")"
	}
	for _, sa := range res.SequenceAlerts {
		line += fmt.Sprintf("\n       pattern %s confidence=%.2f", sa.Pattern, sa.Confidence)
	}
	_, err := fmt.Fprintln(w, strings.TrimRight(line, " "))
	return err
}
