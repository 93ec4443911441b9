package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/riskwatch/internal/model"
	"github.com/ppiankov/riskwatch/internal/monitor"
	"github.com/ppiankov/riskwatch/internal/policy"
	"github.com/ppiankov/riskwatch/internal/sequence"
)

var listFormat string

func init() {
	rootCmd.AddCommand(patternsCmd, profilesCmd)
	patternsCmd.Flags().StringVarP(&listFormat, "format", "f", "text", "Output format (text|json)")
	profilesCmd.Flags().StringVarP(&listFormat, "format", "f", "text", "Output format (text|json)")
}

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "List the dangerous sequence patterns",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog := sequence.Catalog()
		if listFormat == "json" {
			return printJSON(cmd.OutOrStdout(), catalog)
		}
		printPatterns(cmd.OutOrStdout(), catalog)
		return nil
	},
}

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List the effective risk profile per action type",
	Long:  "Shows the built-in profile of every action type with custom_risk_profiles\nfrom the config applied.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := monitor.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		c := policy.NewClassifier(cfg.RiskProfiles())
		var profiles []model.RiskProfile
		for _, t := range policy.KnownActionTypes() {
			profiles = append(profiles, c.BaseProfile(t))
		}
		if listFormat == "json" {
			return printJSON(cmd.OutOrStdout(), profiles)
		}
		printProfiles(cmd.OutOrStdout(), profiles, cfg)
		return nil
	},
}

func printPatterns(w io.Writer, catalog []sequence.Pattern) {
	fmt.Fprintf(w, "%-18s %-8s %-9s %s\n", "PATTERN", "SEVERITY", "THRESHOLD", "TRIGGERS")
	for _, p := range catalog {
		triggers := make([]string, len(p.Triggers))
		for i, t := range p.Triggers {
			names := make([]string, len(t))
			for j, a := range t {
				names[j] = string(a)
			}
			triggers[i] = strings.Join(names, ">")
		}
		fmt.Fprintf(w, "%-18s %-8s %-9.2f %s\n", p.Name, p.Severity, p.ConfidenceThreshold, strings.Join(triggers, ", "))
		fmt.Fprintf(w, "  %s. Keywords: %s\n", p.Description, strings.Join(p.Keywords, " "))
	}
}

func printProfiles(w io.Writer, profiles []model.RiskProfile, cfg *monitor.Config) {
	fmt.Fprintf(w, "%-17s %-8s %-20s %-10s %s\n", "ACTION TYPE", "LEVEL", "CATEGORY", "REVERSIBLE", "SIDE EFFECTS")
	for _, p := range profiles {
		mark := ""
		if _, ok := cfg.CustomRiskProfiles[p.ActionType]; ok {
			mark = " *"
		}
		fmt.Fprintf(w, "%-17s %-8s %-20s %-10t %s%s\n",
			p.ActionType, p.Level, p.Category, p.Reversible, strings.Join(p.SideEffects, ","), mark)
	}
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}
