package policy

import (
	"fmt"

	"github.com/ppiankov/riskwatch/internal/model"
)

// defaultClassifier serves the package-level helpers.
var defaultClassifier = NewClassifier(nil)

// ClassifyAction classifies an action with the built-in tables only.
func ClassifyAction(action model.Action) model.RiskProfile {
	return defaultClassifier.ClassifyAction(action)
}

// DefaultProfile returns the built-in starting profile for t.
func DefaultProfile(t model.ActionType) model.RiskProfile {
	return defaultClassifier.BaseProfile(t)
}

// AssessCommand assesses a command with the built-in tables only.
func AssessCommand(commandID, commandName string, actions []model.Action, ctx *model.AssessContext) *model.RiskAssessment {
	return defaultClassifier.AssessCommand(commandID, commandName, actions, ctx)
}

// AssessCommand classifies every action and folds the results into one
// deterministic, explainable assessment. An empty action list is not an
// error: it yields a LOW assessment with a final score of exactly zero.
func (c *Classifier) AssessCommand(commandID, commandName string, actions []model.Action, ctx *model.AssessContext) *model.RiskAssessment {
	if len(actions) == 0 {
		return &model.RiskAssessment{
			CommandID:   commandID,
			CommandName: commandName,
			Profile: model.RiskProfile{
				Level:       model.Low,
				Category:    "none",
				Description: "No actions to assess",
				Reversible:  true,
			},
			Factors:         []string{},
			Recommendations: []string{},
		}
	}

	profiles := make([]model.RiskProfile, len(actions))
	for i, a := range actions {
		profiles[i] = c.ClassifyAction(a)
	}

	worst := profiles[0]
	for _, p := range profiles[1:] {
		if p.Level.MoreSevereThan(worst.Level) {
			worst = p
		}
	}

	base := baseScore(profiles)
	contextScore := contextBonus(ctx)
	final := base + contextScore
	if final > maxScore {
		final = maxScore
	}

	return &model.RiskAssessment{
		CommandID:       commandID,
		CommandName:     commandName,
		Profile:         worst,
		BaseScore:       base,
		ContextScore:    contextScore,
		FinalScore:      final,
		Factors:         riskFactors(actions, profiles),
		Recommendations: recommendations(final, profiles),
	}
}

// baseScore takes the highest per-level score and adds 2 points for every
// action at HIGH or worse, capped at 10.
func baseScore(profiles []model.RiskProfile) int {
	score := 0
	severe := 0
	for _, p := range profiles {
		if s := p.Level.BaseScore(); s > score {
			score = s
		}
		if p.Level.AtLeast(model.High) {
			severe++
		}
	}
	bonus := 2 * severe
	if bonus > 10 {
		bonus = 10
	}
	score += bonus
	if score > maxScore {
		score = maxScore
	}
	return score
}

func contextBonus(ctx *model.AssessContext) int {
	if ctx == nil {
		return 0
	}
	bonus := 0
	if ctx.SensitiveResources {
		bonus += bonusSensitiveResources
	}
	if ctx.IsProduction() {
		bonus += bonusProduction
	}
	if ctx.AdminPrivilege {
		bonus += bonusAdminPrivilege
	}
	if ctx.ExternalConnection {
		bonus += bonusExternalConnection
	}
	return bonus
}

func riskFactors(actions []model.Action, profiles []model.RiskProfile) []string {
	factors := []string{}
	for i, p := range profiles {
		switch p.Level {
		case model.Critical:
			factors = appendUnique(factors, "critical: "+p.Description)
		case model.High:
			factors = appendUnique(factors, "high: "+p.Description)
		}
		for _, se := range p.SideEffects {
			factors = appendUnique(factors, "side_effect: "+se)
		}
		if !p.Reversible {
			factors = appendUnique(factors, "irreversible: "+actionLabel(actions[i]))
		}
	}
	return factors
}

func actionLabel(a model.Action) string {
	if a.Name != "" {
		return a.Name
	}
	return string(a.ActionType)
}

func recommendations(final int, profiles []model.RiskProfile) []string {
	recs := []string{}
	switch {
	case final >= scoreBlock:
		recs = append(recs, "Block execution: critical risk requires manual review")
	case final >= scoreConfirm:
		recs = append(recs, "Require explicit approval before execution")
	case final >= scoreReview:
		recs = append(recs, "Review the command parameters before execution")
	}

	irreversible, confirm := false, false
	for _, p := range profiles {
		irreversible = irreversible || !p.Reversible
		confirm = confirm || p.RequiresConfirmation
	}
	if irreversible {
		recs = append(recs, "Create a backup first: the operation cannot be undone")
	}
	if confirm {
		recs = append(recs, fmt.Sprintf("Obtain user confirmation before running %d action(s)", len(profiles)))
	}
	return recs
}
