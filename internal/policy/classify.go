package policy

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ppiankov/riskwatch/internal/model"
)

// Classifier maps actions and commands to risk profiles. The zero value is
// not usable; call NewClassifier.
type Classifier struct {
	mu        sync.RWMutex
	overrides map[model.ActionType]model.RiskProfile
}

// NewClassifier creates a Classifier. Overrides replace the built-in profile
// for their action type; nil means built-ins only.
func NewClassifier(overrides map[model.ActionType]model.RiskProfile) *Classifier {
	c := &Classifier{}
	c.SetOverrides(overrides)
	return c
}

// SetOverrides atomically replaces the override table.
func (c *Classifier) SetOverrides(overrides map[model.ActionType]model.RiskProfile) {
	copied := make(map[model.ActionType]model.RiskProfile, len(overrides))
	for t, p := range overrides {
		p = p.Clone()
		p.ActionType = t
		copied[t] = p
	}
	c.mu.Lock()
	c.overrides = copied
	c.mu.Unlock()
}

// Overrides returns a copy of the current override table.
func (c *Classifier) Overrides() map[model.ActionType]model.RiskProfile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[model.ActionType]model.RiskProfile, len(c.overrides))
	for t, p := range c.overrides {
		out[t] = p.Clone()
	}
	return out
}

// BaseProfile returns the starting profile for an action type before any
// escalation. Unknown types resolve to MEDIUM.
func (c *Classifier) BaseProfile(t model.ActionType) model.RiskProfile {
	c.mu.RLock()
	p, ok := c.overrides[t]
	c.mu.RUnlock()
	if ok {
		return p.Clone()
	}
	if p, ok := baseProfiles[t]; ok {
		p = p.Clone()
		p.ActionType = t
		return p
	}
	return model.RiskProfile{
		Level:                model.Medium,
		Category:             "unknown",
		Description:          fmt.Sprintf("Unknown action type %q, classified as medium risk", string(t)),
		ActionType:           t,
		RequiresConfirmation: true,
		Reversible:           true,
	}
}

// ClassifyAction returns the risk profile of a single action.
// Keyword escalation runs before side-effect escalation, and each step
// works on the profile produced by the previous one.
func (c *Classifier) ClassifyAction(action model.Action) model.RiskProfile {
	profile := c.BaseProfile(action.ActionType)
	if action.Name != "" {
		profile.AffectedResources = appendUnique(profile.AffectedResources, action.Name)
	}
	profile.SideEffects = appendUnique(profile.SideEffects, action.SideEffects...)

	profile = escalateByKeywords(profile, action)
	profile = escalateBySideEffects(profile, action.SideEffects)
	return profile
}

func escalateByKeywords(p model.RiskProfile, action model.Action) model.RiskProfile {
	text := strings.ToLower(action.Name + " " + action.Description)

	for _, kw := range criticalKeywords {
		if strings.Contains(text, kw) {
			out := p.Clone()
			out.Level = model.Critical
			out.Description = fmt.Sprintf("%s [critical keyword: %s]", out.Description, kw)
			out.SideEffects = appendUnique(out.SideEffects, "critical_keyword:"+kw)
			out.RequiresConfirmation = true
			return out
		}
	}

	var matched []string
	for _, kw := range highRiskKeywords {
		if strings.Contains(text, kw) {
			matched = append(matched, kw)
		}
	}
	if len(matched) > 0 && p.Level > model.High {
		out := p.Clone()
		out.Level = model.High
		out.Description = fmt.Sprintf("%s [high-risk keywords: %s]", out.Description, strings.Join(matched, ", "))
		out.RequiresConfirmation = true
		return out
	}
	return p
}

func escalateBySideEffects(p model.RiskProfile, effects []string) model.RiskProfile {
	if crit := intersect(effects, criticalEffects); len(crit) > 0 {
		out := p.Clone()
		out.Level = model.Critical
		out.Description = fmt.Sprintf("%s [critical side effects: %s]", out.Description, strings.Join(crit, ", "))
		out.RequiresConfirmation = true
		out.Reversible = false
		return out
	}
	if high := intersect(effects, highEffects); len(high) > 0 && p.Level > model.High {
		out := p.Clone()
		out.Level = model.High
		out.Description = fmt.Sprintf("%s [side effects: %s]", out.Description, strings.Join(high, ", "))
		return out
	}
	return p
}

// intersect returns the sorted, distinct members of effects present in set.
func intersect(effects []string, set map[string]bool) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range effects {
		e = strings.ToLower(strings.TrimSpace(e))
		if set[e] && !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	sort.Strings(out)
	return out
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		if v == "" || containsStr(dst, v) {
			continue
		}
		dst = append(dst, v)
	}
	return dst
}

func containsStr(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
