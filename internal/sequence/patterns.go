package sequence

import "github.com/ppiankov/riskwatch/internal/model"

// Pattern is a known dangerous multi-step sequence.
type Pattern struct {
	Name                string               `json:"name"`
	Description         string               `json:"description"`
	Triggers            [][]model.ActionType `json:"triggers"`
	Keywords            []string             `json:"keywords"`
	Severity            model.RiskLevel      `json:"severity"`
	ConfidenceThreshold float64              `json:"confidence_threshold"`
	Recommendation      string               `json:"recommendation"`
}

// Pattern names.
const (
	PatternEscalation       = "escalation"
	PatternDataExfiltration = "data_exfiltration"
	PatternDestructiveChain = "destructive_chain"
	PatternBypassAttempt    = "bypass_attempt"
	PatternReconnaissance   = "reconnaissance"
	PatternPersistence      = "persistence"
)

type seq = []model.ActionType

const (
	read  = model.ActionIORead
	write = model.ActionIOWrite
	del   = model.ActionIODelete
	comp  = model.ActionCompute
	ext   = model.ActionExternalCall
	net   = model.ActionNetworkRequest
	state = model.ActionStateChange
	sys   = model.ActionSystemCommand
	priv  = model.ActionPrivilegeChange
)

// catalog is the built-in pattern registry. It is never modified after init;
// Catalog hands out copies.
var catalog = []Pattern{
	{
		Name:        PatternEscalation,
		Description: "Privilege escalation after probing the environment",
		Triggers: [][]model.ActionType{
			seq{read, priv},
			seq{sys, priv},
			seq{read, sys, priv},
		},
		Keywords:            []string{"sudo", "root", "admin", "privilege", "escalate", "chmod", "chown", "setuid"},
		Severity:            model.Critical,
		ConfidenceThreshold: 0.6,
		Recommendation:      "Suspend the session and review privilege changes",
	},
	{
		Name:        PatternDataExfiltration,
		Description: "Data read followed by outbound transfer",
		Triggers: [][]model.ActionType{
			seq{read, ext},
			seq{read, net},
			seq{read, comp, ext},
		},
		Keywords:            []string{"upload", "send", "export", "transfer", "post", "exfil", "curl", "scp"},
		Severity:            model.Critical,
		ConfidenceThreshold: 0.6,
		Recommendation:      "Block outbound transfers and audit accessed data",
	},
	{
		Name:        PatternDestructiveChain,
		Description: "Consecutive destructive operations",
		Triggers: [][]model.ActionType{
			seq{del, del},
			seq{write, del},
			seq{state, del},
		},
		Keywords:            []string{"delete", "remove", "drop", "truncate", "wipe", "destroy", "purge"},
		Severity:            model.Critical,
		ConfidenceThreshold: 0.6,
		Recommendation:      "Halt execution and verify backups before continuing",
	},
	{
		Name:        PatternBypassAttempt,
		Description: "State changes that disable safeguards before system commands",
		Triggers: [][]model.ActionType{
			seq{state, sys},
			seq{priv, state},
		},
		Keywords:            []string{"bypass", "disable", "override", "skip", "ignore", "suppress", "unset", "force"},
		Severity:            model.Critical,
		ConfidenceThreshold: 0.5,
		Recommendation:      "Re-enable safeguards and require manual approval",
	},
	{
		Name:        PatternReconnaissance,
		Description: "Repeated read-only probing of the environment",
		Triggers: [][]model.ActionType{
			seq{read, read, read},
			seq{sys, sys, read},
		},
		Keywords:            []string{"list", "scan", "enumerate", "whoami", "discover", "probe", "inventory", "netstat"},
		Severity:            model.Medium,
		ConfidenceThreshold: 0.5,
		Recommendation:      "Monitor the session for follow-up actions",
	},
	{
		Name:        PatternPersistence,
		Description: "Writes followed by scheduling or service registration",
		Triggers: [][]model.ActionType{
			seq{write, sys},
			seq{write, state, sys},
		},
		Keywords:            []string{"cron", "startup", "autostart", "systemd", "service", "bashrc", "schedule", "launchd"},
		Severity:            model.High,
		ConfidenceThreshold: 0.6,
		Recommendation:      "Inspect scheduled tasks and startup configuration",
	},
}

// Catalog returns a copy of the built-in patterns.
func Catalog() []Pattern {
	out := make([]Pattern, len(catalog))
	for i, p := range catalog {
		out[i] = p.clone()
	}
	return out
}

func (p Pattern) clone() Pattern {
	out := p
	out.Keywords = append([]string(nil), p.Keywords...)
	out.Triggers = make([][]model.ActionType, len(p.Triggers))
	for i, t := range p.Triggers {
		out.Triggers[i] = append([]model.ActionType(nil), t...)
	}
	return out
}
