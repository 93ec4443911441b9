// Package policy classifies agent actions and commands into risk profiles
// and numeric scores. Classification is pure: the only state is the static
// rule tables below and an optional override table.
package policy

import "github.com/ppiankov/riskwatch/internal/model"

// baseProfiles maps each known action type to its starting profile.
var baseProfiles = map[model.ActionType]model.RiskProfile{
	model.ActionIORead: {
		Level:       model.Low,
		Category:    "data_access",
		Description: "Reads data from storage",
		Reversible:  true,
	},
	model.ActionIOWrite: {
		Level:       model.Medium,
		Category:    "data_modification",
		Description: "Writes data to storage",
		Reversible:  true,
		SideEffects: []string{model.EffectDataModification},
	},
	model.ActionIODelete: {
		Level:                model.High,
		Category:             "data_destruction",
		Description:          "Deletes data from storage",
		RequiresConfirmation: true,
		SideEffects:          []string{model.EffectDataModification},
	},
	model.ActionCompute: {
		Level:       model.Safe,
		Category:    "computation",
		Description: "Pure computation without side effects",
		Reversible:  true,
	},
	model.ActionExternalCall: {
		Level:                model.High,
		Category:             "external_communication",
		Description:          "Calls an external service",
		RequiresConfirmation: true,
		SideEffects:          []string{model.EffectExternalCommunication},
	},
	model.ActionNetworkRequest: {
		Level:       model.Medium,
		Category:    "network",
		Description: "Issues a network request",
		Reversible:  true,
		SideEffects: []string{model.EffectExternalCommunication},
	},
	model.ActionStateChange: {
		Level:       model.Medium,
		Category:    "state_modification",
		Description: "Changes runtime or application state",
		Reversible:  true,
		SideEffects: []string{model.EffectStateChange},
	},
	model.ActionSystemCommand: {
		Level:                model.High,
		Category:             "system_operation",
		Description:          "Executes a system command",
		RequiresConfirmation: true,
	},
	model.ActionPrivilegeChange: {
		Level:                model.High,
		Category:             "privilege_management",
		Description:          "Changes permissions or privileges",
		RequiresConfirmation: true,
	},
}

// criticalKeywords escalate any action to CRITICAL. Kept sorted so the
// reported keyword is deterministic.
var criticalKeywords = []string{
	"bypass security",
	"chmod 777",
	"delete all",
	"destroy",
	"disable authentication",
	"disable firewall",
	"disable security",
	"drop database",
	"drop table",
	"format disk",
	"mkfs",
	"privilege escalation",
	"rm -rf",
	"truncate table",
	"wipe",
}

// highRiskKeywords escalate to HIGH when the current level is less severe.
var highRiskKeywords = []string{
	"api key",
	"credential",
	"delete",
	"deploy",
	"execute",
	"install",
	"kill",
	"modify",
	"overwrite",
	"password",
	"permission",
	"remove",
	"restart",
	"secret",
	"send",
	"upload",
}

var criticalEffects = map[string]bool{
	model.EffectDataLoss:       true,
	model.EffectSystemCrash:    true,
	model.EffectSecurityBreach: true,
}

var highEffects = map[string]bool{
	model.EffectDataModification:      true,
	model.EffectStateChange:           true,
	model.EffectExternalCommunication: true,
}

// Context bonuses added to a command's base score.
const (
	bonusSensitiveResources = 15
	bonusProduction         = 20
	bonusAdminPrivilege     = 10
	bonusExternalConnection = 10
)

// Score bands used for recommendations.
const (
	scoreBlock   = 90
	scoreConfirm = 70
	scoreReview  = 40
	maxScore     = 100
)

// KnownActionTypes returns the action types with a built-in profile.
func KnownActionTypes() []model.ActionType {
	return []model.ActionType{
		model.ActionIORead,
		model.ActionIOWrite,
		model.ActionIODelete,
		model.ActionCompute,
		model.ActionExternalCall,
		model.ActionNetworkRequest,
		model.ActionStateChange,
		model.ActionSystemCommand,
		model.ActionPrivilegeChange,
	}
}
