package model

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// RiskLevel is an ordered severity. A lower ordinal is MORE severe:
// Critical < High < Medium < Low < Safe. Worst-of selection takes the
// minimum, and "at least as severe as" is ordinal <=.
type RiskLevel int

const (
	Critical RiskLevel = iota
	High
	Medium
	Low
	Safe
)

// AllLevels lists every level from most to least severe.
var AllLevels = []RiskLevel{Critical, High, Medium, Low, Safe}

func (l RiskLevel) String() string {
	switch l {
	case Critical:
		return "CRITICAL"
	case High:
		return "HIGH"
	case Medium:
		return "MEDIUM"
	case Low:
		return "LOW"
	case Safe:
		return "SAFE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(l))
	}
}

// Valid reports whether l is one of the defined levels.
func (l RiskLevel) Valid() bool {
	return l >= Critical && l <= Safe
}

// AtLeast reports whether l is at least as severe as threshold.
func (l RiskLevel) AtLeast(threshold RiskLevel) bool {
	return l <= threshold
}

// MoreSevereThan reports whether l is strictly more severe than other.
func (l RiskLevel) MoreSevereThan(other RiskLevel) bool {
	return l < other
}

// Worst returns the most severe of the given levels. An empty call returns Safe.
func Worst(levels ...RiskLevel) RiskLevel {
	worst := Safe
	for _, l := range levels {
		if l < worst {
			worst = l
		}
	}
	return worst
}

// ParseRiskLevel parses a case-insensitive level name.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRITICAL":
		return Critical, nil
	case "HIGH":
		return High, nil
	case "MEDIUM":
		return Medium, nil
	case "LOW":
		return Low, nil
	case "SAFE":
		return Safe, nil
	default:
		return Safe, fmt.Errorf("unknown risk level %q", s)
	}
}

// MarshalText encodes the level by name, so JSON and map keys stay readable.
func (l RiskLevel) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid risk level %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText decodes a level name.
func (l *RiskLevel) UnmarshalText(text []byte) error {
	parsed, err := ParseRiskLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// UnmarshalYAML decodes a level name from a YAML scalar.
func (l *RiskLevel) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return l.UnmarshalText([]byte(s))
}

// MarshalYAML encodes the level by name.
func (l RiskLevel) MarshalYAML() (any, error) {
	return l.String(), nil
}

// BaseScore is the fixed per-level contribution to a command's base score.
func (l RiskLevel) BaseScore() int {
	switch l {
	case Critical:
		return 90
	case High:
		return 70
	case Medium:
		return 40
	case Low:
		return 15
	default:
		return 0
	}
}
