package redact

import (
	"regexp"
	"sort"
	"strings"
)

// PatternType identifies the category of sensitive data.
type PatternType string

const (
	PatternCred   PatternType = "CRED"
	PatternBearer PatternType = "BEARER"
	PatternAWSKey PatternType = "AWS_KEY"
	PatternURL    PatternType = "URL_AUTH"
	PatternEmail  PatternType = "EMAIL"
)

// Match is a single occurrence of sensitive data in text.
type Match struct {
	Type  PatternType
	Value string
	Start int
	End   int
}

// Compiled patterns for sensitive data detection.
var (
	// Credentials: key=value pairs where key suggests a secret.
	credKVRe = regexp.MustCompile(`(?i)((?:password|passwd|secret|token|api_key|apikey|auth)[ \t]*[=:][ \t]*\S+)`)

	// Authorization header values.
	bearerRe = regexp.MustCompile(`(?i)\bbearer[ \t]+[a-z0-9._~+/=\-]{8,}`)

	// AWS access key ids.
	awsKeyRe = regexp.MustCompile(`\b(?:AKIA|ASIA)[A-Z0-9]{16}\b`)

	// user:password@ in URLs.
	urlAuthRe = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.\-]*://[^/\s:@]+:[^/\s@]+@`)

	// Email addresses.
	emailRe = regexp.MustCompile(`\b([a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,})\b`)
)

var rules = []struct {
	typ PatternType
	re  *regexp.Regexp
}{
	{PatternURL, urlAuthRe},
	{PatternBearer, bearerRe},
	{PatternCred, credKVRe},
	{PatternAWSKey, awsKeyRe},
	{PatternEmail, emailRe},
}

// Scan finds sensitive values in text and returns non-overlapping matches
// sorted by position. Earlier rules win overlaps.
func Scan(text string) []Match {
	var matches []Match
	for _, r := range rules {
		for _, loc := range r.re.FindAllStringIndex(text, -1) {
			value := strings.TrimRight(text[loc[0]:loc[1]], ".,;\"'`)}]")
			if value == "" {
				continue
			}
			m := Match{Type: r.typ, Value: value, Start: loc[0], End: loc[0] + len(value)}
			if overlaps(matches, m) {
				continue
			}
			matches = append(matches, m)
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Start < matches[j].Start
	})
	return matches
}

func overlaps(matches []Match, m Match) bool {
	for _, o := range matches {
		if m.Start < o.End && o.Start < m.End {
			return true
		}
	}
	return false
}
