// Package redact scrubs secrets from command text and metadata before they
// reach persistent journal sinks.
package redact

import (
	"strings"
)

// DefaultSecretKeys are metadata keys whose values are always masked.
var DefaultSecretKeys = []string{
	"password", "passwd", "secret", "token", "api_key", "apikey",
	"authorization", "credentials", "private_key", "access_key",
	"session_token", "cookie",
}

// Mask is the replacement for masked metadata values.
const Mask = "***"

// Text replaces every sensitive match in s with <<TYPE>>.
func Text(s string) string {
	matches := Scan(s)
	if len(matches) == 0 {
		return s
	}
	var b strings.Builder
	prev := 0
	for _, m := range matches {
		b.WriteString(s[prev:m.Start])
		b.WriteString("<<" + string(m.Type) + ">>")
		prev = m.End
	}
	b.WriteString(s[prev:])
	return b.String()
}

// MaskValue replaces a value with Mask. Numbers and bools are preserved.
func MaskValue(v any) any {
	switch v.(type) {
	case int, int64, float64, bool:
		return v
	case nil:
		return nil
	default:
		return Mask
	}
}

// Map returns a copy of data with secret keys masked and string values
// scrubbed with Text. Nested maps and slices are handled recursively. Key matching is
// case-insensitive; extraKeys extend DefaultSecretKeys.
func Map(data map[string]any, extraKeys ...string) map[string]any {
	if data == nil {
		return nil
	}
	keySet := make(map[string]bool, len(DefaultSecretKeys)+len(extraKeys))
	for _, k := range DefaultSecretKeys {
		keySet[k] = true
	}
	for _, k := range extraKeys {
		keySet[strings.ToLower(k)] = true
	}
	return redactMap(data, keySet)
}

func redactMap(data map[string]any, keys map[string]bool) map[string]any {
	result := make(map[string]any, len(data))
	for k, v := range data {
		if keys[strings.ToLower(k)] {
			result[k] = MaskValue(v)
			continue
		}
		result[k] = redactValue(v, keys)
	}
	return result
}

// redactValue scrubs strings and descends into maps and slices, which is
// the shape JSON-decoded metadata arrives in.
func redactValue(v any, keys map[string]bool) any {
	switch tv := v.(type) {
	case string:
		return Text(tv)
	case map[string]any:
		return redactMap(tv, keys)
	case []string:
		out := make([]string, len(tv))
		for i, s := range tv {
			out[i] = Text(s)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = redactValue(e, keys)
		}
		return out
	default:
		return v
	}
}
