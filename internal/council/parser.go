package council

import (
	"encoding/json"
	"errors"
	"strings"
)

// errNoJSON is returned when the recovery ladder exhausts every rung
// without producing a parsable object.
var errNoJSON = errors.New("no parsable JSON object in model output")

// decodeModelJSON parses an LLM completion into a generic JSON object,
// tolerating the usual model misbehaviour. Recovery ladder:
//  1. strip markdown code fences
//  2. extract the largest balanced { ... } substring
//  3. strip control bytes below 0x20 except tab/newline/carriage-return
//
// Callers synthesise a fallback object when this still fails.
func decodeModelJSON(raw string) (map[string]interface{}, error) {
	content := strings.TrimSpace(raw)
	content = strings.ReplaceAll(content, "```json", "")
	content = strings.ReplaceAll(content, "```", "")
	content = strings.TrimSpace(content)

	if extracted := largestJSONObject(content); extracted != "" {
		content = extracted
	}

	content = stripControlBytes(content)

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(content), &obj); err != nil {
		return nil, errNoJSON
	}
	return obj, nil
}

// largestJSONObject returns the outermost balanced {...} substring, or
// "" when the text contains no brace pair. Braces inside JSON strings
// are skipped so reasoning text cannot unbalance the scan.
func largestJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}

	// Unbalanced output: fall back to first '{' through last '}'.
	if end := strings.LastIndexByte(s, '}'); end > start {
		return s[start : end+1]
	}
	return ""
}

// stripControlBytes removes bytes below 0x20 except \t, \n and \r,
// which frequently leak into model output and break encoding/json.
func stripControlBytes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x20 && c != '\t' && c != '\n' && c != '\r' {
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// jsonString pulls a string field from a decoded object, tolerating
// absence and non-string junk.
func jsonString(obj map[string]interface{}, key string) string {
	if v, ok := obj[key].(string); ok {
		return v
	}
	return ""
}

// jsonBool pulls a boolean field, accepting the string forms models
// sometimes emit.
func jsonBool(obj map[string]interface{}, key string) bool {
	switch v := obj[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	}
	return false
}

// jsonFloat pulls a numeric field, defaulting to zero.
func jsonFloat(obj map[string]interface{}, key string) float64 {
	if v, ok := obj[key].(float64); ok {
		return v
	}
	return 0
}

// jsonStringList pulls a list field, dropping non-string members.
func jsonStringList(obj map[string]interface{}, key string) []string {
	raw, ok := obj[key].([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
