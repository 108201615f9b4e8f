package modelclient

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// RecoverJSON extracts a JSON object from model output. It tries a direct
// parse, then a fenced code block, then the widest balanced-brace span.
// Returns false when no object can be recovered.
func RecoverJSON(content string) (map[string]any, bool) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, false
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(content), &obj); err == nil {
		return obj, true
	}

	if m := fencedJSON.FindStringSubmatch(content); m != nil {
		if err := json.Unmarshal([]byte(m[1]), &obj); err == nil {
			return obj, true
		}
	}

	if span := balancedBraces(content); span != "" {
		if err := json.Unmarshal([]byte(span), &obj); err == nil {
			return obj, true
		}
	}
	return nil, false
}

// balancedBraces returns the first balanced top-level {...} span, tracking
// string literals so braces inside values do not confuse the depth count.
func balancedBraces(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
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
	return ""
}
