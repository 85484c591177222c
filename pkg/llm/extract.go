package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ExtractJSON pulls the first JSON object out of a model response. Models
// wrap JSON in prose and code fences unpredictably, so strategies run in
// order until one parses:
//  1. the whole response is JSON
//  2. a fenced code block
//  3. balanced-brace extraction around an "intent" key
//  4. greedy parse from the first '{'
//
// preamble is any conversational text preceding the extracted object.
func ExtractJSON(response string) (obj map[string]any, preamble string, ok bool) {
	trimmed := strings.TrimSpace(response)

	if parsed := tryParse(trimmed); parsed != nil {
		return parsed, "", true
	}

	if m := fencedBlockRe.FindStringSubmatchIndex(response); m != nil {
		candidate := response[m[2]:m[3]]
		if parsed := tryParse(candidate); parsed != nil {
			return parsed, strings.TrimSpace(response[:m[0]]), true
		}
	}

	if idx := strings.Index(response, `"intent"`); idx >= 0 {
		start := strings.LastIndex(response[:idx], "{")
		if start >= 0 {
			if candidate := balancedObject(response[start:]); candidate != "" {
				if parsed := tryParse(candidate); parsed != nil {
					return parsed, strings.TrimSpace(response[:start]), true
				}
			}
		}
	}

	if start := strings.Index(response, "{"); start >= 0 {
		if candidate := balancedObject(response[start:]); candidate != "" {
			if parsed := tryParse(candidate); parsed != nil {
				return parsed, strings.TrimSpace(response[:start]), true
			}
		}
	}

	return nil, "", false
}

func tryParse(s string) map[string]any {
	if !strings.HasPrefix(s, "{") {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

// balancedObject returns the prefix of s spanning one brace-balanced JSON
// object, tracking strings and escapes so braces in values don't miscount.
func balancedObject(s string) string {
	depth := 0
	inString := false
	escaped := false
	for i, r := range s {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[:i+1]
				}
			}
		}
	}
	return ""
}
