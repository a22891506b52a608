// Package jsonextract recovers JSON objects from LLM responses that may
// wrap them in markdown fences or surrounding prose.
package jsonextract

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// Stage identifies which step of the parse chain produced the result.
type Stage string

const (
	StageStrict Stage = "strict"
	StageFenced Stage = "fenced"
	StageBraces Stage = "braces"
	StageFailed Stage = "failed"
)

var (
	fenceJSON = regexp.MustCompile("```json\\s*")
	fenceAny  = regexp.MustCompile("```\\s*")
)

// ErrNoObject means no parseable JSON object was found at any stage.
var ErrNoObject = errors.New("no JSON object found in response")

// Object parses raw model output into a JSON object. The chain is
// strict parse, then fence-stripped, then the first balanced {...}
// substring of the stripped text. The succeeding stage is returned for
// observability.
func Object(raw string) (map[string]any, Stage, error) {
	trimmed := strings.TrimSpace(raw)

	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err == nil && obj != nil {
		return obj, StageStrict, nil
	}

	stripped := fenceJSON.ReplaceAllString(trimmed, "")
	stripped = fenceAny.ReplaceAllString(stripped, "")
	stripped = strings.TrimSpace(stripped)

	if stripped != trimmed {
		obj = nil
		if err := json.Unmarshal([]byte(stripped), &obj); err == nil && obj != nil {
			return obj, StageFenced, nil
		}
	}

	if candidate, ok := balanced(stripped); ok {
		obj = nil
		if err := json.Unmarshal([]byte(candidate), &obj); err == nil && obj != nil {
			return obj, StageBraces, nil
		}
	}

	return nil, StageFailed, ErrNoObject
}

// balanced returns the substring from the first '{' to its matching
// close brace, tracking string literals and escapes.
func balanced(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inStr := false
	esc := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// Snippet clips s to max characters for error reporting, never splitting
// a multi-byte rune.
func Snippet(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
