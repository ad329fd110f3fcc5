package task

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// maxUnwrapDepth bounds how many times a string that itself holds JSON is
// re-parsed.
const maxUnwrapDepth = 3

// Result is a best-effort view of a task's result payload. Workers store a
// JSON object such as {"error": "..."} or {"status": "running", "url": ...},
// sometimes with the interesting value nested or double-encoded.
type Result struct {
	// Raw is the payload exactly as received.
	Raw string
	// Fields is the decoded top-level object, nil when Raw is not an object.
	Fields map[string]any
	// Error is the first error-like message found (error, detail).
	Error string
	// Message is a human message (message, or status when nothing else).
	Message string
	// Logs holds container output for log fetches.
	Logs string
}

// ParseResult decodes raw without ever failing: anything it cannot make
// sense of is left in Raw.
func ParseResult(raw string) Result {
	r := Result{Raw: raw}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return r
	}

	v, ok := decode(trimmed, 0)
	if !ok {
		return r
	}

	switch val := v.(type) {
	case map[string]any:
		r.Fields = val
		r.Error = findString(val, 0, "error", "detail")
		r.Message = findString(val, 0, "message")
		r.Logs = findString(val, 0, "logs")
		if r.Message == "" {
			if s, ok := val["status"].(string); ok {
				r.Message = s
			}
		}
	case string:
		r.Message = val
	}
	return r
}

// decode parses s as JSON, re-parsing string values that hold JSON.
func decode(s string, depth int) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	if str, ok := v.(string); ok && depth < maxUnwrapDepth {
		if inner, ok := decode(strings.TrimSpace(str), depth+1); ok {
			return inner, true
		}
	}
	return v, true
}

// findString looks for the first key whose value can be rendered as a
// message, descending into nested objects and JSON-holding strings.
func findString(m map[string]any, depth int, keys ...string) string {
	for _, key := range keys {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		if s := messageOf(v, depth, keys); s != "" {
			return s
		}
	}
	return ""
}

func messageOf(v any, depth int, keys []string) string {
	switch val := v.(type) {
	case string:
		if depth < maxUnwrapDepth {
			if inner, ok := decode(strings.TrimSpace(val), depth+1); ok {
				if m, isMap := inner.(map[string]any); isMap {
					if s := findString(m, depth+1, keys...); s != "" {
						return s
					}
				}
			}
		}
		return val
	case map[string]any:
		if depth >= maxUnwrapDepth {
			return ""
		}
		nested := append(keys[:len(keys):len(keys)], "message")
		if s := findString(val, depth+1, nested...); s != "" {
			return s
		}
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s := messageOf(item, depth+1, keys); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	case float64, bool:
		return fmt.Sprint(val)
	}
	return ""
}

// Failed reports whether the payload describes an error.
func (r Result) Failed() bool {
	return r.Error != ""
}

// Summary is a single line suitable for a notification: the error if any,
// else the message, else the raw payload.
func (r Result) Summary() string {
	switch {
	case r.Error != "":
		return r.Error
	case r.Message != "":
		return r.Message
	case r.Logs != "":
		return fmt.Sprintf("%d log lines", len(strings.Split(strings.TrimRight(r.Logs, "\n"), "\n")))
	}
	return strings.TrimSpace(r.Raw)
}

// Details returns the remaining top-level fields as sorted "key: value" lines,
// skipping the ones already surfaced by Summary or Logs.
func (r Result) Details() []string {
	if len(r.Fields) == 0 {
		return nil
	}
	skip := map[string]bool{"error": true, "detail": true, "message": true, "logs": true}
	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		if !skip[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		v := r.Fields[k]
		var s string
		switch val := v.(type) {
		case string:
			s = val
		case nil:
			s = "-"
		default:
			b, err := json.Marshal(val)
			if err != nil {
				s = fmt.Sprint(val)
			} else {
				s = string(b)
			}
		}
		lines = append(lines, k+": "+s)
	}
	return lines
}
