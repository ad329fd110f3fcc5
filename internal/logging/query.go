package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"
)

// Entry is one parsed line of odooctl.log.
type Entry struct {
	Time      time.Time      `json:"time"`
	Level     string         `json:"level"`
	Message   string         `json:"msg"`
	Component string         `json:"component,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// Query selects entries. Zero-valued fields match everything and set fields
// are combined with AND.
type Query struct {
	// Level keeps entries at or above this level.
	Level           string
	Since           time.Time
	Until           time.Time
	Component       string
	TaskID          string
	MessageContains string
}

var levelRank = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ReadEntries parses every JSON line of the log file at path, skipping lines
// that do not parse, and returns them ordered by time.
func ReadEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no log file at %s: %w", path, err)
		}
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return parseEntries(f)
}

func parseEntries(r io.Reader) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var entries []Entry
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		e, err := ParseEntry(line)
		if err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading log file: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Time.Before(entries[j].Time)
	})
	return entries, nil
}

// ParseEntry decodes one JSON log line.
func ParseEntry(line string) (Entry, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Entry{}, fmt.Errorf("invalid JSON: %w", err)
	}

	str := func(key string) string {
		v, _ := raw[key].(string)
		delete(raw, key)
		return v
	}

	e := Entry{
		Level:     str("level"),
		Message:   str("msg"),
		Component: str("component"),
		TaskID:    str("task_id"),
	}
	if ts := str("time"); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.Time = t
		}
	}
	if len(raw) > 0 {
		e.Attrs = raw
	}
	return e, nil
}

// Match reports whether e satisfies every set field of q.
func (q Query) Match(e Entry) bool {
	if q.Level != "" {
		want, okWant := levelRank[strings.ToUpper(q.Level)]
		got, okGot := levelRank[e.Level]
		if okWant && okGot && got < want {
			return false
		}
	}
	if !q.Since.IsZero() && e.Time.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && e.Time.After(q.Until) {
		return false
	}
	if q.Component != "" && e.Component != q.Component {
		return false
	}
	if q.TaskID != "" && e.TaskID != q.TaskID {
		return false
	}
	if q.MessageContains != "" && !strings.Contains(e.Message, q.MessageContains) {
		return false
	}
	return true
}

// Filter returns the entries matching q, preserving order.
func (q Query) Filter(entries []Entry) []Entry {
	if q == (Query{}) {
		return entries
	}
	var out []Entry
	for _, e := range entries {
		if q.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

// WriteEntries renders entries to w as "text" (one line each) or "json".
func WriteEntries(w io.Writer, entries []Entry, format string) error {
	switch strings.ToLower(format) {
	case "", "text":
		for _, e := range entries {
			if _, err := io.WriteString(w, FormatEntry(e)+"\n"); err != nil {
				return fmt.Errorf("failed to write entry: %w", err)
			}
		}
		return nil
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if entries == nil {
			entries = []Entry{}
		}
		return enc.Encode(entries)
	default:
		return fmt.Errorf("unsupported format: %s (supported: text, json)", format)
	}
}

// FormatEntry renders e as "[time] LEVEL component - msg (task=...) {attrs}".
func FormatEntry(e Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %-5s", e.Time.Format("2006-01-02 15:04:05.000"), e.Level)
	if e.Component != "" {
		b.WriteString(" " + e.Component)
	}
	b.WriteString(" - " + e.Message)
	if e.TaskID != "" {
		fmt.Fprintf(&b, " (task=%s)", e.TaskID)
	}
	if len(e.Attrs) > 0 {
		if attrs, err := json.Marshal(e.Attrs); err == nil {
			b.WriteString(" " + string(attrs))
		}
	}
	return b.String()
}
