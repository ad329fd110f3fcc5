package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleLog = `{"time":"2026-03-01T10:00:02Z","level":"INFO","msg":"lookup","component":"poller","task_id":"t1","status":"running"}
{"time":"2026-03-01T10:00:00Z","level":"DEBUG","msg":"request","component":"api","method":"POST"}
not json at all
{"time":"2026-03-01T10:00:05Z","level":"WARN","msg":"lookup failed","component":"poller","task_id":"t2"}

{"time":"2026-03-01T10:00:09Z","level":"ERROR","msg":"Task polling failed after 10 attempts","component":"poller","task_id":"t2"}
`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte(sampleLog), 0644); err != nil {
		t.Fatalf("failed to write sample log: %v", err)
	}
	return path
}

func TestReadEntries(t *testing.T) {
	entries, err := ReadEntries(writeSample(t))
	if err != nil {
		t.Fatalf("ReadEntries failed: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("Expected 4 entries (bad lines skipped), got %d", len(entries))
	}
	if entries[0].Message != "request" {
		t.Errorf("Expected entries sorted by time, first is %q", entries[0].Message)
	}
	if entries[1].TaskID != "t1" || entries[1].Component != "poller" {
		t.Errorf("Expected task and component extracted, got %+v", entries[1])
	}
	if entries[1].Attrs["status"] != "running" {
		t.Errorf("Expected extra attrs kept, got %v", entries[1].Attrs)
	}
	if _, ok := entries[1].Attrs["msg"]; ok {
		t.Error("standard fields should not be repeated in Attrs")
	}
}

func TestReadEntries_Missing(t *testing.T) {
	if _, err := ReadEntries(filepath.Join(t.TempDir(), "nope.log")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestQuery_Filter(t *testing.T) {
	entries, err := ReadEntries(writeSample(t))
	if err != nil {
		t.Fatalf("ReadEntries failed: %v", err)
	}
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		query Query
		want  int
	}{
		{"empty", Query{}, 4},
		{"level warn", Query{Level: "warn"}, 2},
		{"component", Query{Component: "api"}, 1},
		{"task", Query{TaskID: "t2"}, 2},
		{"task and level", Query{TaskID: "t2", Level: LevelError}, 1},
		{"since", Query{Since: base.Add(3 * time.Second)}, 2},
		{"until", Query{Until: base.Add(2 * time.Second)}, 2},
		{"message", Query{MessageContains: "lookup"}, 2},
		{"no match", Query{TaskID: "zzz"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.query.Filter(entries); len(got) != tt.want {
				t.Errorf("Expected %d entries, got %d", tt.want, len(got))
			}
		})
	}
}

func TestWriteEntries(t *testing.T) {
	entries, err := ReadEntries(writeSample(t))
	if err != nil {
		t.Fatalf("ReadEntries failed: %v", err)
	}

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteEntries(&buf, entries, "text"); err != nil {
			t.Fatalf("WriteEntries failed: %v", err)
		}
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 4 {
			t.Fatalf("Expected 4 lines, got %d", len(lines))
		}
		if !strings.Contains(lines[1], "poller - lookup (task=t1)") {
			t.Errorf("unexpected text line: %q", lines[1])
		}
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteEntries(&buf, nil, "json"); err != nil {
			t.Fatalf("WriteEntries failed: %v", err)
		}
		var decoded []Entry
		if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
			t.Fatalf("invalid JSON output: %v", err)
		}
		if len(decoded) != 0 {
			t.Errorf("Expected empty array, got %d", len(decoded))
		}
	})

	t.Run("unknown", func(t *testing.T) {
		if err := WriteEntries(&bytes.Buffer{}, entries, "csv"); err == nil {
			t.Error("Expected error for unsupported format")
		}
	})
}
