package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Iron-Ham/odooctl/internal/api"
	"github.com/Iron-Ham/odooctl/internal/credentials"
	"github.com/Iron-Ham/odooctl/internal/fakeapi"
	"github.com/Iron-Ham/odooctl/internal/history"
	"github.com/Iron-Ham/odooctl/internal/poller"
	"github.com/Iron-Ham/odooctl/internal/store"
	"github.com/Iron-Ham/odooctl/internal/task"
	"github.com/Iron-Ham/odooctl/internal/tracker"
)

type fixture struct {
	backend *fakeapi.Server
	client  *api.Client
	history *history.History
	server  *Server
}

func newFixture(t *testing.T, loggedIn bool) *fixture {
	t.Helper()
	backend := fakeapi.New(fakeapi.WithUser("ops@example.com", "secret"))
	baseURL, stop := backend.Start()
	t.Cleanup(stop)

	session, err := credentials.NewSession(credentials.NewMemoryStore())
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	client, err := api.New(baseURL, session)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if loggedIn {
		if _, err := client.Login(context.Background(), api.Credentials{Email: "ops@example.com", Password: "secret"}); err != nil {
			t.Fatalf("login: %v", err)
		}
	}

	db, err := store.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	hist := history.New(db)

	tr := tracker.New(client, nil,
		tracker.WithHistory(hist),
		tracker.WithPollerOptions(poller.Options{
			InitialInterval: 5 * time.Millisecond,
			MaxInterval:     20 * time.Millisecond,
			Timeout:         5 * time.Second,
		}),
	)
	return &fixture{
		backend: backend,
		client:  client,
		history: hist,
		server:  New(client, tr, hist, nil, "test"),
	}
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil {
		t.Fatal("Expected a result, got nil")
	}
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func TestTrigger_ReturnsTaskID(t *testing.T) {
	f := newFixture(t, true)

	res, err := f.server.handleTrigger(context.Background(), call(map[string]any{
		"action":    "backup",
		"target_id": float64(3),
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if res.IsError {
		t.Fatalf("Expected success, got %q", resultText(t, res))
	}
	text := resultText(t, res)
	if !strings.Contains(text, "Task ID: ") {
		t.Fatalf("Expected task id in %q", text)
	}
	taskID := strings.TrimSpace(text[strings.Index(text, "Task ID: ")+len("Task ID: "):])
	rec, ok := f.backend.Task(taskID)
	if !ok {
		t.Fatalf("Expected backend to know task %q", taskID)
	}
	if rec.Type != task.KindRunBackup {
		t.Errorf("Expected run_backup, got %s", rec.Type)
	}
}

func TestTrigger_Wait(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		f := newFixture(t, true)
		f.backend.ScriptNext(fakeapi.Succeeds(map[string]any{"message": "Instance restarted"})...)

		res, _ := f.server.handleTrigger(context.Background(), call(map[string]any{
			"action":    "restart",
			"target_id": float64(5),
			"wait":      true,
		}))
		text := resultText(t, res)
		if res.IsError {
			t.Fatalf("Expected success, got %q", text)
		}
		for _, want := range []string{"Status: success", "Result: Instance restarted", "Instance restart"} {
			if !strings.Contains(text, want) {
				t.Errorf("Expected %q in %q", want, text)
			}
		}

		entries, err := f.history.List(context.Background(), history.Filter{})
		if err != nil || len(entries) != 1 {
			t.Fatalf("Expected one history entry, got %d (%v)", len(entries), err)
		}
		if entries[0].Outcome != history.OutcomeSucceeded {
			t.Errorf("Expected succeeded history, got %s", entries[0].Outcome)
		}
	})

	t.Run("task failed", func(t *testing.T) {
		f := newFixture(t, true)
		f.backend.ScriptNext(fakeapi.Fails("Port 8069 already in use")...)

		res, _ := f.server.handleTrigger(context.Background(), call(map[string]any{
			"action":    "start",
			"target_id": float64(5),
			"wait":      true,
		}))
		if !res.IsError {
			t.Fatal("Expected error result for failed task")
		}
		text := resultText(t, res)
		if !strings.Contains(text, "Status: failed") || !strings.Contains(text, "Port 8069 already in use") {
			t.Errorf("Expected failure summary, got %q", text)
		}
	})
}

func TestTrigger_RejectsBadInput(t *testing.T) {
	f := newFixture(t, true)
	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"unknown action", map[string]any{"action": "reboot", "target_id": float64(1)}, "unknown action"},
		{"missing target", map[string]any{"action": "backup"}, "target_id"},
		{"negative target", map[string]any{"action": "backup", "target_id": float64(-2)}, "target_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.server.handleTrigger(context.Background(), call(tt.args))
			if err != nil {
				t.Fatalf("handler error: %v", err)
			}
			if !res.IsError {
				t.Fatal("Expected error result")
			}
			if text := resultText(t, res); !strings.Contains(text, tt.want) {
				t.Errorf("Expected %q in %q", tt.want, text)
			}
		})
	}
	if got := f.backend.Requests("POST /instances/{instanceID}/backup-now"); got != 0 {
		t.Errorf("Expected no trigger requests, got %d", got)
	}
}

func TestTrigger_NotLoggedIn(t *testing.T) {
	f := newFixture(t, false)
	res, _ := f.server.handleTrigger(context.Background(), call(map[string]any{
		"action":    "backup",
		"target_id": float64(1),
	}))
	if !res.IsError {
		t.Fatal("Expected error result without credentials")
	}
}

func TestTaskStatusAndWait(t *testing.T) {
	f := newFixture(t, true)
	f.backend.ScriptNext(fakeapi.Succeeds(map[string]any{"message": "Backup created", "file": "db.zip"})...)
	trig, err := f.client.BackupNow(context.Background(), 9)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}

	res, _ := f.server.handleTaskStatus(context.Background(), call(map[string]any{"task_id": trig.TaskID}))
	if text := resultText(t, res); !strings.Contains(text, "Status: pending") {
		t.Errorf("Expected first lookup to be pending, got %q", text)
	}

	res, _ = f.server.handleWaitTask(context.Background(), call(map[string]any{"task_id": trig.TaskID}))
	text := resultText(t, res)
	if res.IsError {
		t.Fatalf("Expected success, got %q", text)
	}
	if !strings.Contains(text, "Status: success") || !strings.Contains(text, "file: db.zip") {
		t.Errorf("Expected success with details, got %q", text)
	}

	res, _ = f.server.handleTaskStatus(context.Background(), call(map[string]any{}))
	if !res.IsError {
		t.Error("Expected error result without task_id")
	}
}

func TestWhoAmI(t *testing.T) {
	f := newFixture(t, true)
	res, _ := f.server.handleWhoAmI(context.Background(), call(nil))
	if text := resultText(t, res); !strings.Contains(text, "ops@example.com") || !strings.Contains(text, "active") {
		t.Errorf("Expected account in %q", text)
	}

	anon := newFixture(t, false)
	res, _ = anon.server.handleWhoAmI(context.Background(), call(nil))
	if !res.IsError {
		t.Error("Expected error result when logged out")
	}
}

func TestHistoryTool(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	res, _ := f.server.handleHistory(ctx, call(nil))
	if text := resultText(t, res); text != "No tracked tasks." {
		t.Errorf("Expected empty history, got %q", text)
	}

	f.backend.ScriptNext(fakeapi.Fails("disk full")...)
	_, _ = f.server.handleTrigger(ctx, call(map[string]any{"action": "backup", "target_id": float64(2), "wait": true}))
	_, _ = f.server.handleTrigger(ctx, call(map[string]any{"action": "restart", "target_id": float64(2), "wait": true}))

	res, _ = f.server.handleHistory(ctx, call(map[string]any{"outcome": "failed"}))
	text := resultText(t, res)
	if !strings.Contains(text, "disk full") || strings.Contains(text, "Instance restart") {
		t.Errorf("Expected only the failed backup, got %q", text)
	}
}

func TestBuild_ListsTools(t *testing.T) {
	tests := []struct {
		name     string
		history  bool
		expected []string
		absent   []string
	}{
		{"with history", true, []string{ToolTrigger, ToolTaskStatus, ToolWaitTask, ToolWhoAmI, ToolHistory}, nil},
		{"without history", false, []string{ToolTrigger, ToolWhoAmI}, []string{ToolHistory}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			srv := f.server
			if !tt.history {
				srv = New(f.client, srv.tracker, nil, nil, "test")
			}
			ms := srv.Build()

			reply := ms.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
			raw, err := json.Marshal(reply)
			if err != nil {
				t.Fatalf("marshal reply: %v", err)
			}
			for _, name := range tt.expected {
				if !strings.Contains(string(raw), `"`+name+`"`) {
					t.Errorf("Expected tool %s in %s", name, raw)
				}
			}
			for _, name := range tt.absent {
				if strings.Contains(string(raw), `"`+name+`"`) {
					t.Errorf("Did not expect tool %s", name)
				}
			}
		})
	}
}

func TestFormatTask(t *testing.T) {
	target := 4
	kind := "instance"
	result := `{"error": "Odoo failed to boot", "exit_code": 1}`
	start := task.Timestamp{Time: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	end := task.Timestamp{Time: start.Add(90 * time.Second)}
	tk := &task.Task{
		TaskID: "t-1", Type: task.KindDeployInstance, Status: task.StatusFailed,
		TargetID: &target, TargetType: &kind, Result: &result,
		StartedAt: &start, CompletedAt: &end,
	}
	got := FormatTask(tk)
	for _, want := range []string{
		"Task t-1",
		"Type: Instance deployment (deploy_instance)",
		"Target: instance #4",
		"Status: failed",
		"Duration: 1m30s",
		"Result: Odoo failed to boot",
		"exit_code: 1",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Expected %q in:\n%s", want, got)
		}
	}

	tk.Status = task.StatusRunning
	tk.CompletedAt = nil
	if got := FormatTask(tk); strings.Contains(got, "Result:") {
		t.Errorf("Expected no result while running, got:\n%s", got)
	}
}
