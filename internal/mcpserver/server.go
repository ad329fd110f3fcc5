// Package mcpserver exposes odooctl operations as Model Context Protocol
// tools over stdio, so an assistant can trigger backend operations and
// follow their tasks.
package mcpserver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Iron-Ham/odooctl/internal/api"
	"github.com/Iron-Ham/odooctl/internal/history"
	"github.com/Iron-Ham/odooctl/internal/logging"
	"github.com/Iron-Ham/odooctl/internal/task"
	"github.com/Iron-Ham/odooctl/internal/tracker"
)

// Tool names.
const (
	ToolTrigger    = "odoo_trigger"
	ToolTaskStatus = "odoo_task_status"
	ToolWaitTask   = "odoo_wait_task"
	ToolWhoAmI     = "odoo_whoami"
	ToolHistory    = "odoo_history"
)

// Backend is the part of the API client the tools call.
type Backend interface {
	Trigger(ctx context.Context, action api.Action, id int) (*task.Trigger, error)
	GetTask(ctx context.Context, taskID string) (*task.Task, error)
	Me(ctx context.Context) (*api.User, error)
}

// Server holds the dependencies of the tool handlers.
type Server struct {
	backend Backend
	tracker *tracker.Tracker
	history *history.History
	logger  *logging.Logger
	version string
}

// New creates a Server. hist may be nil, in which case the history tool is
// not offered.
func New(backend Backend, tr *tracker.Tracker, hist *history.History, logger *logging.Logger, version string) *Server {
	return &Server{
		backend: backend,
		tracker: tr,
		history: hist,
		logger:  logging.OrNop(logger).WithComponent("mcp"),
		version: version,
	}
}

// Build returns an MCP server with every tool registered.
func (s *Server) Build() *server.MCPServer {
	ms := server.NewMCPServer(
		"odooctl",
		s.version,
		server.WithToolCapabilities(true),
	)
	s.registerTools(ms)
	return ms
}

// Run serves on stdio until the client disconnects.
func (s *Server) Run() error {
	s.logger.Info("MCP server starting on stdio")
	return server.ServeStdio(s.Build())
}

func actionNames() []string {
	actions := api.Actions()
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = string(a)
	}
	return names
}

func (s *Server) registerTools(ms *server.MCPServer) {
	ms.AddTool(mcp.NewTool(ToolTrigger,
		mcp.WithDescription("Start a backend operation (deploy, backup, restart, ...) against a server, instance, backup, domain or git repository. Returns the task id; with wait=true also waits for the task to finish."),
		mcp.WithString("action",
			mcp.Required(),
			mcp.Description("Operation to run"),
			mcp.Enum(actionNames()...),
		),
		mcp.WithNumber("target_id",
			mcp.Required(),
			mcp.Description("Id of the server, instance, backup record, domain or git repository the action applies to"),
			mcp.Min(1),
		),
		mcp.WithBoolean("wait",
			mcp.Description("Wait for the task to finish before returning (default false)"),
		),
	), s.handleTrigger)

	ms.AddTool(mcp.NewTool(ToolTaskStatus,
		mcp.WithDescription("Look up the current state of a task once, without waiting."),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task id returned by odoo_trigger"),
		),
	), s.handleTaskStatus)

	ms.AddTool(mcp.NewTool(ToolWaitTask,
		mcp.WithDescription("Poll a task until it succeeds, fails, or polling gives up, and report the outcome."),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task id returned by odoo_trigger"),
		),
	), s.handleWaitTask)

	ms.AddTool(mcp.NewTool(ToolWhoAmI,
		mcp.WithDescription("Show the account odooctl is logged in as."),
	), s.handleWhoAmI)

	count := 4
	if s.history != nil {
		ms.AddTool(mcp.NewTool(ToolHistory,
			mcp.WithDescription("List recently tracked tasks, newest first."),
			mcp.WithString("kind",
				mcp.Description("Only tasks of this task_type, e.g. run_backup"),
			),
			mcp.WithString("outcome",
				mcp.Description("Only tasks whose tracking ended this way"),
				mcp.Enum(historyOutcomes()...),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum entries to return, default 20"),
				mcp.Min(1),
				mcp.Max(200),
			),
		), s.handleHistory)
		count++
	}

	s.logger.Info("MCP tools registered", "count", count)
}

func historyOutcomes() []string {
	return []string{
		string(history.OutcomeTracking),
		string(history.OutcomeSucceeded),
		string(history.OutcomeFailed),
		string(history.OutcomeTimedOut),
		string(history.OutcomeExhausted),
		string(history.OutcomeCanceled),
		string(history.OutcomeSignedOut),
	}
}

func (s *Server) handleTrigger(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action := api.Action(mcp.ParseString(request, "action", ""))
	targetID := int(mcp.ParseFloat64(request, "target_id", 0))
	wait := mcp.ParseBoolean(request, "wait", false)

	if !action.IsKnown() {
		return mcp.NewToolResultError(fmt.Sprintf("unknown action %q; expected one of: %s", action, strings.Join(actionNames(), ", "))), nil
	}
	if targetID <= 0 {
		return mcp.NewToolResultError("target_id must be a positive integer"), nil
	}

	trig, err := s.backend.Trigger(ctx, action, targetID)
	if err != nil {
		s.logger.Warn("trigger failed", "action", string(action), "target_id", targetID, "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", action, err)), nil
	}
	s.logger.Info("task triggered", "action", string(action), "target_id", targetID, "task_id", trig.TaskID)

	if !wait {
		msg := trig.Message
		if msg == "" {
			msg = action.Kind().Label() + " queued"
		}
		return mcp.NewToolResultText(fmt.Sprintf("%s\nTask ID: %s", msg, trig.TaskID)), nil
	}

	out, err := s.tracker.Run(ctx, trig)
	return outcomeResult(out, err), nil
}

func (s *Server) handleTaskStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := strings.TrimSpace(mcp.ParseString(request, "task_id", ""))
	if taskID == "" {
		return mcp.NewToolResultError("task_id is required"), nil
	}
	tk, err := s.backend.GetTask(ctx, taskID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("lookup failed: %v", err)), nil
	}
	return mcp.NewToolResultText(FormatTask(tk)), nil
}

func (s *Server) handleWaitTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := strings.TrimSpace(mcp.ParseString(request, "task_id", ""))
	if taskID == "" {
		return mcp.NewToolResultError("task_id is required"), nil
	}
	out, err := s.tracker.Track(ctx, taskID)
	return outcomeResult(out, err), nil
}

func (s *Server) handleWhoAmI(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := s.backend.Me(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not logged in: %v", err)), nil
	}
	status := "active"
	if !user.IsActive {
		status = "inactive"
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s (id %d, %s)", user.Email, user.ID, status)), nil
}

func (s *Server) handleHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f := history.Filter{
		Kind:    task.Kind(mcp.ParseString(request, "kind", "")),
		Outcome: history.Outcome(mcp.ParseString(request, "outcome", "")),
		Limit:   int(mcp.ParseFloat64(request, "limit", history.DefaultListLimit)),
	}
	entries, err := s.history.List(ctx, f)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reading history failed: %v", err)), nil
	}
	if len(entries) == 0 {
		return mcp.NewToolResultText("No tracked tasks."), nil
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s  %-10s %s", e.StartedAt.Format("2006-01-02 15:04"), e.Outcome, e.TaskID)
		if e.Kind != "" {
			fmt.Fprintf(&b, "  %s", e.Kind.Label())
		}
		if e.Target != "" {
			fmt.Fprintf(&b, " for %s", e.Target)
		}
		if e.Summary != "" {
			fmt.Fprintf(&b, ": %s", e.Summary)
		}
		b.WriteByte('\n')
	}
	return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
}

// outcomeResult turns a tracking run into a tool result. A failed task is
// reported as an error result carrying the task's own summary.
func outcomeResult(out tracker.Outcome, err error) *mcp.CallToolResult {
	if out.Task() != nil && out.Task().Status.IsTerminal() {
		text := FormatTask(out.Task())
		if err != nil {
			return mcp.NewToolResultError(text)
		}
		return mcp.NewToolResultText(text)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("task %s: %v", out.TaskID, err))
	}
	return mcp.NewToolResultText(fmt.Sprintf("task %s: no outcome", out.TaskID))
}

// FormatTask renders a task for a tool result.
func FormatTask(tk *task.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s\n", tk.TaskID)
	fmt.Fprintf(&b, "Type: %s (%s)\n", tk.Type.Label(), tk.Type)
	if target := tk.Target(); target != "" {
		fmt.Fprintf(&b, "Target: %s\n", target)
	}
	fmt.Fprintf(&b, "Status: %s", tk.Status)
	if d := tk.Duration(); d > 0 {
		fmt.Fprintf(&b, "\nDuration: %s", d.Round(100*time.Millisecond))
	}
	if tk.Status.IsTerminal() {
		res := tk.ParsedResult()
		if summary := res.Summary(); summary != "" {
			fmt.Fprintf(&b, "\nResult: %s", summary)
		}
		for _, line := range res.Details() {
			fmt.Fprintf(&b, "\n  %s", line)
		}
	}
	return b.String()
}
