package fakeapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Iron-Ham/odooctl/internal/task"
)

// Step is one state a scripted task reports. Result is encoded as JSON into
// the task's result field; nil leaves it empty.
type Step struct {
	Status task.Status
	Result map[string]any
}

// Succeeds is the usual progression: pending, running, then success with
// result.
func Succeeds(result map[string]any) []Step {
	return []Step{
		{Status: task.StatusPending},
		{Status: task.StatusRunning},
		{Status: task.StatusSuccess, Result: result},
	}
}

// Fails progresses to failed with {"error": message} as the worker does.
func Fails(message string) []Step {
	return []Step{
		{Status: task.StatusPending},
		{Status: task.StatusRunning},
		{Status: task.StatusFailed, Result: map[string]any{"error": message}},
	}
}

// Forever never leaves running.
func Forever() []Step {
	return []Step{{Status: task.StatusPending}, {Status: task.StatusRunning}}
}

type fakeTask struct {
	record task.Task
	owner  int
	steps  []Step
	pos    int
}

// advance returns the record as of this lookup and moves to the next step.
// The last step repeats forever.
func (ft *fakeTask) advance(now time.Time) task.Task {
	step := ft.steps[ft.pos]
	if ft.pos < len(ft.steps)-1 {
		ft.pos++
	}

	rec := &ft.record
	if rec.Status != step.Status {
		rec.Status = step.Status
		if step.Status == task.StatusRunning || (step.Status.IsTerminal() && rec.StartedAt == nil) {
			ts := task.Timestamp{Time: now.UTC()}
			rec.StartedAt = &ts
		}
		if step.Status.IsTerminal() {
			ts := task.Timestamp{Time: now.UTC()}
			rec.CompletedAt = &ts
		}
	}
	if step.Result != nil {
		b, _ := json.Marshal(step.Result)
		s := string(b)
		rec.Result = &s
	}
	return *rec
}

// SetScript sets the progression for every later task of kind.
func (s *Server) SetScript(kind task.Kind, steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[string(kind)] = steps
}

// ScriptNext sets the progression of the next task created, whatever its
// kind. It wins over SetScript.
func (s *Server) ScriptNext(steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextScript = steps
}

// CreateTask enqueues a task visible to every user and returns its id.
func (s *Server) CreateTask(kind task.Kind, targetType string, targetID int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createTaskLocked(kind, targetType, targetID, 0)
}

func (s *Server) createTaskLocked(kind task.Kind, targetType string, targetID, owner int) string {
	steps := s.nextScript
	s.nextScript = nil
	if len(steps) == 0 {
		steps = s.scripts[string(kind)]
	}
	if len(steps) == 0 {
		steps = Succeeds(defaultResult(kind))
	}

	s.nextTaskID++
	id := uuid.NewString()
	tid := targetID
	ttype := targetType
	s.tasks[id] = &fakeTask{
		record: task.Task{
			ID:         s.nextTaskID,
			TaskID:     id,
			Type:       kind,
			TargetID:   &tid,
			TargetType: &ttype,
			Status:     task.StatusPending,
			CreatedAt:  task.Timestamp{Time: s.now().UTC()},
		},
		owner: owner,
		steps: steps,
	}
	return id
}

// Task returns the current record of id without advancing it.
func (s *Server) Task(id string) (task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ft, ok := s.tasks[id]
	if !ok {
		return task.Task{}, false
	}
	return ft.record, true
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	u := currentUser(r)

	s.mu.Lock()
	ft, ok := s.tasks[id]
	if !ok || (ft.owner != 0 && ft.owner != u.ID) {
		s.mu.Unlock()
		writeDetail(w, http.StatusNotFound, "Task not found")
		return
	}
	rec := ft.advance(s.now())
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, rec)
}

// trigger describes one endpoint that enqueues a task.
type trigger struct {
	method     string
	pattern    string
	param      string
	kind       task.Kind
	targetType string
	message    string
	created    bool
	// check validates the body; fields are returned as a 422.
	check func(r *http.Request) []fieldError
}

var triggers = []trigger{
	{http.MethodPost, "/servers/{serverID}/test-connection", "serverID", task.KindTestConnection, "server", "Connection test started", false, nil},
	{http.MethodPost, "/servers/{serverID}/system-info", "serverID", task.KindSystemInfo, "server", "System info fetch started", false, nil},
	{http.MethodPost, "/servers/{serverID}/install-deps", "serverID", task.KindInstallDeps, "server", "Dependency installation started", false, nil},
	{http.MethodPost, "/servers/{serverID}/instances", "serverID", task.KindDeployInstance, "instance", "Odoo instance deployment started", true, checkInstanceCreate},
	{http.MethodPost, "/instances/{instanceID}/deploy", "instanceID", task.KindDeployInstance, "instance", "Redeployment started", false, nil},
	{http.MethodPost, "/instances/{instanceID}/start", "instanceID", task.KindStartInstance, "instance", "Instance start initiated", false, nil},
	{http.MethodPost, "/instances/{instanceID}/stop", "instanceID", task.KindStopInstance, "instance", "Instance stop initiated", false, nil},
	{http.MethodPost, "/instances/{instanceID}/restart", "instanceID", task.KindRestartInstance, "instance", "Instance restart initiated", false, nil},
	{http.MethodDelete, "/instances/{instanceID}", "instanceID", task.KindDestroyInstance, "instance", "Instance destruction started", false, nil},
	{http.MethodGet, "/instances/{instanceID}/logs", "instanceID", task.KindGetLogs, "instance", "Log fetch started", false, nil},
	{http.MethodPost, "/instances/{instanceID}/config/read", "instanceID", task.KindReadConfig, "instance", "Config read started", false, nil},
	{http.MethodPost, "/instances/{instanceID}/config/apply", "instanceID", task.KindApplyConfig, "instance", "Config apply started", false, checkConfigApply},
	{http.MethodPost, "/instances/{instanceID}/backup-now", "instanceID", task.KindRunBackup, "instance", "Backup started", false, nil},
	{http.MethodPost, "/backup-records/{recordID}/restore", "recordID", task.KindRestoreBackup, "backup_record", "Backup restore started", false, nil},
	{http.MethodPost, "/instances/{instanceID}/domains", "instanceID", task.KindSetupNginx, "domain", "Domain setup started", true, checkDomainCreate},
	{http.MethodPost, "/domains/{domainID}/issue-ssl", "domainID", task.KindIssueSSL, "domain", "SSL certificate issuance started", false, nil},
	{http.MethodPost, "/git-repos/{repoID}/deploy", "repoID", task.KindDeployModules, "git_repo", "Module deployment started", false, nil},
}

func (s *Server) triggerHandler(t trigger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(chi.URLParam(r, t.param))
		if err != nil || id <= 0 {
			writeValidation(w, []fieldError{{
				Field:   "path -> " + t.param,
				Message: "Input should be a valid integer",
				Type:    "int_parsing",
			}})
			return
		}
		if t.check != nil {
			if fields := t.check(r); len(fields) > 0 {
				writeValidation(w, fields)
				return
			}
		}

		u := currentUser(r)
		s.mu.Lock()
		taskID := s.createTaskLocked(t.kind, t.targetType, id, u.ID)
		s.mu.Unlock()

		status := http.StatusOK
		if t.created {
			status = http.StatusCreated
		}
		writeJSON(w, status, task.Trigger{TaskID: taskID, Message: t.message})
	}
}

func checkConfigApply(r *http.Request) []fieldError {
	var body struct {
		Updates map[string]string `json:"updates"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Updates == nil {
		return []fieldError{{Field: "body -> updates", Message: "Field required", Type: "missing"}}
	}
	return nil
}

func checkDomainCreate(r *http.Request) []fieldError {
	var body struct {
		DomainName string `json:"domain_name" validate:"required,max=255"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || validate.Struct(body) != nil {
		return []fieldError{{Field: "body -> domain_name", Message: "Field required", Type: "missing"}}
	}
	return nil
}

func checkInstanceCreate(r *http.Request) []fieldError {
	var body struct {
		Name        string `json:"name" validate:"required,max=100"`
		OdooVersion string `json:"odoo_version" validate:"required,max=10"`
		Edition     string `json:"edition" validate:"omitempty,oneof=community enterprise"`
		HostPort    int    `json:"host_port" validate:"gte=1024,lte=65535"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return []fieldError{{Field: "body", Message: "Invalid JSON body", Type: "json_invalid"}}
	}
	if err := validate.Struct(body); err != nil {
		return []fieldError{{Field: "body", Message: err.Error(), Type: "value_error"}}
	}
	return nil
}

// defaultResult mirrors what the backend's workers store on success.
func defaultResult(kind task.Kind) map[string]any {
	switch kind {
	case task.KindTestConnection:
		return map[string]any{"status": "connected"}
	case task.KindSystemInfo:
		return map[string]any{"os": "Ubuntu 22.04.4 LTS", "cpu_cores": 4, "ram_total_mb": 7941, "disk_free_gb": 61}
	case task.KindInstallDeps:
		return map[string]any{"status": "success", "message": "Docker and dependencies installed"}
	case task.KindDeployInstance:
		return map[string]any{"status": "running", "container_name": "odoo-demo", "container_id": "3f4e5a6b7c8d", "url": "http://203.0.113.10:8069"}
	case task.KindStartInstance, task.KindRestartInstance:
		return map[string]any{"status": "running"}
	case task.KindStopInstance:
		return map[string]any{"status": "stopped"}
	case task.KindDestroyInstance:
		return map[string]any{"status": "destroyed"}
	case task.KindGetLogs:
		return map[string]any{"logs": "2026-01-01 00:00:00,000 1 INFO odoo: Odoo version 17.0\n2026-01-01 00:00:01,000 1 INFO odoo.service.server: HTTP service running on 0.0.0.0:8069"}
	case task.KindReadConfig:
		return map[string]any{"config": map[string]any{"workers": "2", "db_host": "db", "proxy_mode": "True"}}
	case task.KindApplyConfig:
		return map[string]any{"status": "applied", "keys_updated": 1}
	case task.KindRunBackup, task.KindRestoreBackup:
		return map[string]any{"status": "success", "message": "Backup completed"}
	case task.KindSetupNginx, task.KindIssueSSL:
		return map[string]any{"status": "active"}
	case task.KindDeployModules:
		return map[string]any{"status": "deployed", "commit": "a1b2c3d", "modules": []string{"sale_custom"}}
	}
	return map[string]any{"status": "success"}
}
