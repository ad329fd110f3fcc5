package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"github.com/Iron-Ham/odooctl/internal/errors"
	"github.com/Iron-Ham/odooctl/internal/task"
)

// DefaultLogTail is the number of log lines requested when none is given.
const DefaultLogTail = 200

// GetTask looks up a task by its queue id. It satisfies the poller's
// lookup contract.
func (c *Client) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	if taskID == "" {
		return nil, errors.NewValidationError("task id is required").WithField("task_id")
	}
	var t task.Task
	if err := c.Get(ctx, "/tasks/"+url.PathEscape(taskID), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) trigger(ctx context.Context, method, path string, query url.Values, body any) (*task.Trigger, error) {
	var tr task.Trigger
	if err := c.do(ctx, request{method: method, path: path, query: query, body: body}, &tr); err != nil {
		return nil, err
	}
	if tr.TaskID == "" {
		return nil, fmt.Errorf("%s %s: response carried no task id", method, path)
	}
	return &tr, nil
}

func idPath(format string, id int) string {
	return fmt.Sprintf(format, id)
}

// Servers

// TestConnection checks SSH reachability of a server.
func (c *Client) TestConnection(ctx context.Context, serverID int) (*task.Trigger, error) {
	return c.trigger(ctx, http.MethodPost, idPath("/servers/%d/test-connection", serverID), nil, nil)
}

// SystemInfo collects OS and resource facts from a server.
func (c *Client) SystemInfo(ctx context.Context, serverID int) (*task.Trigger, error) {
	return c.trigger(ctx, http.MethodPost, idPath("/servers/%d/system-info", serverID), nil, nil)
}

// InstallDeps installs Docker and friends on a server.
func (c *Client) InstallDeps(ctx context.Context, serverID int) (*task.Trigger, error) {
	return c.trigger(ctx, http.MethodPost, idPath("/servers/%d/install-deps", serverID), nil, nil)
}

// Instances

// InstanceCreate is the body for creating and deploying a new instance.
type InstanceCreate struct {
	Name        string            `json:"name" validate:"required,max=100"`
	OdooVersion string            `json:"odoo_version" validate:"required,max=10"`
	Edition     string            `json:"edition" validate:"omitempty,oneof=community enterprise"`
	HostPort    int               `json:"host_port" validate:"gte=1024,lte=65535"`
	OdooConfig  map[string]string `json:"odoo_config,omitempty"`
}

// CreateInstance creates an instance on a server and starts its first
// deployment.
func (c *Client) CreateInstance(ctx context.Context, serverID int, in InstanceCreate) (*task.Trigger, error) {
	if in.Edition == "" {
		in.Edition = "community"
	}
	if err := validate.Struct(in); err != nil {
		return nil, errors.NewValidationError(err.Error())
	}
	return c.trigger(ctx, http.MethodPost, idPath("/servers/%d/instances", serverID), nil, in)
}

// DeployInstance redeploys an existing instance.
func (c *Client) DeployInstance(ctx context.Context, instanceID int) (*task.Trigger, error) {
	return c.trigger(ctx, http.MethodPost, idPath("/instances/%d/deploy", instanceID), nil, nil)
}

// StartInstance starts an instance's containers.
func (c *Client) StartInstance(ctx context.Context, instanceID int) (*task.Trigger, error) {
	return c.trigger(ctx, http.MethodPost, idPath("/instances/%d/start", instanceID), nil, nil)
}

// StopInstance stops an instance's containers.
func (c *Client) StopInstance(ctx context.Context, instanceID int) (*task.Trigger, error) {
	return c.trigger(ctx, http.MethodPost, idPath("/instances/%d/stop", instanceID), nil, nil)
}

// RestartInstance restarts an instance's containers.
func (c *Client) RestartInstance(ctx context.Context, instanceID int) (*task.Trigger, error) {
	return c.trigger(ctx, http.MethodPost, idPath("/instances/%d/restart", instanceID), nil, nil)
}

// DestroyInstance removes an instance and its containers.
func (c *Client) DestroyInstance(ctx context.Context, instanceID int) (*task.Trigger, error) {
	return c.trigger(ctx, http.MethodDelete, idPath("/instances/%d", instanceID), nil, nil)
}

// InstanceLogs fetches the last tail lines of an instance's log. tail <= 0
// uses DefaultLogTail.
func (c *Client) InstanceLogs(ctx context.Context, instanceID, tail int) (*task.Trigger, error) {
	if tail <= 0 {
		tail = DefaultLogTail
	}
	q := url.Values{"tail": {strconv.Itoa(tail)}}
	return c.trigger(ctx, http.MethodGet, idPath("/instances/%d/logs", instanceID), q, nil)
}

// ReadInstanceConfig reads the instance's odoo.conf.
func (c *Client) ReadInstanceConfig(ctx context.Context, instanceID int) (*task.Trigger, error) {
	return c.trigger(ctx, http.MethodPost, idPath("/instances/%d/config/read", instanceID), nil, nil)
}

// ApplyInstanceConfig writes keys into odoo.conf and restarts the instance.
func (c *Client) ApplyInstanceConfig(ctx context.Context, instanceID int, updates map[string]string) (*task.Trigger, error) {
	if len(updates) == 0 {
		return nil, errors.NewValidationError("at least one config update is required").WithField("updates")
	}
	body := map[string]map[string]string{"updates": updates}
	return c.trigger(ctx, http.MethodPost, idPath("/instances/%d/config/apply", instanceID), nil, body)
}

// Backups

// BackupNow runs a backup of an instance immediately.
func (c *Client) BackupNow(ctx context.Context, instanceID int) (*task.Trigger, error) {
	return c.trigger(ctx, http.MethodPost, idPath("/instances/%d/backup-now", instanceID), nil, nil)
}

// RestoreBackup restores a successful backup record onto its instance.
func (c *Client) RestoreBackup(ctx context.Context, recordID int) (*task.Trigger, error) {
	return c.trigger(ctx, http.MethodPost, idPath("/backup-records/%d/restore", recordID), nil, nil)
}

// Domains

// CreateDomain attaches a domain to an instance and configures its proxy.
func (c *Client) CreateDomain(ctx context.Context, instanceID int, domainName string) (*task.Trigger, error) {
	if domainName == "" || len(domainName) > 255 {
		return nil, errors.NewValidationError("domain name must be 1-255 characters").WithField("domain_name")
	}
	body := map[string]string{"domain_name": domainName}
	return c.trigger(ctx, http.MethodPost, idPath("/instances/%d/domains", instanceID), nil, body)
}

// IssueSSL requests a certificate for a domain.
func (c *Client) IssueSSL(ctx context.Context, domainID int) (*task.Trigger, error) {
	return c.trigger(ctx, http.MethodPost, idPath("/domains/%d/issue-ssl", domainID), nil, nil)
}

// Git repos

// DeployGitRepo pulls a repository and installs its modules.
func (c *Client) DeployGitRepo(ctx context.Context, repoID int) (*task.Trigger, error) {
	return c.trigger(ctx, http.MethodPost, idPath("/git-repos/%d/deploy", repoID), nil, nil)
}

// Action names a trigger that needs only a target id. Actions are what the
// scheduler and the MCP server dispatch on.
type Action string

const (
	ActionTestConnection Action = "test-connection"
	ActionSystemInfo     Action = "system-info"
	ActionInstallDeps    Action = "install-deps"
	ActionDeploy         Action = "deploy"
	ActionStart          Action = "start"
	ActionStop           Action = "stop"
	ActionRestart        Action = "restart"
	ActionDestroy        Action = "destroy"
	ActionLogs           Action = "logs"
	ActionReadConfig     Action = "read-config"
	ActionBackup         Action = "backup"
	ActionRestore        Action = "restore"
	ActionIssueSSL       Action = "issue-ssl"
	ActionDeployModules  Action = "deploy-modules"
)

type actionFunc func(c *Client, ctx context.Context, id int) (*task.Trigger, error)

var actions = map[Action]struct {
	kind task.Kind
	run  actionFunc
}{
	ActionTestConnection: {task.KindTestConnection, (*Client).TestConnection},
	ActionSystemInfo:     {task.KindSystemInfo, (*Client).SystemInfo},
	ActionInstallDeps:    {task.KindInstallDeps, (*Client).InstallDeps},
	ActionDeploy:         {task.KindDeployInstance, (*Client).DeployInstance},
	ActionStart:          {task.KindStartInstance, (*Client).StartInstance},
	ActionStop:           {task.KindStopInstance, (*Client).StopInstance},
	ActionRestart:        {task.KindRestartInstance, (*Client).RestartInstance},
	ActionDestroy:        {task.KindDestroyInstance, (*Client).DestroyInstance},
	ActionLogs: {task.KindGetLogs, func(c *Client, ctx context.Context, id int) (*task.Trigger, error) {
		return c.InstanceLogs(ctx, id, DefaultLogTail)
	}},
	ActionReadConfig:    {task.KindReadConfig, (*Client).ReadInstanceConfig},
	ActionBackup:        {task.KindRunBackup, (*Client).BackupNow},
	ActionRestore:       {task.KindRestoreBackup, (*Client).RestoreBackup},
	ActionIssueSSL:      {task.KindIssueSSL, (*Client).IssueSSL},
	ActionDeployModules: {task.KindDeployModules, (*Client).DeployGitRepo},
}

// Actions returns every known action name, sorted.
func Actions() []Action {
	out := make([]Action, 0, len(actions))
	for a := range actions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsKnown reports whether a is a known action.
func (a Action) IsKnown() bool {
	_, ok := actions[a]
	return ok
}

// Kind returns the task kind the action creates.
func (a Action) Kind() task.Kind {
	return actions[a].kind
}

// Trigger runs action against target id.
func (c *Client) Trigger(ctx context.Context, action Action, id int) (*task.Trigger, error) {
	entry, ok := actions[action]
	if !ok {
		return nil, errors.NewValidationError(fmt.Sprintf("unknown action %q", action)).WithField("action")
	}
	if id <= 0 {
		return nil, errors.NewValidationError("target id must be positive").WithField("id")
	}
	return entry.run(c, ctx, id)
}
