package task

import "strings"

// Kind is the backend's task_type.
type Kind string

const (
	KindTestConnection  Kind = "test_connection"
	KindSystemInfo      Kind = "get_system_info"
	KindInstallDeps     Kind = "install_deps"
	KindDeployInstance  Kind = "deploy_instance"
	KindStartInstance   Kind = "start_instance"
	KindStopInstance    Kind = "stop_instance"
	KindRestartInstance Kind = "restart_instance"
	KindDestroyInstance Kind = "destroy_instance"
	KindGetLogs         Kind = "get_logs"
	KindReadConfig      Kind = "read_config"
	KindApplyConfig     Kind = "apply_config"
	KindRunBackup       Kind = "run_backup"
	KindRestoreBackup   Kind = "restore_backup"
	KindSetupNginx      Kind = "setup_nginx"
	KindIssueSSL        Kind = "issue_ssl"
	KindDeployModules   Kind = "deploy_modules"
)

var kindLabels = map[Kind]string{
	KindTestConnection:  "Connection test",
	KindSystemInfo:      "System info",
	KindInstallDeps:     "Dependency installation",
	KindDeployInstance:  "Instance deployment",
	KindStartInstance:   "Instance start",
	KindStopInstance:    "Instance stop",
	KindRestartInstance: "Instance restart",
	KindDestroyInstance: "Instance destruction",
	KindGetLogs:         "Log fetch",
	KindReadConfig:      "Config read",
	KindApplyConfig:     "Config apply",
	KindRunBackup:       "Backup",
	KindRestoreBackup:   "Backup restore",
	KindSetupNginx:      "Domain setup",
	KindIssueSSL:        "SSL certificate issuance",
	KindDeployModules:   "Module deployment",
}

// Kinds returns every known kind in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindTestConnection, KindSystemInfo, KindInstallDeps,
		KindDeployInstance, KindStartInstance, KindStopInstance, KindRestartInstance, KindDestroyInstance,
		KindGetLogs, KindReadConfig, KindApplyConfig,
		KindRunBackup, KindRestoreBackup,
		KindSetupNginx, KindIssueSSL,
		KindDeployModules,
	}
}

// Label returns a human readable name. Unknown kinds are title-cased from
// their identifier so new backend task types still render sensibly.
func (k Kind) Label() string {
	if label, ok := kindLabels[k]; ok {
		return label
	}
	if k == "" {
		return "Task"
	}
	s := strings.ReplaceAll(string(k), "_", " ")
	return strings.ToUpper(s[:1]) + s[1:]
}

// IsKnown reports whether k is in the catalogue.
func (k Kind) IsKnown() bool {
	_, ok := kindLabels[k]
	return ok
}
