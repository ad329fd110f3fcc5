package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/odooctl/internal/api"
	"github.com/Iron-Ham/odooctl/internal/errors"
	"github.com/Iron-Ham/odooctl/internal/task"
	"github.com/Iron-Ham/odooctl/internal/tracker"
)

// triggerFunc enqueues one remote operation.
type triggerFunc func(ctx context.Context, client *api.Client) (*task.Trigger, error)

var triggerCmd = &cobra.Command{
	Use:   "trigger <action> <id>",
	Short: "Run any operation by action name",
	Long: `Run an operation by the same action names used in schedule jobs and by
the MCP server, then follow the task until it finishes.

Actions:
  ` + strings.Join(actionStrings(), ", "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		action := api.Action(args[0])
		if !action.IsKnown() {
			return errors.NewValidationError(fmt.Sprintf("unknown action %q (valid: %s)",
				args[0], strings.Join(actionStrings(), ", "))).WithField("action")
		}
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		return runTrigger(cmd, func(ctx context.Context, c *api.Client) (*task.Trigger, error) {
			return c.Trigger(ctx, action, id)
		})
	},
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Operate on managed servers",
}

var instanceCmd = &cobra.Command{
	Use:   "instance",
	Short: "Operate on Odoo instances",
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Operate on backup records",
}

var domainCmd = &cobra.Command{
	Use:   "domain",
	Short: "Operate on instance domains",
}

var gitRepoCmd = &cobra.Command{
	Use:   "gitrepo",
	Short: "Operate on git repositories of custom modules",
}

func init() {
	addWaitFlags(triggerCmd)
	rootCmd.AddCommand(triggerCmd)

	serverCmd.AddCommand(
		actionCmd("test-connection", api.ActionTestConnection, "server", "Check SSH reachability of a server"),
		actionCmd("system-info", api.ActionSystemInfo, "server", "Collect OS and resource facts from a server"),
		actionCmd("install-deps", api.ActionInstallDeps, "server", "Install Docker and dependencies on a server"),
	)

	instanceCmd.AddCommand(
		newInstanceCreateCmd(),
		actionCmd("deploy", api.ActionDeploy, "instance", "Redeploy an instance"),
		actionCmd("start", api.ActionStart, "instance", "Start an instance"),
		actionCmd("stop", api.ActionStop, "instance", "Stop an instance"),
		actionCmd("restart", api.ActionRestart, "instance", "Restart an instance"),
		newInstanceDestroyCmd(),
		newInstanceLogsCmd(),
		actionCmd("config-read", api.ActionReadConfig, "instance", "Show an instance's odoo.conf"),
		newInstanceConfigApplyCmd(),
		actionCmd("backup", api.ActionBackup, "instance", "Back up an instance now"),
	)

	backupCmd.AddCommand(
		actionCmd("restore", api.ActionRestore, "backup-record", "Restore a backup onto its instance"),
	)

	domainCmd.AddCommand(
		newDomainCreateCmd(),
		actionCmd("issue-ssl", api.ActionIssueSSL, "domain", "Request a TLS certificate for a domain"),
	)

	gitRepoCmd.AddCommand(
		actionCmd("deploy", api.ActionDeployModules, "repo", "Pull a repository and install its modules"),
	)

	rootCmd.AddCommand(serverCmd, instanceCmd, backupCmd, domainCmd, gitRepoCmd)
}

func actionStrings() []string {
	actions := api.Actions()
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = string(a)
	}
	return out
}

// actionCmd builds a command that runs action against one id argument.
func actionCmd(name string, action api.Action, idName, short string) *cobra.Command {
	c := &cobra.Command{
		Use:   fmt.Sprintf("%s <%s-id>", name, idName),
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return runTrigger(cmd, func(ctx context.Context, c *api.Client) (*task.Trigger, error) {
				return c.Trigger(ctx, action, id)
			})
		},
	}
	addWaitFlags(c)
	return c
}

func newInstanceCreateCmd() *cobra.Command {
	var in api.InstanceCreate
	var settings []string
	c := &cobra.Command{
		Use:   "create <server-id>",
		Short: "Create an instance on a server and deploy it",
		Example: `  odooctl instance create 3 --name shop --odoo-version 17.0 --port 8069
  odooctl instance create 3 --name erp --odoo-version 18.0 --edition enterprise --port 8070 --set workers=4`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serverID, err := parseID(args[0])
			if err != nil {
				return err
			}
			if len(settings) > 0 {
				if in.OdooConfig, err = parseSettings(settings); err != nil {
					return err
				}
			}
			return runTrigger(cmd, func(ctx context.Context, c *api.Client) (*task.Trigger, error) {
				return c.CreateInstance(ctx, serverID, in)
			})
		},
	}
	c.Flags().StringVar(&in.Name, "name", "", "instance name")
	c.Flags().StringVar(&in.OdooVersion, "odoo-version", "", "Odoo version, e.g. 17.0")
	c.Flags().StringVar(&in.Edition, "edition", "community", "community or enterprise")
	c.Flags().IntVar(&in.HostPort, "port", 8069, "host port the instance listens on")
	c.Flags().StringArrayVar(&settings, "set", nil, "odoo.conf option as key=value (repeatable)")
	_ = c.MarkFlagRequired("name")
	_ = c.MarkFlagRequired("odoo-version")
	addWaitFlags(c)
	return c
}

func newInstanceDestroyCmd() *cobra.Command {
	var yes bool
	c := &cobra.Command{
		Use:   "destroy <instance-id>",
		Short: "Remove an instance and its containers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if !yes {
				return fmt.Errorf("destroying instance %d removes its containers and data; pass --yes to confirm", id)
			}
			return runTrigger(cmd, func(ctx context.Context, c *api.Client) (*task.Trigger, error) {
				return c.DestroyInstance(ctx, id)
			})
		},
	}
	c.Flags().BoolVarP(&yes, "yes", "y", false, "confirm destruction")
	addWaitFlags(c)
	return c
}

func newInstanceLogsCmd() *cobra.Command {
	var tail int
	c := &cobra.Command{
		Use:   "logs <instance-id>",
		Short: "Fetch the last lines of an instance's log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return runTrigger(cmd, func(ctx context.Context, c *api.Client) (*task.Trigger, error) {
				return c.InstanceLogs(ctx, id, tail)
			})
		},
	}
	c.Flags().IntVarP(&tail, "tail", "n", api.DefaultLogTail, "number of lines to fetch")
	addWaitFlags(c)
	return c
}

func newInstanceConfigApplyCmd() *cobra.Command {
	c := &cobra.Command{
		Use:     "config-apply <instance-id> <key=value>...",
		Short:   "Write options into odoo.conf and restart the instance",
		Example: `  odooctl instance config-apply 7 workers=4 limit_time_cpu=120`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			updates, err := parseSettings(args[1:])
			if err != nil {
				return err
			}
			return runTrigger(cmd, func(ctx context.Context, c *api.Client) (*task.Trigger, error) {
				return c.ApplyInstanceConfig(ctx, id, updates)
			})
		},
	}
	addWaitFlags(c)
	return c
}

func newDomainCreateCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "create <instance-id> <domain-name>",
		Short: "Attach a domain to an instance and configure its proxy",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return runTrigger(cmd, func(ctx context.Context, c *api.Client) (*task.Trigger, error) {
				return c.CreateDomain(ctx, id, args[1])
			})
		},
	}
	addWaitFlags(c)
	return c
}

func addWaitFlags(c *cobra.Command) {
	c.Flags().Bool("no-wait", false, "print the task id and return without waiting")
	c.Flags().Bool("tui", false, "follow the task in the interactive dashboard")
	c.Flags().Bool("json", false, "print the finished task record as JSON")
}

// runTrigger enqueues an operation and, unless --no-wait is given, follows
// its task to the end.
func runTrigger(cmd *cobra.Command, fn triggerFunc) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	ctx := cmd.Context()
	trig, err := fn(ctx, rt.client)
	if err != nil {
		return rt.failed(err)
	}

	noWait, _ := cmd.Flags().GetBool("no-wait")
	useTUI, _ := cmd.Flags().GetBool("tui")
	asJSON, _ := cmd.Flags().GetBool("json")

	if noWait {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), trig.TaskID)
		return nil
	}
	if useTUI {
		return watchDashboard(cmd, rt, []string{trig.TaskID}, true)
	}

	stderr := cmd.ErrOrStderr()
	if rt.printing() {
		_, _ = fmt.Fprintf(stderr, "Task %s queued", trig.TaskID)
		if trig.Message != "" {
			_, _ = fmt.Fprintf(stderr, ": %s", trig.Message)
		}
		_, _ = fmt.Fprintln(stderr)
	}
	var progress []tracker.Option
	if rt.printing() {
		progress = append(progress, tracker.WithProgress(progressPrinter(stderr)))
	}
	out, err := rt.tracker(progress...).Run(ctx, trig)
	return rt.conclude(cmd.OutOrStdout(), out, err, asJSON)
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, errors.NewValidationError(fmt.Sprintf("invalid id %q: must be a positive integer", s)).WithField("id")
	}
	return id, nil
}

// parseSettings turns key=value arguments into a map.
func parseSettings(args []string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.NewValidationError(fmt.Sprintf("invalid setting %q: expected key=value", arg)).WithField("updates")
		}
		out[key] = value
	}
	return out, nil
}
