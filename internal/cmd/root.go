package cmd

import (
	"context"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/odooctl/internal/config"
)

// Version is set at build time with -ldflags "-X .../internal/cmd.Version=...".
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "odooctl",
	Short: "Operate an Odoo ops backend from the terminal",
	Long: `odooctl drives an Odoo operations backend: provisioning servers, deploying
and restarting instances, taking backups and issuing certificates.

Every operation runs as a remote task. odooctl triggers it, follows the task
until it finishes and reports the result.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute(ctx context.Context) error {
	rootCmd.Version = Version
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/odooctl/config.yaml)")
	rootCmd.PersistentFlags().String("api", "", "backend base URL including /api/v1 (overrides api.base_url)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "do not print notifications to stderr")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "also write debug logs to stderr")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("api.base_url", rootCmd.PersistentFlags().Lookup("api"))
	_ = viper.BindPFlag("notifications.quiet", rootCmd.PersistentFlags().Lookup("quiet"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	// Values already in the environment win over .env files
	if files := config.DotenvFiles(); len(files) > 0 {
		_ = godotenv.Load(files...)
	}

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("ODOOCTL")
	// Replace dots with underscores for nested keys in env vars
	// e.g., ODOOCTL_API_BASE_URL for api.base_url
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
