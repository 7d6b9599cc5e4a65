package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// envPrefix lets every flag be set from the environment, e.g. REPO_BACKUP_LOG_LEVEL.
const envPrefix = "REPO_BACKUP"

type settings struct {
	LogLevel    string
	LogFormat   string
	Username    string
	Password    string
	Progress    bool
	MetricsFile string
}

// addGlobalFlags adds the tool settings to the root command.
func addGlobalFlags(cmd *cobra.Command) {
	cmd.Flags().String("log-level", "info", "Log level: trace|debug|info|warn|error")
	cmd.Flags().String("log-format", "text", "Log format: text|json")
	cmd.Flags().String("username", "", "Repository user (anonymous when empty)")
	cmd.Flags().String("password", "", "Repository password")
	cmd.Flags().Bool("progress", false, "Draw progress bars on stderr")
	cmd.Flags().String("metrics-file", "", "Write run metrics to this Prometheus textfile")
}

// loadSettings reads flags, falling back to REPO_BACKUP_* environment variables.
func loadSettings(cmd *cobra.Command) (settings, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return settings{}, err
	}
	return settings{
		LogLevel:    v.GetString("log-level"),
		LogFormat:   v.GetString("log-format"),
		Username:    v.GetString("username"),
		Password:    v.GetString("password"),
		Progress:    v.GetBool("progress"),
		MetricsFile: v.GetString("metrics-file"),
	}, nil
}
