package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/psantana5/fluentd-launcher/internal/config"
	"github.com/psantana5/fluentd-launcher/internal/launcher"
	"github.com/psantana5/fluentd-launcher/internal/logging"
)

// exitCode is set by the root command's Run
var exitCode int

// rootCmd represents the base command. It has no flags of its own: every
// argument, --help included, belongs to fluentd.
var rootCmd = &cobra.Command{
	Use:   "fluentd-launcher [fluentd args...]",
	Short: "Bootstrap launcher for the fluentd daemon",
	Long: `fluentd-launcher sets up the library search path, profiles its own memory
while fluentd runs, writes a memory report on exit and returns fluentd's
exit code. Configuration comes from FLUENTD_LAUNCHER_* environment variables
and the optional YAML file named by FLUENTD_LAUNCHER_CONFIG.`,
	Args:               cobra.ArbitraryArgs,
	DisableFlagParsing: true,
	SilenceUsage:       true,
	SilenceErrors:      true,
	Run:                runLauncher,
}

// Execute runs the root command and returns the process exit code
func Execute() int {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "fluentd-launcher: %v\n", err)
		return 1
	}
	return exitCode
}

func runLauncher(c *cobra.Command, args []string) {
	path := os.Getenv(config.ConfigEnv)
	cfg, cfgErr := config.Load(path)
	if cfg == nil {
		cfg = config.Default()
	}

	logger := newLogger(cfg)
	if cfgErr != nil {
		logger.Warn("Failed to load config, using defaults", map[string]interface{}{
			"path":  path,
			"error": cfgErr.Error(),
		})
	}

	exitCode = launcher.New(cfg, launcher.WithLogger(logger)).Run(c.Context(), args)
}

// newLogger logs to stderr, plus a file under /var/log when log_file is set
func newLogger(cfg *config.Config) *logging.Logger {
	level := logging.ParseLevel(cfg.LogLevel)
	if !cfg.LogFile {
		return logging.NewLogger(level, cfg.LogJSON)
	}

	logger, err := logging.NewFileLogger("fluentd-launcher", level, cfg.LogJSON)
	if err != nil {
		logger = logging.NewLogger(level, cfg.LogJSON)
		logger.Warn("Failed to open log file, logging to stderr only", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return logger
}
