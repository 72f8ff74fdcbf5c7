package main

import (
	"fmt"
	"os"

	"github.com/marmos91/dittoecho/internal/logger"
	"github.com/marmos91/dittoecho/pkg/config"
	"github.com/spf13/cobra"
)

var (
	configFile string
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "dittoecho",
	Short: "Concurrent TCP echo daemon",
	Long: `DittoEcho accepts TCP connections and echoes back every byte it receives.

Connections are handed to workers according to a dispatch policy:

- per-connection-thread: one goroutine per connection
- pooled-affine: a fixed pool of goroutines pinned to CPUs, one queue each
- pooled-distributed: a fixed pool of goroutines sharing one queue

Use 'dittoecho help <command>' for more information on a specific command.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Configuration file (default: $XDG_CONFIG_HOME/dittoecho/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (TRACE, DEBUG, INFO, WARN, ERROR)")
}

// loadConfig loads the configuration and applies the persistent flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}

	return cfg, nil
}

// finishConfig re-applies defaults and validation after flag overrides and
// configures the logger.
func finishConfig(cfg *config.Config) error {
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
	if err := logger.SetOutput(cfg.Logging.Output); err != nil {
		return err
	}

	return nil
}
