package cli

import (
	"fmt"

	"dominds/internal/config"
	"dominds/pkg/logger"

	"github.com/spf13/cobra"
)

// GlobalFlags holds flags set on the root command and inherited by every
// subcommand.
type GlobalFlags struct {
	ConfigPath string
	Verbose    bool
	Quiet      bool
}

var globalFlags GlobalFlags

// NewRootCmd builds the moted root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "moted",
		Short: "moted - multi-agent dialog orchestration runtime",
		Long: `moted runs the dialog orchestration core: the registry/driver loop,
special-call execution, event-sourced persistence, and the control and
streaming gateway.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logLevel := cfg.Log.Level
			if globalFlags.Verbose {
				logLevel = "debug"
			}
			if globalFlags.Quiet {
				logLevel = "error"
			}

			return logger.Init(logger.LogConfig{
				Level:  logLevel,
				Format: cfg.Log.Format,
				File:   cfg.Log.File,
			})
		},
	}

	rootCmd.PersistentFlags().StringVarP(&globalFlags.ConfigPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Quiet, "quiet", "q", false, "quiet mode")

	rootCmd.AddCommand(NewVersionCmd())
	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewDoctorCmd())

	return rootCmd
}

// loadConfig resolves the config path (flag override or default) and loads it.
func loadConfig() (*config.Config, error) {
	configPath := globalFlags.ConfigPath
	if configPath == "" {
		path, err := config.DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		configPath = path
	}
	return config.Load(configPath)
}
