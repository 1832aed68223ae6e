package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dominds/internal/app"
	"dominds/pkg/logger"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the moted gateway",
		Long: `Start the dialog orchestration runtime: the driver loop, the special-call
executor, and the control and streaming gateway.

The gateway listens on the configured host and port (default: localhost:18788).`,
		Example: `  # Start with default configuration
  moted serve

  # Start on a different port
  moted serve --port 8080

  # Start chdir'd into a workspace
  moted serve -C ./my-workspace`,
		RunE: runServe,
	}

	cmd.Flags().IntP("port", "p", 0, "port to listen on (overrides config)")
	cmd.Flags().StringP("host", "H", "", "host to bind to (overrides config)")
	cmd.Flags().StringP("chdir", "C", "", "change to this directory before resolving the workspace root")
	cmd.Flags().String("mode", "", "dev or prod (overrides config)")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	if chdir, _ := cmd.Flags().GetString("chdir"); chdir != "" {
		if err := os.Chdir(chdir); err != nil {
			return fmt.Errorf("chdir %s: %w", chdir, err)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Gateway.Port = port
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Gateway.Host = host
	}
	if mode, _ := cmd.Flags().GetString("mode"); mode != "" {
		cfg.Gateway.Mode = mode
	}
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "localhost"
	}

	a, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("assemble runtime: %w", err)
	}

	reconciled, err := a.Bootstrap()
	if err != nil {
		return fmt.Errorf("crash recovery bootstrap: %w", err)
	}
	if reconciled > 0 {
		logger.Info().Int("count", reconciled).Msg("cli: reconciled dialogs interrupted by a prior crash")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info().
		Str("address", fmt.Sprintf("http://%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)).
		Msg("cli: starting moted gateway")

	if err := a.Run(ctx); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	logger.Info().Msg("cli: moted gateway stopped")
	return nil
}
