package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ferretbind/internal/logging"
	"github.com/Aman-CERP/ferretbind/internal/mcp"
)

func newMCPCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve search tools over MCP on stdio",
		Long: `Run a Model Context Protocol server on stdin and stdout exposing the
configured indexes as search tools. Logs go to the configured log file
only, since stdout carries the protocol.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			cleanup, err := logging.SetupMCPMode(cfg.LogPath(), cfg.LogLevel)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, cfg, appOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			srv, err := mcp.NewServer(a.registry)
			if err != nil {
				return err
			}
			return srv.Serve(ctx)
		},
	}
}
