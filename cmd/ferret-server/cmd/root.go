// Package cmd provides the CLI commands for ferret-server.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ferretbind/internal/config"
	ferrors "github.com/Aman-CERP/ferretbind/internal/errors"
	"github.com/Aman-CERP/ferretbind/internal/logging"
	"github.com/Aman-CERP/ferretbind/pkg/version"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	root        string
	environment string
	debug       bool
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "ferret-server",
		Short: "Full-text index server for database-backed models",
		Long: `ferret-server keeps full-text indexes of database tables and serves
searches over them, either in-process or to other processes over a
unix socket or TCP port.

Indexes and the models bound to them are declared per environment in
config/ferret_server.yml under --root.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("ferret-server version {{.Version}}\n")

	wd, _ := os.Getwd()
	cmd.PersistentFlags().StringVarP(&flags.root, "root", "r", wd, "Application root containing config/ferret_server.yml")
	cmd.PersistentFlags().StringVarP(&flags.environment, "environment", "e", "",
		"Configuration environment (default $"+config.EnvVar+" or "+config.DefaultEnvironment+")")
	cmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(newStartCmd(flags))
	cmd.AddCommand(newStopCmd(flags))
	cmd.AddCommand(newRunCmd(flags))
	cmd.AddCommand(newStatusCmd(flags))
	cmd.AddCommand(newRebuildCmd(flags))
	cmd.AddCommand(newSearchCmd(flags))
	cmd.AddCommand(newPruneCmd(flags))
	cmd.AddCommand(newMCPCmd(flags))
	cmd.AddCommand(newLogsCmd(flags))
	cmd.AddCommand(newNotifyCmd(flags))
	cmd.AddCommand(newConfigCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command and prints failures in CLI form.
func Execute() error {
	cmd := NewRootCmd()
	err := cmd.Execute()
	if err != nil {
		fmt.Fprint(cmd.ErrOrStderr(), ferrors.FormatForCLI(err))
	}
	return err
}

// loadConfig reads the selected environment's configuration.
func (f *globalFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(f.root, config.Environment(f.environment))
	if err != nil {
		return nil, err
	}
	if f.debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

// setupLogging installs the default logger. Server processes log to the
// configured file; interactive commands only log to stderr and only
// with --debug.
func (f *globalFlags) setupLogging(cfg *config.Config, toFile bool) (func(), error) {
	var lc logging.Config
	switch {
	case toFile:
		lc = logging.DefaultConfig(cfg.LogPath(), cfg.LogLevel)
		lc.WriteToStderr = f.debug
	case f.debug:
		lc = logging.Config{Level: "debug", WriteToStderr: true}
	default:
		lc = logging.Config{Level: "warn", WriteToStderr: true}
	}
	cleanup, err := logging.SetupDefault(lc)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	return cleanup, nil
}
