package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/ferretbind/internal/config"
)

func newConfigCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the server configuration file",
	}
	cmd.AddCommand(newConfigInitCmd(flags))
	cmd.AddCommand(newConfigShowCmd(flags))
	cmd.AddCommand(newConfigEnvsCmd(flags))
	cmd.AddCommand(newConfigRestoreCmd(flags))
	return cmd
}

func newConfigInitCmd(flags *globalFlags) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			backup, err := config.WriteTemplate(flags.root, force)
			if err != nil {
				return err
			}
			p := newPrinter(cmd.OutOrStdout())
			p.Success("Wrote %s", config.Path(flags.root))
			if backup != "" {
				p.Info("Previous configuration saved to %s", backup)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file, keeping a backup")
	return cmd
}

func newConfigShowCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration of the environment",
		Long: `Print the selected environment's configuration after defaults and
FERRET_* environment overrides are applied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer func() { _ = enc.Close() }()
			return enc.Encode(cfg)
		},
	}
}

func newConfigEnvsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "envs",
		Short: "List configured environments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			envs, err := config.Environments(flags.root)
			if err != nil {
				return err
			}
			current := config.Environment(flags.environment)
			for _, env := range envs {
				marker := " "
				if env == current {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, env)
			}
			return nil
		},
	}
}

func newConfigRestoreCmd(flags *globalFlags) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "restore [backup]",
		Short: "Restore a configuration backup",
		Long: `Restore the configuration file from a backup taken by 'config init
--force'. Without an argument the newest backup is restored.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backups, err := config.ListBackups(flags.root)
			if err != nil {
				return err
			}
			if list {
				for _, b := range backups {
					fmt.Fprintln(cmd.OutOrStdout(), b)
				}
				return nil
			}

			var path string
			switch {
			case len(args) == 1:
				path = args[0]
			case len(backups) > 0:
				path = backups[0]
			default:
				return fmt.Errorf("no configuration backups found")
			}
			if err := config.Restore(flags.root, path); err != nil {
				return err
			}
			newPrinter(cmd.OutOrStdout()).Success("Restored %s from %s", config.Path(flags.root), path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "List backups instead of restoring")
	return cmd
}
