package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ferretbind/internal/index"
)

func newPruneCmd(flags *globalFlags) *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune [index...]",
		Short: "Remove old index versions",
		Long: `Remove superseded version directories of the given indexes, or of
every index when none are given. The newest --keep versions are kept.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if keep < 1 {
				return fmt.Errorf("--keep must be at least 1, got %d", keep)
			}
			p := newPrinter(cmd.OutOrStdout())

			names := args
			if len(names) == 0 {
				for _, ic := range cfg.Indexes {
					names = append(names, ic.Name)
				}
			}
			for _, name := range names {
				if _, ok := cfg.Index(name); !ok {
					return fmt.Errorf("unknown index %q", name)
				}
				removed, err := index.Prune(filepath.Join(cfg.IndexDir(), name), "", keep)
				if err != nil {
					return err
				}
				if len(removed) == 0 {
					p.Info("%s: nothing to prune", name)
					continue
				}
				p.Success("%s: removed %d old version(s)", name, len(removed))
				for _, dir := range removed {
					p.Info("%s", dir)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 2, "Versions to keep per index")
	return cmd
}
