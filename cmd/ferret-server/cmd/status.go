package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ferretbind/internal/config"
	"github.com/Aman-CERP/ferretbind/internal/daemon"
	"github.com/Aman-CERP/ferretbind/internal/ui"
)

func newStatusCmd(flags *globalFlags) *cobra.Command {
	var (
		jsonOutput bool
		noColor    bool
	)

	cmd := &cobra.Command{
		Use:   "status [model]",
		Short: "Show server and index status",
		Long: `Show whether the index server is running and the state of each index.

When the server is down, the configured indexes are listed as stopped.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			model := ""
			if len(args) == 1 {
				model = args[0]
			}

			st := offlineStatus(cfg)
			client := daemon.NewClient(daemonConfig(cfg))
			if client.IsRunning(cmd.Context()) {
				res, err := client.Status(cmd.Context(), model)
				if err != nil {
					return err
				}
				st = onlineStatus(st, res)
			}

			r := ui.NewStatusRenderer(cmd.OutOrStdout(), noColor || ui.DetectNoColor())
			if jsonOutput {
				return r.RenderJSON(st)
			}
			return r.Render(st)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colors")
	return cmd
}

// offlineStatus lists the configured indexes without contacting the server.
func offlineStatus(cfg *config.Config) ui.ServerStatus {
	st := ui.ServerStatus{Environment: cfg.Environment, Address: cfg.Address()}
	for _, ic := range cfg.Indexes {
		models := make([]string, 0, len(ic.Models))
		for _, m := range ic.Models {
			models = append(models, m.Name)
		}
		st.Indexes = append(st.Indexes, ui.IndexStatus{
			Name:   ic.Name,
			State:  "stopped",
			Models: models,
			Remote: remoteAddress(cfg, ic),
		})
	}
	return st
}

func onlineStatus(base ui.ServerStatus, res *daemon.StatusResult) ui.ServerStatus {
	st := ui.ServerStatus{
		Environment: base.Environment,
		Address:     base.Address,
		Running:     res.Running,
		PID:         res.PID,
		Version:     res.Version,
	}
	if d, err := time.ParseDuration(res.Uptime); err == nil {
		st.Uptime = d
	}
	for _, s := range res.Indexes {
		st.Indexes = append(st.Indexes, ui.IndexStatus{
			Name:     s.Name,
			State:    s.State,
			DocCount: s.DocCount,
			Dir:      s.Dir,
			Models:   s.Models,
			Remote:   s.Remote,
		})
	}
	return st
}
