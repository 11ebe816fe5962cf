package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ferretbind/internal/logging"
	"github.com/Aman-CERP/ferretbind/internal/ui"
)

func newLogsCmd(flags *globalFlags) *cobra.Command {
	var (
		lines   int
		follow  bool
		level   string
		grep    string
		file    string
		noColor bool
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show server logs",
		Long: `Show the index server's log, including rotated files.

Examples:
  ferret-server logs              # last 50 lines
  ferret-server logs -f           # follow new lines
  ferret-server logs --level warn # warnings and errors only
  ferret-server logs --grep rebuild`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			path, err := logging.FindLogFile(file, cfg.LogPath())
			if err != nil {
				return err
			}

			vc := logging.ViewerConfig{Level: level, NoColor: noColor || ui.DetectNoColor() || !ui.IsTTY(cmd.OutOrStdout())}
			if grep != "" {
				re, err := regexp.Compile(grep)
				if err != nil {
					return fmt.Errorf("invalid --grep pattern: %w", err)
				}
				vc.Pattern = re
			}
			viewer := logging.NewViewer(vc, cmd.OutOrStdout())

			entries, err := viewer.Tail(path, lines)
			if err != nil {
				return err
			}
			viewer.Print(entries)
			if !follow {
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			ch := make(chan logging.LogEntry, 64)
			errc := make(chan error, 1)
			go func() {
				errc <- viewer.Follow(ctx, path, ch)
				close(ch)
			}()
			for e := range ch {
				viewer.Print([]logging.LogEntry{e})
			}
			return <-errc
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow new log lines")
	cmd.Flags().StringVar(&level, "level", "", "Minimum level (debug, info, warn, error)")
	cmd.Flags().StringVar(&grep, "grep", "", "Only lines matching this regular expression")
	cmd.Flags().StringVar(&file, "file", "", "Log file (default from configuration)")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colors")
	return cmd
}
