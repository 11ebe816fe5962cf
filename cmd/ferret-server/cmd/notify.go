package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ferretbind/internal/ingest"
)

func newNotifyCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify <add|remove> <model> <id>...",
		Short: "Publish record change events to the ingest topic",
		Long: `Publish change events that a running server with ingest enabled
applies to its indexes. "add" re-reads the records from the data store;
"remove" drops them from the index.`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Ingest.Enabled() {
				return fmt.Errorf("ingest is not configured: set ingest.brokers and ingest.topic")
			}

			events := make([]ingest.Event, 0, len(args)-2)
			for _, id := range args[2:] {
				events = append(events, ingest.Event{Action: ingest.Action(args[0]), Model: args[1], ID: id})
			}

			pub := ingest.NewPublisher(ingest.NewKafkaWriter(ingestConfig(cfg)))
			defer func() { _ = pub.Close() }()
			if err := pub.Publish(cmd.Context(), events...); err != nil {
				return err
			}
			newPrinter(cmd.OutOrStdout()).Success("Published %d %s event(s) for %s", len(events), args[0], args[1])
			return nil
		},
	}
	return cmd
}
