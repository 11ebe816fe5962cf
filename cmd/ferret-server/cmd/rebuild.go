package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ferretbind/internal/index"
	"github.com/Aman-CERP/ferretbind/internal/ui"
)

func newRebuildCmd(flags *globalFlags) *cobra.Command {
	var (
		plain   bool
		noColor bool
	)

	cmd := &cobra.Command{
		Use:   "rebuild [model...]",
		Short: "Rebuild indexes from the data store",
		Long: `Rebuild the indexes of the given models, or every index when none
are given. Each index is built into a fresh version directory and
swapped in once complete, so searches keep working meanwhile.

Indexes marked remote are rebuilt by the running server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			cleanup, err := flags.setupLogging(cfg, false)
			if err != nil {
				return err
			}
			defer cleanup()

			renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
				ui.WithForcePlain(plain),
				ui.WithNoColor(noColor || ui.DetectNoColor()),
				ui.WithTitle(cfg.Environment),
			))
			progress := func(p index.Progress) {
				renderer.UpdateProgress(ui.ProgressEvent{Index: p.Index, Model: p.Model, Done: p.Done, Total: p.Total})
			}

			a, err := openApp(cmd.Context(), cfg, appOptions{progress: progress})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			names, err := rebuildTargets(a.registry, args)
			if err != nil {
				return err
			}

			if err := renderer.Start(cmd.Context()); err != nil {
				return err
			}
			summary := rebuildAll(cmd.Context(), a.registry, names, renderer)
			renderer.Complete(summary)
			if err := renderer.Stop(); err != nil {
				return err
			}
			if n := summary.Failed(); n > 0 {
				return fmt.Errorf("%d of %d indexes failed to rebuild", n, len(summary.Indexes))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "Plain progress output")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colors")
	return cmd
}

// rebuildTargets maps model names to their distinct index names, in
// registration order. No models means every index.
func rebuildTargets(reg *index.Registry, models []string) ([]string, error) {
	defs := reg.Definitions()
	if len(models) == 0 {
		names := make([]string, 0, len(defs))
		for _, def := range defs {
			names = append(names, def.Name)
		}
		return names, nil
	}

	want := make(map[string]bool)
	for _, m := range models {
		def, err := reg.DefinitionFor(m)
		if err != nil {
			return nil, err
		}
		want[def.Name] = true
	}
	var names []string
	for _, def := range defs {
		if want[def.Name] {
			names = append(names, def.Name)
		}
	}
	return names, nil
}

// rebuildAll rebuilds each index in turn. A failed index is reported and
// the remaining ones still run.
func rebuildAll(ctx context.Context, reg *index.Registry, names []string, r ui.Renderer) ui.Summary {
	start := time.Now()
	var summary ui.Summary
	for _, name := range names {
		r.BeginIndex(name)
		res := rebuildOne(ctx, reg, name)
		r.FinishIndex(res)
		summary.Indexes = append(summary.Indexes, res)
		if ctx.Err() != nil {
			break
		}
	}
	summary.Duration = time.Since(start)
	return summary
}

func rebuildOne(ctx context.Context, reg *index.Registry, name string) ui.IndexResult {
	start := time.Now()
	res := ui.IndexResult{Name: name}
	idx, err := reg.IndexNamed(name)
	if err == nil {
		res.Dir, err = idx.RebuildIndex(ctx, nil)
	}
	if err == nil {
		var st index.Status
		if st, err = idx.Status(ctx); err == nil {
			res.Docs = st.DocCount
		}
	}
	res.Err = err
	res.Duration = time.Since(start)
	return res
}
