package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ferretbind/internal/index"
	"github.com/Aman-CERP/ferretbind/internal/ui"
)

const searchSnippetRunes = 80

type searchHit struct {
	Model  string            `json:"model"`
	ID     string            `json:"id"`
	Score  float64           `json:"score"`
	Fields map[string]string `json:"fields,omitempty"`
}

type searchResponse struct {
	Query string      `json:"query"`
	Total int         `json:"total"`
	Hits  []searchHit `json:"hits"`
}

func newSearchCmd(flags *globalFlags) *cobra.Command {
	var (
		models     []string
		limit      int
		offset     int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search one or more models",
		Long: `Search the indexes of one or more models with a query string.

Several models are searched together and ranked as one result list.
Without --models every configured model is searched.

Examples:
  ferret-server search 'title:rails' --models Article
  ferret-server search 'rails OR go' --models Article,Comment --limit 5`,
		Args: cobra.ExactArgs(1),
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

			a, err := openApp(cmd.Context(), cfg, appOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if len(models) == 0 {
				for _, def := range a.registry.Definitions() {
					models = append(models, def.Models()...)
				}
			}
			if len(models) == 0 {
				return fmt.Errorf("no models configured")
			}

			b, err := a.registry.Bind(models[0])
			if err != nil {
				return err
			}
			opts := index.SearchOptions{Offset: offset, Limit: limit}
			var res *index.Result
			if len(models) == 1 {
				res, err = b.FindByContents(cmd.Context(), args[0], opts)
			} else {
				res, err = b.MultiSearch(cmd.Context(), args[0], models[1:], opts)
			}
			if err != nil {
				return err
			}

			out := toSearchResponse(a.registry, args[0], res)
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			printSearch(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&models, "models", "m", nil, "Models to search (comma-separated)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum results")
	cmd.Flags().IntVar(&offset, "offset", 0, "Results to skip")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func toSearchResponse(reg *index.Registry, query string, res *index.Result) searchResponse {
	out := searchResponse{Query: query, Total: res.Total, Hits: make([]searchHit, 0, len(res.Records))}
	for i, rec := range res.Records {
		h := searchHit{Model: rec.ClassName(), ID: rec.ID()}
		if i < len(res.Scores) {
			h.Score = res.Scores[i]
		}
		if model, err := reg.Model(rec.ClassName()); err == nil {
			h.Fields = make(map[string]string)
			for _, fc := range model.Fields() {
				if v, err := rec.Value(fc.Name); err == nil && v != nil {
					h.Fields[fc.Name] = fmt.Sprint(v)
				}
			}
		}
		out.Hits = append(out.Hits, h)
	}
	return out
}

func printSearch(w io.Writer, res searchResponse) {
	styles := ui.GetStyles(ui.DetectNoColor() || !ui.IsTTY(w))
	if len(res.Hits) == 0 {
		fmt.Fprintf(w, "No matches for %q\n", res.Query)
		return
	}
	fmt.Fprintf(w, "%s\n\n", styles.Header.Render(fmt.Sprintf("%d of %d matches for %q", len(res.Hits), res.Total, res.Query)))
	for i, h := range res.Hits {
		fmt.Fprintf(w, "%2d. %s %s\n", i+1, styles.Active.Render(h.Model+" #"+h.ID), styles.Dim.Render(fmt.Sprintf("(%.3f)", h.Score)))
		names := make([]string, 0, len(h.Fields))
		for name := range h.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "    %s %s\n", styles.Label.Render(name+":"), snippet(h.Fields[name]))
		}
	}
}

func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= searchSnippetRunes {
		return s
	}
	return string(r[:searchSnippetRunes]) + "..."
}
