package cmd

import (
	"context"
	"encoding/json"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/quantmind-br/hpkg/internal/config"
	"github.com/quantmind-br/hpkg/internal/core"
	"github.com/quantmind-br/hpkg/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const maxDescriptionWidth = 60

// NewSearchCmd creates the search command
func NewSearchCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the repositories",
		Long: `Search package names, descriptions and keywords in every enabled
repository, highest priority first. A name match lists every version of the
package.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := args[0]
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			mgr, err := openManager(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer mgr.Close()

			results, err := mgr.Search(ctx, query)
			if err != nil {
				ui.PrintError("search failed: %v", err)
				return err
			}

			log.Debug().Str("query", query).Int("results", len(results)).Msg("search completed")

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}

			if len(results) == 0 {
				ui.PrintInfo("No packages match %q", query)
				return nil
			}

			printSearchResults(cmd, results)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}

func printSearchResults(cmd *cobra.Command, results []core.Package) {
	table := tablewriter.NewTable(cmd.OutOrStdout(),
		tablewriter.WithHeader([]string{"Name", "Version", "Repository", "Description"}),
		tablewriter.WithAlignment(tw.MakeAlign(4, tw.AlignLeft)),
		tablewriter.WithSymbols(tw.NewSymbols(tw.StyleNone)),
	)

	for _, p := range results {
		table.Append(p.Name, p.Version, p.Repository, truncate(p.Description, maxDescriptionWidth))
	}

	table.Render()
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-3]) + "..."
}
