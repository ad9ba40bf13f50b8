package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/quantmind-br/hpkg/internal/config"
	"github.com/quantmind-br/hpkg/internal/core"
	"github.com/quantmind-br/hpkg/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const defaultHistoryLimit = 20

// NewStatsCmd creates the stats command
func NewStatsCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show ledger and cache statistics",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			mgr, err := openManager(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer mgr.Close()

			stats, err := mgr.Stats(ctx)
			if err != nil {
				ui.PrintError("failed to collect statistics: %v", err)
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}

			ui.PrintHeader("Packages")
			ui.PrintKeyValue("Installed", fmt.Sprintf("%d", stats.Database.Installed))
			ui.PrintKeyValue("Explicit", fmt.Sprintf("%d", stats.Database.Explicit))
			ui.PrintKeyValue("Dependencies", fmt.Sprintf("%d", stats.Database.Dependency))
			ui.PrintKeyValue("Orphaned", fmt.Sprintf("%d", stats.Database.Orphaned))
			ui.PrintKeyValue("Installed Size", ui.FormatBytes(stats.Database.TotalSize))

			ui.PrintHeader("Repositories")
			ui.PrintKeyValue("Repositories", fmt.Sprintf("%d", stats.Database.Repositories))
			ui.PrintKeyValue("Available", fmt.Sprintf("%d", stats.Database.Available))

			ui.PrintHeader("Cache")
			ui.PrintKeyValue("Directory", stats.Cache.CacheDir)
			ui.PrintKeyValue("Artifacts", fmt.Sprintf("%d", stats.Cache.PackageCount))
			ui.PrintKeyValue("Deltas", fmt.Sprintf("%d", stats.Cache.DeltaCount))
			ui.PrintKeyValue("Size", ui.FormatBytes(stats.Cache.TotalSize))
			fmt.Fprintln(ui.Out)

			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}

// NewHistoryCmd creates the history command
func NewHistoryCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent transactions",
		Long:  `Show the most recent install, remove and upgrade transactions, newest first.`,
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return invalidArgs(fmt.Errorf("--limit must be positive, got %d", limit))
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			mgr, err := openManager(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer mgr.Close()

			records, err := mgr.History(ctx, limit)
			if err != nil {
				ui.PrintError("failed to read history: %v", err)
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}

			if len(records) == 0 {
				ui.PrintInfo("No transactions recorded")
				return nil
			}

			printHistory(cmd, records)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", defaultHistoryLimit, "number of transactions to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}

func printHistory(cmd *cobra.Command, records []core.TransactionRecord) {
	table := tablewriter.NewTable(cmd.OutOrStdout(),
		tablewriter.WithHeader([]string{"ID", "Date", "Type", "Package", "Version", "Status"}),
		tablewriter.WithAlignment(tw.MakeAlign(6, tw.AlignLeft)),
		tablewriter.WithSymbols(tw.NewSymbols(tw.StyleNone)),
	)

	for _, r := range records {
		table.Append(
			fmt.Sprintf("%d", r.ID),
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			string(r.Type),
			r.PackageName,
			transitionOf(r),
			ui.ColorizeStatus(r.Status),
		)
	}

	table.Render()
}

func transitionOf(r core.TransactionRecord) string {
	switch {
	case r.OldVersion != "" && r.NewVersion != "":
		return r.OldVersion + " → " + r.NewVersion
	case r.NewVersion != "":
		return r.NewVersion
	case r.OldVersion != "":
		return r.OldVersion
	}
	return "-"
}
