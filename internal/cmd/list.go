package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/quantmind-br/hpkg/internal/config"
	"github.com/quantmind-br/hpkg/internal/core"
	"github.com/quantmind-br/hpkg/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewListCmd creates the list command
func NewListCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var (
		jsonOutput   bool
		filterReason string
		filterName   string
		sortBy       string
		showDetails  bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List installed packages",
		Long:    `List installed packages with filtering and sorting options.`,
		Args:    exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch filterReason {
			case "", string(core.ReasonExplicit), string(core.ReasonDependency), string(core.ReasonGroup):
			default:
				return invalidArgs(fmt.Errorf("--reason must be explicit, dependency or group, got %q", filterReason))
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			mgr, err := openManager(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer mgr.Close()

			installs, err := mgr.ListInstalled(ctx)
			if err != nil {
				ui.PrintError("failed to list packages: %v", err)
				return fmt.Errorf("list installed: %w", err)
			}

			filtered := filterInstalls(installs, core.InstallReason(filterReason), filterName)
			sortInstalls(filtered, sortBy)

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(filtered)
			}

			if len(filtered) == 0 {
				if filterReason != "" || filterName != "" {
					ui.PrintWarning("No packages found matching filters")
				} else {
					ui.PrintInfo("No packages installed")
				}
				return nil
			}

			printSummary(installs, filtered, filterReason, filterName)

			if showDetails {
				printDetailedTable(cmd, filtered)
			} else {
				printCompactTable(cmd, filtered)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	cmd.Flags().StringVar(&filterReason, "reason", "", "filter by install reason (explicit, dependency, group)")
	cmd.Flags().StringVar(&filterName, "name", "", "filter by package name (partial match)")
	cmd.Flags().StringVar(&sortBy, "sort", "name", "sort by: name, date, size, version")
	cmd.Flags().BoolVarP(&showDetails, "details", "d", false, "show detailed information")

	return cmd
}

// filterInstalls filters installs by reason and name
func filterInstalls(installs []core.InstalledPackage, reason core.InstallReason, name string) []core.InstalledPackage {
	filtered := make([]core.InstalledPackage, 0, len(installs))

	for _, install := range installs {
		if reason != "" && install.InstallReason != reason {
			continue
		}
		if name != "" && !strings.Contains(strings.ToLower(install.Package.Name), strings.ToLower(name)) {
			continue
		}
		filtered = append(filtered, install)
	}

	return filtered
}

// sortInstalls sorts installs by the specified field
func sortInstalls(installs []core.InstalledPackage, sortBy string) {
	byName := func(i, j int) bool {
		return strings.ToLower(installs[i].Package.Name) < strings.ToLower(installs[j].Package.Name)
	}

	switch strings.ToLower(sortBy) {
	case "date":
		sort.SliceStable(installs, func(i, j int) bool {
			return installs[i].InstallDate.After(installs[j].InstallDate)
		})
	case "size":
		sort.SliceStable(installs, func(i, j int) bool {
			if installs[i].Package.InstalledSizeBytes == installs[j].Package.InstalledSizeBytes {
				return byName(i, j)
			}
			return installs[i].Package.InstalledSizeBytes > installs[j].Package.InstalledSizeBytes
		})
	case "version":
		sort.SliceStable(installs, func(i, j int) bool {
			if c := core.CompareVersions(installs[i].Package.Version, installs[j].Package.Version); c != 0 {
				return c < 0
			}
			return byName(i, j)
		})
	default:
		sort.SliceStable(installs, byName)
	}
}

// printSummary prints a summary of installed packages
func printSummary(all, filtered []core.InstalledPackage, filterReason, filterName string) {
	counts := make(map[core.InstallReason]int)
	for _, install := range all {
		counts[install.InstallReason]++
	}

	ui.PrintHeader("Installed Packages")

	fmt.Fprintf(ui.Out, "Total: %d packages", len(all))
	if len(filtered) != len(all) {
		fmt.Fprintf(ui.Out, " (showing %d filtered)", len(filtered))
	}
	fmt.Fprintln(ui.Out)

	if len(filtered) == len(all) {
		parts := make([]string, 0, len(counts))
		for _, reason := range []core.InstallReason{core.ReasonExplicit, core.ReasonDependency, core.ReasonGroup} {
			if counts[reason] > 0 {
				parts = append(parts, fmt.Sprintf("%s: %d", ui.ColorizeReason(reason), counts[reason]))
			}
		}
		if len(parts) > 0 {
			fmt.Fprintf(ui.Out, "  %s\n", strings.Join(parts, " | "))
		}
	}

	if filterReason != "" || filterName != "" {
		fmt.Fprintln(ui.Out)
		ui.PrintInfo("Active filters:")
		if filterReason != "" {
			fmt.Fprintf(ui.Out, "  • Reason: %s\n", ui.ColorizeReason(core.InstallReason(filterReason)))
		}
		if filterName != "" {
			fmt.Fprintf(ui.Out, "  • Name: %s\n", filterName)
		}
	}

	fmt.Fprintln(ui.Out)
}

// printCompactTable prints a compact table view
func printCompactTable(cmd *cobra.Command, installs []core.InstalledPackage) {
	table := tablewriter.NewTable(cmd.OutOrStdout(),
		tablewriter.WithHeader([]string{"Name", "Version", "Reason", "Install Date"}),
		tablewriter.WithAlignment(tw.MakeAlign(4, tw.AlignLeft)),
		tablewriter.WithSymbols(tw.NewSymbols(tw.StyleNone)),
	)

	for _, install := range installs {
		table.Append(
			install.Package.Name,
			install.Package.Version,
			ui.ColorizeReason(install.InstallReason),
			install.InstallDate.Local().Format("2006-01-02 15:04"),
		)
	}

	table.Render()
}

// printDetailedTable prints a detailed table view
func printDetailedTable(cmd *cobra.Command, installs []core.InstalledPackage) {
	table := tablewriter.NewTable(cmd.OutOrStdout(),
		tablewriter.WithHeader([]string{"Name", "Version", "Reason", "Install Date", "Repository", "Size", "Files"}),
		tablewriter.WithAlignment(tw.MakeAlign(7, tw.AlignLeft)),
		tablewriter.WithSymbols(tw.NewSymbols(tw.StyleLight)),
	)

	for _, install := range installs {
		repository := install.Package.Repository
		if repository == "" {
			repository = "-"
		}

		table.Append(
			install.Package.Name,
			install.Package.Version,
			ui.ColorizeReason(install.InstallReason),
			install.InstallDate.Local().Format("2006-01-02"),
			repository,
			ui.FormatBytes(install.Package.InstalledSizeBytes),
			fmt.Sprintf("%d", len(install.Files)),
		)
	}

	table.Render()
}
