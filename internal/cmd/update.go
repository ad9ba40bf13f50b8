package cmd

import (
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/quantmind-br/hpkg/internal/config"
	"github.com/quantmind-br/hpkg/internal/core"
	"github.com/quantmind-br/hpkg/internal/manager"
	"github.com/quantmind-br/hpkg/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewUpdateCmd creates the update command
func NewUpdateCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var (
		check   bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:     "update [package]",
		Aliases: []string{"upgrade"},
		Short:   "Upgrade installed packages",
		Long: `Sync the repositories and upgrade every installed package that has a newer
version, or only the named one. Modified configuration files under /etc are
kept; the packaged version is saved next to them with a .hecate-new suffix.`,
		Args: maxArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd, timeout)
			defer cancel()

			mgr, err := openManager(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer mgr.Close()

			if check {
				if err := mgr.Sync(ctx); err != nil {
					ui.PrintWarning("sync incomplete: %v", err)
				}
				ups, err := mgr.ListUpgrades(ctx)
				if err != nil {
					ui.PrintError("%v", err)
					return err
				}
				if len(ups) == 0 {
					ui.PrintSuccess("all packages are up to date")
					return nil
				}
				printUpgrades(cmd, ups)
				return nil
			}

			if len(args) == 1 {
				name := args[0]
				up, err := mgr.Upgrade(ctx, name)
				if err != nil {
					reportError(ctx, mgr, name, err)
					return withExit(core.ExitInstallFailed, err)
				}
				if up == nil {
					ui.PrintSuccess("%s is up to date", name)
					return nil
				}
				ui.PrintSuccess("upgraded %s %s → %s", up.Name, up.OldVersion, up.NewVersion)
				return nil
			}

			ui.PrintInfo("Syncing repositories and upgrading packages")
			done, err := mgr.Update(ctx)
			for _, up := range done {
				ui.PrintSuccess("upgraded %s %s → %s", up.Name, up.OldVersion, up.NewVersion)
			}
			if err != nil {
				ui.PrintError("%v", err)
				return withExit(core.ExitInstallFailed, err)
			}
			if len(done) == 0 {
				ui.PrintSuccess("all packages are up to date")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "only list available upgrades")
	cmd.Flags().DurationVar(&timeout, "timeout", defaultTimeout, "give up after this long")

	return cmd
}

func printUpgrades(cmd *cobra.Command, ups []manager.Upgrade) {
	table := tablewriter.NewTable(cmd.OutOrStdout(),
		tablewriter.WithHeader([]string{"Name", "Installed", "Available", "Reason"}),
		tablewriter.WithAlignment(tw.MakeAlign(4, tw.AlignLeft)),
		tablewriter.WithSymbols(tw.NewSymbols(tw.StyleNone)),
	)
	for _, up := range ups {
		table.Append(up.Name, up.OldVersion, up.NewVersion, ui.ColorizeReason(up.Reason))
	}
	table.Render()
}

// NewSyncCmd creates the sync command
func NewSyncCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Refresh repository indices",
		Long: `Download the index of every enabled repository. Repository definitions are
read from the repos_dir; repositories that fail are reported and the others
are still refreshed.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := commandContext(cmd, timeout)
			defer cancel()

			mgr, err := openManager(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer mgr.Close()

			spinner := ui.NewSpinner(cmd.ErrOrStderr(), "syncing repositories")
			spinner.Tick()
			syncErr := mgr.Sync(ctx)
			_ = spinner.Stop()

			repos, err := mgr.DB().ListRepositories(ctx)
			if err != nil {
				ui.PrintError("%v", err)
				return err
			}
			for _, r := range repos {
				if !r.Enabled {
					continue
				}
				if r.LastUpdate != nil {
					ui.PrintSuccess("%s (priority %d) synced %s", r.Name, r.Priority, r.LastUpdate.Local().Format("2006-01-02 15:04"))
				} else {
					ui.PrintWarning("%s (priority %d) has never been synced", r.Name, r.Priority)
				}
			}

			if syncErr != nil {
				ui.PrintError("%v", syncErr)
				return syncErr
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", defaultTimeout, "give up after this long")

	return cmd
}
