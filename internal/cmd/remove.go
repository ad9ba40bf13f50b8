package cmd

import (
	"io"
	"time"

	"github.com/quantmind-br/hpkg/internal/config"
	"github.com/quantmind-br/hpkg/internal/core"
	"github.com/quantmind-br/hpkg/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewRemoveCmd creates the remove command
func NewRemoveCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var (
		cascade bool
		yes     bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:     "remove <package>",
		Aliases: []string{"uninstall", "rm"},
		Short:   "Remove an installed package",
		Long: `Remove an installed package and every file it installed. Packages that
depend on it block the removal unless --cascade is given, in which case they
are removed first.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			ctx, cancel := commandContext(cmd, timeout)
			defer cancel()

			mgr, err := openManager(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer mgr.Close()

			opts := core.RemoveOptions{Cascade: cascade}

			plan, err := mgr.RemovalPlan(ctx, name, opts)
			if err != nil {
				reportError(ctx, mgr, name, err)
				return withExit(core.ExitUninstallFailed, err)
			}

			if !yes {
				confirmed, err := ui.ConfirmRemoval(plan, io.NopCloser(cmd.InOrStdin()))
				if err != nil {
					ui.PrintWarning("confirmation cancelled, nothing was removed")
					return withExit(core.ExitInterrupted, err)
				}
				if !confirmed {
					ui.PrintWarning("removal cancelled, nothing was removed")
					return nil
				}
			}

			log.Info().
				Str("package", name).
				Strs("plan", plan).
				Bool("cascade", cascade).
				Msg("starting removal")

			removed, err := mgr.Remove(ctx, name, opts)
			for _, n := range removed {
				ui.PrintSuccess("removed %s", n)
			}
			if err != nil {
				reportError(ctx, mgr, name, err)
				return withExit(core.ExitUninstallFailed, err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&cascade, "cascade", false, "also remove packages that depend on it")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	cmd.Flags().DurationVar(&timeout, "timeout", defaultTimeout, "give up after this long")

	return cmd
}
