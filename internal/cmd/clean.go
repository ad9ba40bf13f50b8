package cmd

import (
	"fmt"
	"time"

	"github.com/quantmind-br/hpkg/internal/config"
	"github.com/quantmind-br/hpkg/internal/core"
	"github.com/quantmind-br/hpkg/internal/manager"
	"github.com/quantmind-br/hpkg/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewCleanCmd creates the clean command
func NewCleanCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var (
		opts    manager.CleanOptions
		orphans bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Trim the artifact cache",
		Long: `Remove cached artifacts. By default the newest keep_cache versions of each
package are kept and the cache is pruned to max_cache_size. With --orphans,
dependencies that nothing needs any more are removed as well.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.Keep < 0 || opts.OlderThan < 0 || opts.MaxSize < 0 {
				return invalidArgs(fmt.Errorf("--keep, --older-than and --max-size must not be negative"))
			}

			ctx, cancel := commandContext(cmd, timeout)
			defer cancel()

			mgr, err := openManager(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer mgr.Close()

			if orphans {
				removed, err := mgr.RemoveOrphans(ctx)
				for _, name := range removed {
					ui.PrintSuccess("removed orphan %s", name)
				}
				if err != nil {
					ui.PrintError("%v", err)
					return withExit(core.ExitUninstallFailed, err)
				}
				if len(removed) == 0 {
					ui.PrintInfo("No orphaned packages")
				}
			}

			freed, err := mgr.CleanCache(opts)
			if err != nil {
				ui.PrintError("failed to clean cache: %v", err)
				return err
			}
			ui.PrintSuccess("freed %s from %s", ui.FormatBytes(freed), mgr.Cache().Dir())
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.Keep, "keep", 0, "versions to keep per package (default keep_cache)")
	cmd.Flags().IntVar(&opts.OlderThan, "older-than", 0, "remove artifacts older than this many days")
	cmd.Flags().Int64Var(&opts.MaxSize, "max-size", 0, "prune the cache to this many bytes (default max_cache_size)")
	cmd.Flags().BoolVar(&opts.All, "all", false, "remove every cached artifact")
	cmd.Flags().BoolVar(&orphans, "orphans", false, "also remove orphaned dependencies")
	cmd.Flags().DurationVar(&timeout, "timeout", defaultTimeout, "give up after this long")

	return cmd
}
