package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/quantmind-br/hpkg/internal/config"
	"github.com/quantmind-br/hpkg/internal/core"
	"github.com/quantmind-br/hpkg/internal/manager"
	"github.com/quantmind-br/hpkg/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewInstallCmd creates the install command
func NewInstallCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var (
		noDeps    bool
		overwrite bool
		group     bool
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "install <package>...",
		Short: "Install packages",
		Long: `Install packages from the synced repositories together with the
dependencies they lack. All artifacts are downloaded and verified before
anything is written under the install root.`,
		Args: minArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd, timeout)
			defer cancel()

			mgr, err := openManager(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer mgr.Close()

			opts := core.InstallOptions{NoDeps: noDeps, Overwrite: overwrite}

			var errs []error
			for _, name := range args {
				log.Info().
					Str("package", name).
					Bool("group", group).
					Bool("no_deps", noDeps).
					Msg("starting installation")

				var err error
				if group {
					err = installGroup(ctx, cmd, mgr, name, opts)
				} else {
					err = installPackage(ctx, cmd, mgr, name, opts)
				}
				if err != nil {
					reportError(ctx, mgr, name, err)
					errs = append(errs, err)
				}
			}
			return withExit(core.ExitInstallFailed, errors.Join(errs...))
		},
	}

	cmd.Flags().BoolVar(&noDeps, "no-deps", false, "skip dependency resolution")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace unowned files already present under the root")
	cmd.Flags().BoolVarP(&group, "group", "g", false, "treat arguments as package groups")
	cmd.Flags().DurationVar(&timeout, "timeout", defaultTimeout, "give up after this long")

	return cmd
}

func installPackage(ctx context.Context, cmd *cobra.Command, mgr *manager.Manager, name string, opts core.InstallOptions) error {
	plan, err := mgr.Plan(ctx, name, opts)
	if err != nil {
		return err
	}

	ui.PrintInfo("Resolved %d package(s) for %s", len(plan), name)
	for i, p := range plan {
		ui.PrintStep(i+1, len(plan), "%s %s (%s)", p.Name, p.Version, p.Repository)
	}

	progress := ui.NewDownloadProgress(cmd.ErrOrStderr(), len(plan))
	mgr.SetProgress(progress)
	installed, err := mgr.Install(ctx, name, opts)
	_ = progress.Finish()

	for _, p := range installed {
		ui.PrintSuccess("installed %s %s", p.Name, p.Version)
	}
	return err
}

func installGroup(ctx context.Context, cmd *cobra.Command, mgr *manager.Manager, group string, opts core.InstallOptions) error {
	ui.PrintInfo("Installing group %s", group)

	progress := ui.NewDownloadProgress(cmd.ErrOrStderr(), 0)
	mgr.SetProgress(progress)
	installed, err := mgr.InstallGroup(ctx, group, opts)
	_ = progress.Finish()

	if err == nil && len(installed) == 0 {
		ui.PrintInfo("every member of %s is already installed", group)
	}
	for _, p := range installed {
		ui.PrintSuccess("installed %s %s", p.Name, p.Version)
	}
	return err
}
