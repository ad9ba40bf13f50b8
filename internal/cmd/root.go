package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/quantmind-br/hpkg/internal/config"
	"github.com/quantmind-br/hpkg/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command
func NewRootCmd(cfg *config.Config, log *zerolog.Logger, version string) *cobra.Command {
	var (
		rootDir string
		verbose bool
		quiet   bool
		noColor bool
	)

	cmd := &cobra.Command{
		Use:   "hpkg",
		Short: "Dependency-resolving package manager",
		Long: `hpkg installs, upgrades and removes packages from prioritized repositories.
Every artifact is verified before the install root is touched and every
operation is recorded in a local ledger.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rootDir != "" {
				abs, err := filepath.Abs(rootDir)
				if err != nil {
					return invalidArgs(fmt.Errorf("--root: %w", err))
				}
				cfg.Paths.RootDir = abs
			}

			if noColor {
				ui.InitColors("never")
			} else {
				ui.InitColors(cfg.Logging.Color)
			}

			switch {
			case verbose:
				*log = log.Level(zerolog.DebugLevel)
			case quiet:
				*log = log.Level(zerolog.WarnLevel)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&rootDir, "root", "", "operate on an alternate install root")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only log warnings and errors")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	// Add subcommands
	cmd.AddCommand(NewInstallCmd(cfg, log))
	cmd.AddCommand(NewRemoveCmd(cfg, log))
	cmd.AddCommand(NewUpdateCmd(cfg, log))
	cmd.AddCommand(NewSyncCmd(cfg, log))
	cmd.AddCommand(NewSearchCmd(cfg, log))
	cmd.AddCommand(NewInfoCmd(cfg, log))
	cmd.AddCommand(NewListCmd(cfg, log))
	cmd.AddCommand(NewCleanCmd(cfg, log))
	cmd.AddCommand(NewVerifyCmd(cfg, log))
	cmd.AddCommand(NewStatsCmd(cfg, log))
	cmd.AddCommand(NewHistoryCmd(cfg, log))
	cmd.AddCommand(NewDoctorCmd(cfg, log))
	cmd.AddCommand(NewCompletionCmd(cfg, log))
	cmd.AddCommand(NewVersionCmd(version))

	return cmd
}
