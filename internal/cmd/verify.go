package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/quantmind-br/hpkg/internal/config"
	"github.com/quantmind-br/hpkg/internal/core"
	"github.com/quantmind-br/hpkg/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewVerifyCmd creates the verify command
func NewVerifyCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var (
		withCache bool
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "verify [package]...",
		Short: "Check installed files against the ledger",
		Long: `Re-hash the files of the named packages, or of every installed package,
and report files that are missing or were modified since installation.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd, timeout)
			defer cancel()

			mgr, err := openManager(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer mgr.Close()

			var errs []error

			if withCache {
				corrupt, err := mgr.CheckCache()
				if err != nil {
					ui.PrintError("%v", err)
					return err
				}
				if len(corrupt) == 0 {
					ui.PrintSuccess("cache is intact")
				} else {
					ui.PrintWarning("%d cached artifact(s) are corrupt:", len(corrupt))
					ui.PrintList(corrupt)
					errs = append(errs, fmt.Errorf("cache: %w", core.ErrIntegrityCorrupt))
				}
			}

			names := args
			if len(names) == 0 {
				installed, err := mgr.ListInstalled(ctx)
				if err != nil {
					ui.PrintError("%v", err)
					return err
				}
				for _, p := range installed {
					names = append(names, p.Package.Name)
				}
			}

			for _, name := range names {
				report, err := mgr.VerifyInstalled(ctx, name)
				if err != nil {
					reportError(ctx, mgr, name, err)
					errs = append(errs, err)
					continue
				}
				if report.OK() {
					ui.PrintSuccess("%s: %d file(s) ok", name, report.Checked)
					continue
				}
				ui.PrintWarning("%s: %d modified, %d missing", name, len(report.Modified), len(report.Missing))
				for _, p := range report.Modified {
					fmt.Fprintf(ui.Out, "  modified %s\n", p)
				}
				for _, p := range report.Missing {
					fmt.Fprintf(ui.Out, "  missing  %s\n", p)
				}
				errs = append(errs, core.NewError(core.ErrIntegrityCorrupt, "verify", name, nil))
			}

			return errors.Join(errs...)
		},
	}

	cmd.Flags().BoolVar(&withCache, "cache", false, "also check the cached artifacts")
	cmd.Flags().DurationVar(&timeout, "timeout", defaultTimeout, "give up after this long")

	return cmd
}
