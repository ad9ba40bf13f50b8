package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quantmind-br/hpkg/internal/config"
	"github.com/quantmind-br/hpkg/internal/core"
	"github.com/quantmind-br/hpkg/internal/fsops"
	"github.com/quantmind-br/hpkg/internal/lock"
	"github.com/quantmind-br/hpkg/internal/manager"
	"github.com/quantmind-br/hpkg/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// diagnosis collects the findings of the doctor checks
type diagnosis struct {
	issues   []string
	warnings []string
}

func (d *diagnosis) issue(format string, args ...any) {
	d.issues = append(d.issues, fmt.Sprintf(format, args...))
}

func (d *diagnosis) warn(format string, args ...any) {
	d.warnings = append(d.warnings, fmt.Sprintf(format, args...))
}

// NewDoctorCmd creates the doctor command
func NewDoctorCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var deep bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the install root and the package ledger",
		Long: `Check that the install root is writable, the ledger opens, no other hpkg
process holds the lock, repositories are synced and the cache is intact.
With --deep every installed file is re-hashed as well.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
			defer cancel()

			ui.PrintHeader("System Diagnostics")

			d := &diagnosis{}
			checkRoot(cfg, d)
			checkLock(cfg, d)

			ui.PrintHeader("Database")
			mgr, err := manager.New(ctx, cfg, log)
			if err != nil {
				ui.PrintError("Database: NOT ACCESSIBLE")
				d.issue("cannot open database %s: %v", cfg.DBFile(), err)
			} else {
				defer mgr.Close()
				checkDatabase(ctx, mgr, d, deep)
				checkRepositories(ctx, mgr, d)
				checkCache(mgr, d)
			}

			printDiagnosis(d)

			log.Debug().
				Int("issues", len(d.issues)).
				Int("warnings", len(d.warnings)).
				Msg("doctor finished")

			if len(d.issues) > 0 {
				return fmt.Errorf("system check failed with %d issue(s)", len(d.issues))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&deep, "deep", false, "re-hash the files of every installed package")

	return cmd
}

func checkRoot(cfg *config.Config, d *diagnosis) {
	ui.PrintKeyValue("Install Root", cfg.RootDir())
	fs := afero.NewOsFs()
	if err := fs.MkdirAll(cfg.RootDir(), 0755); err != nil {
		ui.PrintError("Install root: NOT ACCESSIBLE")
		d.issue("cannot create install root %s: %v", cfg.RootDir(), err)
		return
	}
	if err := fsops.CheckWritable(fs, cfg.RootDir()); err != nil {
		ui.PrintError("Install root: NOT WRITABLE")
		d.issue("install root %s is not writable: %v", cfg.RootDir(), err)
		return
	}
	ui.PrintSuccess("Install root: writable")
}

func checkLock(cfg *config.Config, d *diagnosis) {
	l, err := lock.Acquire(cfg.RootDir())
	switch {
	case errors.Is(err, core.ErrLocked):
		ui.PrintWarning("Lock: held by another process (%s)", lock.PathFor(cfg.RootDir()))
		d.warn("another hpkg process is running")
	case err != nil:
		ui.PrintError("Lock: %v", err)
		d.issue("cannot take the lock: %v", err)
	default:
		_ = l.Release()
		ui.PrintSuccess("Lock: free")
	}
}

func checkDatabase(ctx context.Context, mgr *manager.Manager, d *diagnosis, deep bool) {
	ui.PrintSuccess("Database: accessible (%s)", mgr.DB().Path())

	if v, err := mgr.DB().SchemaVersion(ctx); err != nil {
		ui.PrintError("Schema: %v", err)
		d.issue("cannot read schema version: %v", err)
	} else {
		ui.PrintKeyValue("Schema Version", fmt.Sprintf("%d", v))
	}

	installed, err := mgr.ListInstalled(ctx)
	if err != nil {
		ui.PrintWarning("Cannot list installed packages: %v", err)
		d.warn("cannot list installed packages")
		return
	}
	ui.PrintInfo("Installed packages: %d", len(installed))

	stats, err := mgr.Stats(ctx)
	if err == nil && stats.Database.Orphaned > 0 {
		ui.PrintWarning("%d orphaned dependencies (run 'hpkg clean --orphans')", stats.Database.Orphaned)
		d.warn("%d orphaned dependencies", stats.Database.Orphaned)
	}

	if !deep {
		return
	}

	var broken []string
	for _, p := range installed {
		report, err := mgr.VerifyInstalled(ctx, p.Package.Name)
		if err != nil {
			d.issue("cannot verify %s: %v", p.Package.Name, err)
			continue
		}
		if !report.OK() {
			broken = append(broken, fmt.Sprintf("%s (%d modified, %d missing)",
				p.Package.Name, len(report.Modified), len(report.Missing)))
		}
	}
	if len(broken) == 0 {
		ui.PrintSuccess("All installed packages have intact files")
		return
	}
	ui.PrintWarning("Found %d packages with modified or missing files:", len(broken))
	ui.PrintList(broken)
	d.warn("%d packages have modified or missing files", len(broken))
}

func checkRepositories(ctx context.Context, mgr *manager.Manager, d *diagnosis) {
	ui.PrintHeader("Repositories")

	repos, err := mgr.DB().ListRepositories(ctx)
	if err != nil {
		ui.PrintError("Repositories: %v", err)
		d.issue("cannot list repositories: %v", err)
		return
	}
	if len(repos) == 0 {
		ui.PrintWarning("No repositories configured")
		d.warn("no repositories configured (add one under the repos_dir and run 'hpkg sync')")
		return
	}

	for _, r := range repos {
		switch {
		case !r.Enabled:
			ui.PrintInfo("%s: disabled", r.Name)
		case r.LastUpdate == nil:
			ui.PrintWarning("%s: never synced", r.Name)
			d.warn("repository %s has never been synced", r.Name)
		default:
			ui.PrintSuccess("%s: synced %s", r.Name, r.LastUpdate.Local().Format("2006-01-02 15:04"))
		}
	}
}

func checkCache(mgr *manager.Manager, d *diagnosis) {
	ui.PrintHeader("Cache")
	ui.PrintKeyValue("Directory", mgr.Cache().Dir())

	corrupt, err := mgr.CheckCache()
	if err != nil {
		ui.PrintWarning("Cannot check cache: %v", err)
		d.warn("cannot check cache")
		return
	}
	if len(corrupt) == 0 {
		ui.PrintSuccess("Cache: intact")
		return
	}
	ui.PrintWarning("Cache: %d corrupt artifact(s)", len(corrupt))
	d.warn("%d corrupt cached artifacts (run 'hpkg clean --all')", len(corrupt))
}

func printDiagnosis(d *diagnosis) {
	ui.PrintHeader("Summary")

	if len(d.issues) == 0 {
		ui.PrintSuccess("All critical checks passed!")
	} else {
		ui.PrintError("Found %d issue(s):", len(d.issues))
		ui.PrintList(d.issues)
		fmt.Fprintln(ui.Out)
	}

	if len(d.warnings) > 0 {
		ui.PrintWarning("Found %d warning(s):", len(d.warnings))
		ui.PrintList(d.warnings)
	}

	fmt.Fprintln(ui.Out)
}
