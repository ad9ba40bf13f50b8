package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/quantmind-br/hpkg/internal/config"
	"github.com/quantmind-br/hpkg/internal/core"
	"github.com/quantmind-br/hpkg/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewInfoCmd creates the info command
func NewInfoCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var showFiles bool

	cmd := &cobra.Command{
		Use:   "info <package>",
		Short: "Show package information",
		Long: `Show the metadata of a package. Installed packages are described from the
ledger; otherwise the newest version in the repositories is shown.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			mgr, err := openManager(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer mgr.Close()

			pkg, installed, err := mgr.Info(ctx, name)
			if err != nil {
				reportError(ctx, mgr, name, err)
				return err
			}

			printPackageInfo(pkg, installed, showFiles)

			log.Debug().
				Str("package", pkg.Name).
				Bool("installed", installed != nil).
				Msg("displayed package info")

			return nil
		},
	}

	cmd.Flags().BoolVarP(&showFiles, "files", "f", false, "list the files owned by the package")

	return cmd
}

// printPackageInfo displays detailed package information
func printPackageInfo(pkg core.Package, installed *core.InstalledPackage, showFiles bool) {
	ui.PrintHeader(fmt.Sprintf("Package Information: %s", pkg.Name))

	ui.PrintKeyValue("Name", pkg.Name)
	ui.PrintKeyValue("Version", pkg.Version)
	ui.PrintKeyValue("Description", orNone(pkg.Description))
	ui.PrintKeyValue("Repository", orNone(pkg.Repository))
	ui.PrintKeyValue("Architecture", string(pkg.Architecture))
	ui.PrintKeyValue("License", orNone(pkg.License))
	ui.PrintKeyValue("Author", orNone(pkg.Author))
	if pkg.Homepage != "" {
		ui.PrintKeyValue("Homepage", pkg.Homepage)
	}
	ui.PrintKeyValue("Download Size", ui.FormatBytes(pkg.SizeBytes))
	ui.PrintKeyValue("Installed Size", ui.FormatBytes(pkg.InstalledSizeBytes))

	ui.PrintHeader("Relations")
	ui.PrintKeyValue("Depends On", orNone(formatDependencies(pkg.Dependencies)))
	ui.PrintKeyValue("Provides", orNone(strings.Join(pkg.Provides, ", ")))
	ui.PrintKeyValue("Conflicts", orNone(strings.Join(pkg.Conflicts, ", ")))
	if len(pkg.Replaces) > 0 {
		ui.PrintKeyValue("Replaces", strings.Join(pkg.Replaces, ", "))
	}
	if len(pkg.Categories) > 0 {
		ui.PrintKeyValue("Groups", strings.Join(pkg.Categories, ", "))
	}
	if len(pkg.Keywords) > 0 {
		ui.PrintKeyValue("Keywords", strings.Join(pkg.Keywords, ", "))
	}

	if installed == nil {
		ui.PrintHeader("Status")
		ui.PrintKeyValue("Installed", "no")
		fmt.Fprintln(ui.Out)
		return
	}

	ui.PrintHeader("Status")
	ui.PrintKeyValue("Installed", "yes")
	ui.PrintKeyValue("Install Date", installed.InstallDate.Local().Format("2006-01-02 15:04:05"))
	ui.PrintKeyValue("Install Reason", ui.ColorizeReason(installed.InstallReason))
	ui.PrintKeyValue("Install Root", installed.InstallPath)
	ui.PrintKeyValue("Files", fmt.Sprintf("%d", len(installed.Files)))

	if showFiles && len(installed.Files) > 0 {
		paths := make([]string, 0, len(installed.Files))
		for _, f := range installed.Files {
			if f.IsDir {
				paths = append(paths, f.Path+"/")
				continue
			}
			paths = append(paths, f.Path)
		}
		fmt.Fprintln(ui.Out)
		ui.PrintList(paths)
	}

	fmt.Fprintln(ui.Out)
}

func formatDependencies(deps []core.Dependency) string {
	parts := make([]string, 0, len(deps))
	for _, d := range deps {
		s := d.Name
		if d.VersionReq != "" && d.VersionReq != "*" {
			s += " " + d.VersionReq
		}
		switch {
		case d.Optional:
			s += " (optional)"
		case d.BuildOnly:
			s += " (build)"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ", ")
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
