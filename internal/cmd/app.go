package cmd

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/quantmind-br/hpkg/internal/config"
	"github.com/quantmind-br/hpkg/internal/core"
	"github.com/quantmind-br/hpkg/internal/manager"
	"github.com/quantmind-br/hpkg/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const (
	defaultTimeout = 30 * time.Minute
	maxSuggestions = 3
)

// exitError carries the exit status a command wants for its failure
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withExit(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

func invalidArgs(err error) error {
	return withExit(core.ExitInvalidArgs, err)
}

// ExitCode maps an error returned by a command onto the process exit status
func ExitCode(err error) int {
	if err == nil {
		return core.ExitSuccess
	}

	switch {
	case errors.Is(err, context.Canceled):
		return core.ExitInterrupted
	case errors.Is(err, core.ErrLocked):
		return core.ExitLocked
	case errors.Is(err, core.ErrDownloadFailed), errors.Is(err, core.ErrRepositorySync):
		return core.ExitNetwork
	case errors.Is(err, core.ErrDatabase):
		return core.ExitDatabase
	case errors.Is(err, os.ErrPermission):
		return core.ExitPermission
	}

	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return core.ExitGeneral
}

// args validators that report usage mistakes with the invalid-args status
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		return invalidArgs(cobra.ExactArgs(n)(cmd, args))
	}
}

func minArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		return invalidArgs(cobra.MinimumNArgs(n)(cmd, args))
	}
}

func maxArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		return invalidArgs(cobra.MaximumNArgs(n)(cmd, args))
	}
}

func onlyValidArgs(cmd *cobra.Command, args []string) error {
	return invalidArgs(cobra.OnlyValidArgs(cmd, args))
}

// commandContext bounds a command by its --timeout flag
func commandContext(cmd *cobra.Command, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// openManager opens the ledger and cache of the configured install root
func openManager(ctx context.Context, cfg *config.Config, log *zerolog.Logger) (*manager.Manager, error) {
	mgr, err := manager.New(ctx, cfg, log)
	if err != nil {
		ui.PrintError("failed to open package database: %v", err)
		return nil, err
	}
	return mgr, nil
}

// reportError prints a failure with a hint where one helps
func reportError(ctx context.Context, mgr *manager.Manager, name string, err error) {
	ui.PrintError("%v", err)

	switch {
	case errors.Is(err, core.ErrNotFound):
		candidates, serr := mgr.Suggestions(ctx)
		if serr != nil {
			return
		}
		if hint := ui.DidYouMean(ui.Suggest(name, candidates, maxSuggestions)); hint != "" {
			ui.PrintInfo("%s", hint)
		}
	case errors.Is(err, core.ErrDependencyConflict) && len(core.DependentsOf(err)) > 0:
		ui.PrintInfo("use --cascade to remove %s together with its dependents", name)
	case errors.Is(err, core.ErrLocked):
		ui.PrintInfo("another hpkg process is running; retry when it has finished")
	}
}
