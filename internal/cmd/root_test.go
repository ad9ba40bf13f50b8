package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"testing"

	"github.com/quantmind-br/hpkg/internal/config"
	"github.com/quantmind-br/hpkg/internal/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewRootCmd(t *testing.T) {
	t.Parallel()
	logger := zerolog.New(io.Discard)

	cmd := NewRootCmd(config.Default(), &logger, "1.0.0")

	assert.Equal(t, "hpkg", cmd.Use)
	assert.True(t, cmd.SilenceUsage)
	assert.True(t, cmd.SilenceErrors)

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	for _, want := range []string{
		"install", "remove", "update", "sync", "search", "info", "list",
		"clean", "verify", "stats", "history", "doctor", "completion", "version",
	} {
		assert.Contains(t, names, want)
	}

	for _, flag := range []string{"root", "verbose", "quiet", "no-color"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}
}

func TestRemoveCmd_Aliases(t *testing.T) {
	t.Parallel()
	logger := zerolog.New(io.Discard)

	cmd := NewRemoveCmd(config.Default(), &logger)

	assert.Contains(t, cmd.Aliases, "uninstall")
	assert.NotNil(t, cmd.Flags().Lookup("cascade"))
	assert.NotNil(t, cmd.Flags().ShorthandLookup("y"))
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	plain := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, core.ExitSuccess},
		{"plain", plain, core.ExitGeneral},
		{"invalid args", invalidArgs(plain), core.ExitInvalidArgs},
		{"install failed", withExit(core.ExitInstallFailed, plain), core.ExitInstallFailed},
		{"remove failed", withExit(core.ExitUninstallFailed, core.DependencyConflict("libc", []string{"app"})), core.ExitUninstallFailed},
		{"cancelled", fmt.Errorf("install: %w", context.Canceled), core.ExitInterrupted},
		{"locked wins over command status", withExit(core.ExitInstallFailed, core.NewError(core.ErrLocked, "acquire lock", "/lock", nil)), core.ExitLocked},
		{"download", withExit(core.ExitInstallFailed, core.NewError(core.ErrDownloadFailed, "fetch", "app", plain)), core.ExitNetwork},
		{"sync", errors.Join(core.NewError(core.ErrRepositorySync, "sync", "core", plain)), core.ExitNetwork},
		{"database", core.NewError(core.ErrDatabase, "open", "packages.db", plain), core.ExitDatabase},
		{"permission", core.NewError(core.ErrIO, "write", "usr/bin/app", fs.ErrPermission), core.ExitPermission},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestWithExit_NilStaysNil(t *testing.T) {
	t.Parallel()
	assert.NoError(t, withExit(core.ExitInstallFailed, nil))
	assert.NoError(t, invalidArgs(nil))
}
