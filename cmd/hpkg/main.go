package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/quantmind-br/hpkg/internal/cmd"
	"github.com/quantmind-br/hpkg/internal/config"
	"github.com/quantmind-br/hpkg/internal/core"
	"github.com/quantmind-br/hpkg/internal/logging"
	"github.com/quantmind-br/hpkg/internal/ui"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

// run executes hpkg with args and returns the process exit status
func run(ctx context.Context, args []string, stderr io.Writer) int {
	cfg, err := config.LoadFile(os.Getenv("HPKG_CONFIG"))
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return cmd.ExitCode(err)
	}

	log := logging.NewLogger(logging.Config{
		Level:   cfg.Logging.Level,
		LogFile: cfg.LogFile(),
		NoColor: cfg.Logging.Color == "never",
	})

	rootCmd := cmd.NewRootCmd(cfg, log, version)
	rootCmd.SetArgs(args)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Debug().Err(err).Strs("args", args).Msg("command failed")
		// commands print their own failures; usage errors arrive unprinted
		if cmd.ExitCode(err) == core.ExitInvalidArgs {
			ui.PrintError("%v", err)
			fmt.Fprintf(stderr, "Run '%s --help' for usage.\n", rootCmd.CommandPath())
		}
		return cmd.ExitCode(err)
	}
	return core.ExitSuccess
}
