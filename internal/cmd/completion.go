package cmd

import (
	"github.com/quantmind-br/hpkg/internal/config"
	"github.com/quantmind-br/hpkg/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewCompletionCmd creates the completion command
func NewCompletionCmd(_ *config.Config, log *zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for hpkg.

To load completions:

Bash:
  $ source <(hpkg completion bash)

  # To load completions for each session, execute once:
  $ hpkg completion bash > /etc/bash_completion.d/hpkg

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. You can execute the following once:

  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ hpkg completion zsh > "${fpath[1]}/_hpkg"

Fish:
  $ hpkg completion fish | source

  # To load completions for each session, execute once:
  $ hpkg completion fish > ~/.config/fish/completions/hpkg.fish

PowerShell:
  PS> hpkg completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(exactArgs(1), onlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			shell := args[0]
			out := cmd.OutOrStdout()

			var err error
			switch shell {
			case "bash":
				err = cmd.Root().GenBashCompletionV2(out, true)
			case "zsh":
				err = cmd.Root().GenZshCompletion(out)
			case "fish":
				err = cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				err = cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			if err != nil {
				ui.PrintError("failed to generate %s completion: %v", shell, err)
				return err
			}

			log.Debug().Str("shell", shell).Msg("generated shell completion")
			return nil
		},
	}

	return cmd
}
