package main

import (
	"github.com/lithammer/dedent"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate completion script",
	Long: dedent.Dedent(`
		Print a shell completion script for labctl.

		Bash:
		  $ source <(labctl completion bash)
		  $ labctl completion bash > /etc/bash_completion.d/labctl

		Zsh (needs "autoload -U compinit; compinit" in ~/.zshrc):
		  $ labctl completion zsh > "${fpath[1]}/_labctl"

		Fish:
		  $ labctl completion fish > ~/.config/fish/completions/labctl.fish
	`),
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletion(out)
		case "zsh":
			return cmd.Root().GenZshCompletion(out)
		case "fish":
			return cmd.Root().GenFishCompletion(out, true)
		case "powershell":
			return cmd.Root().GenPowerShellCompletion(out)
		default:
			return errors.Errorf("autocompletion for %s not supported", args[0])
		}
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}
