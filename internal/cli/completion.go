package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/matzehuels/eqrender/pkg/template"
)

// completionCommand creates the completion command. Output goes to the
// command's writer so scripts can be captured in tests.
func (c *CLI) completionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate a completion script for eqrender's commands and flags.

Bash (current shell, then persist):
  $ source <(eqrender completion bash)
  $ eqrender completion bash > ~/.local/share/bash-completion/completions/eqrender

Zsh (requires compinit):
  $ eqrender completion zsh > "${fpath[1]}/_eqrender"

Fish:
  $ eqrender completion fish > ~/.config/fish/completions/eqrender.fish

PowerShell:
  PS> eqrender completion powershell | Out-String | Invoke-Expression

Template names for --template are completed from the templates directory.`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(cmd.OutOrStdout())
			case "zsh":
				return cmd.Root().GenZshCompletion(cmd.OutOrStdout())
			case "fish":
				return cmd.Root().GenFishCompletion(cmd.OutOrStdout(), true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(cmd.OutOrStdout())
			}
			return nil
		},
	}

	return cmd
}

// completeTemplates offers the templates found in the configured templates
// directory as values for --template.
func completeTemplates(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := configFromContext(ctx)
	names, err := template.List(cfg.Resolve(cfg.TemplatesDir))
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}
