package cli

import (
	"os"
	"strings"

	"github.com/kilupskalvis/apkdb/internal/config"
	"github.com/kilupskalvis/apkdb/internal/core"
	"github.com/kilupskalvis/apkdb/internal/models"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "completion [bash|zsh|fish]",
		Short: "Generate shell completion script",
		Long: `Generate shell completion script for apkdb.

To load completions:

Bash:
  $ source <(apkdb completion bash)
  # Or add to ~/.bashrc:
  $ echo 'source <(apkdb completion bash)' >> ~/.bashrc

Zsh:
  $ source <(apkdb completion zsh)
  # Or add to ~/.zshrc:
  $ echo 'source <(apkdb completion zsh)' >> ~/.zshrc

Fish:
  $ apkdb completion fish | source
  # Or add to config:
  $ apkdb completion fish > ~/.config/fish/completions/apkdb.fish
`,
		ValidArgs:             []string{"bash", "zsh", "fish"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		DisableFlagsInUseLine: true,
		Run: func(cmd *cobra.Command, args []string) {
			switch args[0] {
			case "bash":
				rootCmd.GenBashCompletion(os.Stdout)
			case "zsh":
				rootCmd.GenZshCompletion(os.Stdout)
			case "fish":
				rootCmd.GenFishCompletion(os.Stdout, true)
			}
		},
	})
}

func completeAvailable(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return completePackages(toComplete, false)
}

func completeInstalled(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return completePackages(toComplete, true)
}

// completePackages lists package names for shell completion. Errors yield no
// suggestions.
func completePackages(prefix string, installedOnly bool) ([]string, cobra.ShellCompDirective) {
	db := core.New(core.WithRoot(config.ResolveRoot(rootFlag)))
	if err := db.Open(models.OpenReadOnly); err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	defer db.Close()

	pkgs, err := db.Query(prefix+"*", installedOnly)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	seen := make(map[string]bool)
	var names []string
	for _, p := range pkgs {
		if !seen[p.Name] && strings.HasPrefix(p.Name, prefix) {
			seen[p.Name] = true
			names = append(names, p.Name)
		}
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}
