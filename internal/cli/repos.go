package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "Manage repositories",
	Long: `List, enable and disable the repositories of the repositories file.

Disabling a repository comments out its line; the rest of the file is
preserved as written.`,
}

var reposListCmd = &cobra.Command{
	Use:   "list",
	Short: "List repositories",
	Args:  cobra.NoArgs,
	Run:   runReposList,
}

var reposEnableCmd = &cobra.Command{
	Use:   "enable <url>",
	Short: "Enable a repository",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setRepositoryEnabled(args[0], true)
	},
}

var reposDisableCmd = &cobra.Command{
	Use:   "disable <url>",
	Short: "Disable a repository",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setRepositoryEnabled(args[0], false)
	},
}

func init() {
	reposCmd.AddCommand(reposListCmd)
	reposCmd.AddCommand(reposEnableCmd)
	reposCmd.AddCommand(reposDisableCmd)
}

func runReposList(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	repos, err := c.DB.Repositories()
	if err != nil {
		exitError("%v", err)
	}
	if len(repos) == 0 {
		fmt.Println("No repositories configured")
		return
	}

	green := color.New(color.FgGreen)
	faint := color.New(color.Faint)
	cyan := color.New(color.FgCyan)

	for _, r := range repos {
		if r.Enabled {
			green.Print("enabled  ")
		} else {
			faint.Print("disabled ")
		}
		if r.Tag != "" {
			cyan.Printf("@%s ", r.Tag)
		}
		fmt.Println(r.URL)
	}
}

func setRepositoryEnabled(url string, enabled bool) {
	c := initWriteContext()
	defer c.Close()

	if err := c.DB.SetRepositoryEnabled(url, enabled); err != nil {
		exitError("%v", err)
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Printf("Repository %s %s\n", url, state)
	if enabled {
		fmt.Println("Run 'apkdb update' to fetch its index.")
	}
}
