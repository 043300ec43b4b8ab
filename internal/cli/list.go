package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list [<pattern>]",
	Short: "List packages",
	Long: `List available or installed packages whose name matches a glob pattern.

Examples:
  apkdb list                 All available packages
  apkdb list --installed     Installed packages
  apkdb list 'py3-*'         Available packages starting with py3-`,
	Args: cobra.MaximumNArgs(1),
	Run:  runList,
}

var (
	listInstalled bool
	listAvailable bool
	listUpgrades  bool
)

func init() {
	listCmd.Flags().BoolVarP(&listInstalled, "installed", "I", false, "List installed packages")
	listCmd.Flags().BoolVarP(&listAvailable, "available", "a", false, "List available packages (default)")
	listCmd.Flags().BoolVarP(&listUpgrades, "upgradable", "u", false, "List installed packages with a newer version available")
	listCmd.MarkFlagsMutuallyExclusive("installed", "available")
}

func runList(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	pattern := ""
	if len(args) == 1 {
		pattern = args[0]
	}

	pkgs, err := c.DB.Query(pattern, listInstalled || listUpgrades)
	if err != nil {
		exitError("%v", err)
	}

	installed := make(map[string]string)
	if !listInstalled {
		inst, err := c.DB.InstalledPackages()
		if err != nil {
			exitError("%v", err)
		}
		for _, p := range inst {
			installed[p.Name] = p.Version
		}
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	faint := color.New(color.Faint)

	for _, p := range pkgs {
		if listUpgrades {
			info, err := c.DB.Info(p.Name)
			if err != nil || !info.Upgradeable {
				continue
			}
			fmt.Printf("%s ", p.ID())
			yellow.Printf("[upgradable to %s]\n", info.Available[0].Version)
			continue
		}

		fmt.Printf("%s ", p.ID())
		faint.Printf("%s ", humanize.IBytes(p.InstalledSize))
		switch v, ok := installed[p.Name]; {
		case listInstalled:
			green.Println("[installed]")
		case ok && v == p.Version:
			green.Println("[installed]")
		default:
			fmt.Println()
		}
	}
}
