package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a summary of the package database",
	Args:  cobra.NoArgs,
	Run:   runStatus,
}

func runStatus(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	s, err := c.DB.Stats()
	if err != nil {
		exitError("%v", err)
	}

	fmt.Printf("Root: %s\n", c.DB.Root())
	fmt.Printf("World: %d packages\n", s.World)
	fmt.Printf("Installed: %d packages\n", s.Installed)
	fmt.Printf("Available: %d packages from %d repositories\n", s.Available, s.Repos)
	if s.Upgradable > 0 {
		color.New(color.FgYellow).Printf("%d packages can be upgraded\n", s.Upgradable)
	}
}
