package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var worldCmd = &cobra.Command{
	Use:   "world",
	Short: "Show the packages explicitly requested",
	Args:  cobra.NoArgs,
	Run:   runWorld,
}

func runWorld(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	deps, err := c.DB.World()
	if err != nil {
		exitError("%v", err)
	}
	if len(deps) == 0 {
		fmt.Println("World is empty")
		return
	}

	red := color.New(color.FgRed)
	for _, d := range deps {
		if d.Conflict {
			red.Println(d.String())
			continue
		}
		fmt.Println(d.String())
	}
}
