package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show transaction history",
	Long:  `Display the transactions applied to the package database, newest first.`,
	Args:  cobra.NoArgs,
	Run:   runHistory,
}

var (
	historyLimit   int
	historyOneline bool
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "n", "n", 20, "Limit the number of transactions to show (0 = all)")
	historyCmd.Flags().BoolVar(&historyOneline, "oneline", false, "Show each transaction on a single line")
}

func runHistory(cmd *cobra.Command, args []string) {
	c := initWriteContext()
	defer c.Close()

	entries, err := c.DB.History(historyLimit)
	if err != nil {
		exitError("failed to read history: %v", err)
	}
	if len(entries) == 0 {
		fmt.Println("No transactions yet")
		return
	}

	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)
	green := color.New(color.FgGreen)

	for _, e := range entries {
		if historyOneline {
			yellow.Printf("%s ", shortID(e.ID))
			if !e.Succeeded() {
				red.Print("[failed] ")
			}
			fmt.Printf("%s (%s)\n", e.Description, humanize.Time(e.StartedAt))
			continue
		}

		yellow.Printf("transaction %s", e.ID)
		if e.Succeeded() {
			green.Println(" ok")
		} else {
			red.Println(" failed")
		}
		fmt.Printf("Date:     %s (%s)\n", e.StartedAt.Local().Format("Mon Jan 2 15:04:05 2006"), humanize.Time(e.StartedAt))
		fmt.Printf("Duration: %s\n", e.FinishedAt.Sub(e.StartedAt).Round(1e6))
		fmt.Printf("\n    %s\n", e.Description)
		fmt.Printf("    (%d installed, %d removed, %d upgraded, %d failed)\n", e.Installed, e.Removed, e.Adjusted, e.Failed)
		for _, p := range e.Packages {
			fmt.Printf("      %s\n", p)
		}
		if e.Error != "" {
			red.Printf("    %s\n", e.Error)
		}
		fmt.Println()
	}
}
