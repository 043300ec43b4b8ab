package cli

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Maintain the package archive cache",
}

var cacheCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove cached archives no installed package uses",
	Args:  cobra.NoArgs,
	Run:   runCacheClean,
}

func init() {
	cacheCmd.AddCommand(cacheCleanCmd)
}

func runCacheClean(cmd *cobra.Command, args []string) {
	c := initWriteContext()
	defer c.Close()

	result, err := c.DB.CleanCache(context.Background())
	if err != nil {
		exitError("failed to clean cache: %v", err)
	}

	fmt.Printf("Scanned %d archives, kept %d\n", result.Scanned, result.Referenced)
	fmt.Printf("Removed %d archives, freed %s\n", result.Deleted, humanize.IBytes(uint64(result.FreedBytes)))
}
