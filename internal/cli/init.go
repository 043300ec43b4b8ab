package cli

import (
	"fmt"

	"github.com/kilupskalvis/apkdb/internal/config"
	"github.com/kilupskalvis/apkdb/internal/core"
	"github.com/kilupskalvis/apkdb/internal/models"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a package database",
	Long: `Initialize a package database under the root directory.
This writes the default configuration, creates the database and cache
directories and an empty repositories file.`,
	Args: cobra.NoArgs,
	Run:  runInit,
}

var initArch string

func init() {
	initCmd.Flags().StringVar(&initArch, "arch", config.DefaultArch, "Package architecture")
}

func runInit(cmd *cobra.Command, args []string) {
	root := config.ResolveRoot(rootFlag)

	fmt.Printf("Initializing package database in %s...\n", root)
	cfg, err := config.Initialize(root, initArch)
	if err != nil {
		exitError("failed to initialize config: %v", err)
	}

	db := core.New(core.WithRoot(root), core.WithLogger(newLogger(root)))
	if err := db.Open(models.OpenReadWrite); err != nil {
		exitError("failed to create database: %v", err)
	}
	defer db.Close()

	fmt.Printf("Architecture: %s\n", cfg.Arch)
	fmt.Printf("Repositories: %s\n", cfg.RepositoriesPath())
	fmt.Printf("\nAdd repositories and run 'apkdb update' to fetch their indexes.\n")
}
