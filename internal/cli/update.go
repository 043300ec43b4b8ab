package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/kilupskalvis/apkdb/internal/models"
	"github.com/spf13/cobra"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Refresh the repository indexes",
	Long: `Download the index of every enabled repository.

A repository that fails does not stop the others; the command fails only
when every repository failed.`,
	Args: cobra.NoArgs,
	Run:  runUpdate,
}

var updateAllowUntrusted bool

func init() {
	updateCmd.Flags().BoolVar(&updateAllowUntrusted, "allow-untrusted", false, "Accept unsigned indexes")
}

func runUpdate(cmd *cobra.Command, args []string) {
	c := initWriteContext()
	defer c.Close()

	ctx, cancel := signalContext()
	defer cancel()

	var flags models.UpdateFlags
	if updateAllowUntrusted {
		flags |= models.UpdateAllowUntrusted
	}

	tx, err := c.Runner.Update(ctx, flags)
	if err != nil {
		exitError("%s", describeError(err))
	}
	err = waitTransaction(ctx, tx, false)

	report := tx.Report()
	if report != nil {
		printRefreshReport(report)
	}
	if err != nil {
		exitError("%s", describeError(err))
	}
	if n := c.DB.UpgradeablePackagesCount(); n > 0 {
		fmt.Printf("%d packages can be upgraded, run 'apkdb upgrade'\n", n)
	}
}

func printRefreshReport(report *models.RefreshReport) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	faint := color.New(color.Faint)

	for _, r := range report.Repos {
		name := r.URL
		if r.Tag != "" {
			name = "@" + r.Tag + " " + name
		}
		switch r.Status {
		case models.RepoUpdated:
			green.Printf("fetched   ")
			fmt.Printf("%s (%d packages)\n", name, r.Packages)
		case models.RepoUpToDate:
			faint.Printf("unchanged ")
			fmt.Printf("%s (%d packages)\n", name, r.Packages)
		default:
			red.Printf("failed    ")
			fmt.Printf("%s: %s\n", name, r.Reason)
		}
	}

	if report.Success() {
		fmt.Printf("OK: %d distinct packages available\n", report.Available)
	} else {
		fmt.Printf("%d errors; %d distinct packages available\n", report.Errors, report.Available)
	}
}
