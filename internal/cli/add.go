package cli

import (
	"fmt"

	"github.com/kilupskalvis/apkdb/internal/models"
	"github.com/spf13/cobra"
)

var addCmd = &cobra.Command{
	Use:   "add <spec>...",
	Short: "Add packages to the world and install them",
	Long: `Add packages to the world and commit the resulting changes.

A spec is a package name with an optional repository tag and version
constraint, or the path of a package archive.

Examples:
  apkdb add curl                    Install curl
  apkdb add 'foo@community>=1.2.3'  Install foo from the tagged repository
  apkdb add --simulate busybox      Show what would change
  apkdb add ./local-1.0-r0.apk      Install a package archive`,
	Args:              cobra.MinimumNArgs(1),
	ValidArgsFunction: completeAvailable,
	Run:               runAdd,
}

var (
	addSimulate       bool
	addUpgrade        bool
	addLatest         bool
	addReinstall      bool
	addForceNonRepo   bool
	addAllowUntrusted bool
)

func init() {
	addCmd.Flags().BoolVarP(&addSimulate, "simulate", "s", false, "Compute the changes without applying them")
	addCmd.Flags().BoolVarP(&addUpgrade, "upgrade", "u", false, "Prefer upgrading packages that are already installed")
	addCmd.Flags().BoolVarP(&addLatest, "latest", "l", false, "Select the latest version or fail")
	addCmd.Flags().BoolVar(&addReinstall, "reinstall", false, "Reinstall packages that are already satisfied")
	addCmd.Flags().BoolVar(&addForceNonRepo, "force-non-repository", false, "Allow package archives that would be lost on reboot")
	addCmd.Flags().BoolVar(&addAllowUntrusted, "allow-untrusted", false, "Accept unsigned package archives")
}

func runAdd(cmd *cobra.Command, args []string) {
	c := initWriteContext()
	defer c.Close()

	ctx, cancel := signalContext()
	defer cancel()

	opts := models.AddOptions{
		Simulate:           addSimulate,
		ForceNonRepository: addForceNonRepo,
		AllowUntrusted:     addAllowUntrusted,
	}
	if addUpgrade {
		opts.Solver |= models.SolverUpgrade
	}
	if addLatest {
		opts.Solver |= models.SolverLatest
	}
	if addReinstall {
		opts.Solver |= models.SolverReinstall
	}

	for _, spec := range args {
		tx, err := c.Runner.Add(ctx, spec, opts)
		if err != nil {
			exitError("%s", describeError(err))
		}
		err = waitTransaction(ctx, tx, addSimulate)
		printChangeset(tx.Changeset(), addSimulate)
		if err != nil {
			exitError("%s: %s", spec, describeError(err))
		}
	}

	if !addSimulate {
		if n := c.DB.UpgradeablePackagesCount(); n > 0 {
			fmt.Printf("%d packages can be upgraded, run 'apkdb upgrade'\n", n)
		}
	}
}
