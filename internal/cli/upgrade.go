package cli

import (
	"github.com/kilupskalvis/apkdb/internal/models"
	"github.com/spf13/cobra"
)

var upgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Upgrade installed packages",
	Long: `Upgrade installed packages to the preferred versions of the repository indexes.

Run 'apkdb update' first to refresh the indexes.`,
	Args: cobra.NoArgs,
	Run:  runUpgrade,
}

var (
	upgradeSimulate  bool
	upgradeAvailable bool
	upgradeLatest    bool
)

func init() {
	upgradeCmd.Flags().BoolVarP(&upgradeSimulate, "simulate", "s", false, "Compute the changes without applying them")
	upgradeCmd.Flags().BoolVarP(&upgradeAvailable, "available", "a", false, "Drop version pins and replace packages no repository offers")
	upgradeCmd.Flags().BoolVarP(&upgradeLatest, "latest", "l", false, "Select the latest version of every unpinned package or fail")
}

func runUpgrade(cmd *cobra.Command, args []string) {
	c := initWriteContext()
	defer c.Close()

	ctx, cancel := signalContext()
	defer cancel()

	var flags models.UpgradeFlags
	if upgradeSimulate {
		flags |= models.UpgradeSimulate
	}
	if upgradeAvailable {
		flags |= models.UpgradeAvailable
	}
	if upgradeLatest {
		flags |= models.UpgradeLatest
	}

	tx, err := c.Runner.Upgrade(ctx, flags)
	if err != nil {
		exitError("%s", describeError(err))
	}
	err = waitTransaction(ctx, tx, upgradeSimulate)
	printChangeset(tx.Changeset(), upgradeSimulate)
	if err != nil {
		exitError("%s", describeError(err))
	}
}
