package cli

import (
	"github.com/kilupskalvis/apkdb/internal/models"
	"github.com/spf13/cobra"
)

var delCmd = &cobra.Command{
	Use:     "del <name>...",
	Aliases: []string{"delete", "remove"},
	Short:   "Remove packages from the world",
	Long: `Remove packages from the world and uninstall what is no longer needed.

With --rdepends the installed packages that depend on a removed package are
dropped from the world too.`,
	Args:              cobra.MinimumNArgs(1),
	ValidArgsFunction: completeInstalled,
	Run:               runDel,
}

var (
	delRdepends bool
	delSimulate bool
)

func init() {
	delCmd.Flags().BoolVarP(&delRdepends, "rdepends", "r", false, "Also remove packages that depend on the named ones")
	delCmd.Flags().BoolVarP(&delSimulate, "simulate", "s", false, "Compute the changes without applying them")
}

func runDel(cmd *cobra.Command, args []string) {
	c := initWriteContext()
	defer c.Close()

	ctx, cancel := signalContext()
	defer cancel()

	var flags models.DelFlags
	if delRdepends {
		flags |= models.DelRdepends
	}
	if delSimulate {
		flags |= models.DelSimulate
	}

	for _, name := range args {
		tx, err := c.Runner.Del(ctx, name, flags)
		if err != nil {
			exitError("%s", describeError(err))
		}
		err = waitTransaction(ctx, tx, delSimulate)
		printChangeset(tx.Changeset(), delSimulate)
		if err != nil {
			exitError("%s: %s", name, describeError(err))
		}
	}
}
