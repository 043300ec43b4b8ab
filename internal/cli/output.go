package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/kilupskalvis/apkdb/internal/apkerr"
	"github.com/kilupskalvis/apkdb/internal/commit"
	"github.com/kilupskalvis/apkdb/internal/models"
	"github.com/kilupskalvis/apkdb/internal/txn"
)

// waitTransaction renders the progress of tx on stderr and returns its error.
func waitTransaction(ctx context.Context, tx *txn.Transaction, quiet bool) error {
	shown := false
	for p := range tx.Progress() {
		if quiet || p.Total == 0 {
			continue
		}
		fmt.Fprintf(os.Stderr, "\r(%d/%d) %3.0f%%", p.Done, p.Total, p.Percent())
		shown = true
	}
	if shown {
		fmt.Fprintln(os.Stderr)
	}
	return tx.Wait(ctx)
}

// printChangeset prints the planned or applied changes.
func printChangeset(cs *models.Changeset, simulate bool) {
	if cs == nil {
		return
	}
	if cs.IsEmpty() {
		fmt.Println("OK: nothing to do")
		return
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)

	var sizeDelta int64
	items := append(append([]models.ChangesetItem{}, cs.Changes...), cs.Reinstalls...)
	for i, item := range items {
		fmt.Printf("(%d/%d) ", i+1, len(items))
		switch commit.Action(item) {
		case "install":
			green.Printf("Installing %s (%s)\n", item.NewPackage.Name, item.NewPackage.Version)
			sizeDelta += int64(item.NewPackage.InstalledSize)
		case "remove":
			red.Printf("Purging %s (%s)\n", item.OldPackage.Name, item.OldPackage.Version)
			sizeDelta -= int64(item.OldPackage.InstalledSize)
		case "reinstall":
			cyan.Printf("Reinstalling %s (%s)\n", item.NewPackage.Name, item.NewPackage.Version)
		default:
			yellow.Printf("Upgrading %s (%s -> %s)\n", item.NewPackage.Name, item.OldPackage.Version, item.NewPackage.Version)
			sizeDelta += int64(item.NewPackage.InstalledSize) - int64(item.OldPackage.InstalledSize)
		}
	}

	verb := "OK"
	if simulate {
		verb = "Simulated"
	}
	fmt.Printf("%s: %d installed, %d removed, %d upgraded", verb, cs.NumInstall, cs.NumRemove, cs.NumAdjust)
	if sizeDelta != 0 {
		sign := "+"
		if sizeDelta < 0 {
			sign, sizeDelta = "-", -sizeDelta
		}
		fmt.Printf(", %s%s", sign, humanize.IBytes(uint64(sizeDelta)))
	}
	fmt.Println()
}

// describeError adds the hints the typed engine errors carry.
func describeError(err error) string {
	var ce *apkerr.CommitError
	if errors.As(err, &ce) {
		return fmt.Sprintf("%v\nThe changes listed above were applied; the world was left unchanged.", err)
	}
	var mt *apkerr.MissingRepoTagsError
	if errors.As(err, &mt) {
		return fmt.Sprintf("%v (check the @tag prefixes in the repositories file)", err)
	}
	if errors.Is(err, apkerr.ErrBusy) {
		return fmt.Sprintf("%v, try again later", err)
	}
	return err.Error()
}
