// Package commit applies a changeset to the installed set through a
// PackageInstaller. Items are applied in order; a failed item does not stop
// independent items and nothing is rolled back.
package commit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kilupskalvis/apkdb/internal/apkerr"
	"github.com/kilupskalvis/apkdb/internal/models"
	"github.com/kilupskalvis/apkdb/internal/state"
	"github.com/kilupskalvis/apkdb/internal/version"
)

// PackageInstaller performs the filesystem side of a change.
type PackageInstaller interface {
	// Install installs pkg, replacing an installed version of the same name.
	Install(ctx context.Context, pkg *models.Package) error
	// Remove uninstalls pkg.
	Remove(ctx context.Context, pkg *models.Package) error
}

// Committer applies changesets.
type Committer struct {
	installer PackageInstaller
	cmp       version.Comparator
	logger    *slog.Logger
}

// New creates a Committer.
func New(installer PackageInstaller, cmp version.Comparator, logger *slog.Logger) *Committer {
	if cmp == nil {
		cmp = version.APK{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Committer{installer: installer, cmp: cmp, logger: logger}
}

// Action names the kind of change an item performs.
func Action(item models.ChangesetItem) string {
	switch {
	case item.Reinstall:
		return "reinstall"
	case item.IsInstall():
		return "install"
	case item.IsRemove():
		return "remove"
	}
	return "upgrade"
}

// commitRun is the state of one Commit call.
type commitRun struct {
	*Committer
	installed *state.Installed
	items     []models.ChangesetItem
	failedNew []*models.Package
	failures  []apkerr.Failure
}

// Commit applies cs.Changes then cs.Reinstalls, mutating installed as items
// succeed. Progress is reported after every item. Cancellation is honored
// between items; items not attempted are reported as canceled. The returned
// error is nil only when every item applied, otherwise *apkerr.CommitError.
func (c *Committer) Commit(ctx context.Context, cs *models.Changeset, installed *state.Installed, progress models.ProgressFunc) error {
	run := &commitRun{
		Committer: c,
		installed: installed,
		items:     make([]models.ChangesetItem, 0, cs.Total()),
	}
	run.items = append(run.items, cs.Changes...)
	run.items = append(run.items, cs.Reinstalls...)
	total := uint64(len(run.items))

	for i, item := range run.items {
		if err := ctx.Err(); err != nil {
			for _, rest := range run.items[i:] {
				run.fail(rest, apkerr.FailureCanceled, err)
			}
			c.logger.Warn("commit canceled", "applied", i, "total", total)
			break
		}

		run.apply(ctx, i, item)
		if progress != nil {
			progress(models.Progress{Done: uint64(i + 1), Total: total})
		}
	}

	if len(run.failures) > 0 {
		return &apkerr.CommitError{Total: int(total), Failures: run.failures}
	}
	return nil
}

func (r *commitRun) apply(ctx context.Context, i int, item models.ChangesetItem) {
	action := Action(item)

	if item.NewPackage != nil {
		if reason := r.blocked(item.NewPackage); reason != "" {
			r.fail(item, apkerr.FailureSkipped, errors.New(reason))
			r.failedNew = append(r.failedNew, item.NewPackage)
			return
		}
		if err := r.installer.Install(ctx, item.NewPackage); err != nil {
			r.fail(item, apkerr.FailureError, &apkerr.InstallError{
				Name: item.NewPackage.Name, Version: item.NewPackage.Version, Op: action, Err: err,
			})
			r.failedNew = append(r.failedNew, item.NewPackage)
			return
		}
		r.installed.Set(item.NewPackage)
		r.logger.Debug("applied", "action", action, "package", item.NewPackage.ID())
		return
	}

	old := item.OldPackage
	if reason := r.stillRequired(i, old); reason != "" {
		r.fail(item, apkerr.FailureSkipped, errors.New(reason))
		return
	}
	if err := r.installer.Remove(ctx, old); err != nil {
		r.fail(item, apkerr.FailureError, &apkerr.InstallError{
			Name: old.Name, Version: old.Version, Op: action, Err: err,
		})
		return
	}
	r.installed.Remove(old.Name)
	r.logger.Debug("applied", "action", action, "package", old.ID())
}

func (r *commitRun) fail(item models.ChangesetItem, kind apkerr.FailureKind, err error) {
	p := item.NewPackage
	if p == nil {
		p = item.OldPackage
	}
	r.failures = append(r.failures, apkerr.Failure{
		Name:    p.Name,
		Version: p.Version,
		Action:  Action(item),
		Kind:    kind,
		Err:     err,
	})
	r.logger.Warn("change failed", "action", Action(item), "package", p.ID(), "kind", kind, "error", err)
}

// blocked returns why pkg can not be installed: one of its dependencies was
// to be provided by a failed item and nothing installed satisfies it.
func (r *commitRun) blocked(pkg *models.Package) string {
	for _, d := range pkg.Depends {
		if d.Conflict || r.installed.Satisfied(r.cmp, d) {
			continue
		}
		for _, f := range r.failedNew {
			if version.PackageSatisfies(r.cmp, f, d) {
				return fmt.Sprintf("dependency %s was not installed (%s failed)", d, f.ID())
			}
		}
	}
	return ""
}

// stillRequired returns why the removal at position i must be skipped: a
// surviving installed package depends on old and the planned replacement
// failed.
func (r *commitRun) stillRequired(i int, old *models.Package) string {
	if len(r.failedNew) == 0 {
		return ""
	}
	pendingRemoval := make(map[string]struct{})
	for _, later := range r.items[i+1:] {
		if later.IsRemove() {
			pendingRemoval[later.OldPackage.Name] = struct{}{}
		}
	}

	for _, dependent := range r.installed.ReverseDependencies(r.cmp, old) {
		if _, going := pendingRemoval[dependent.Name]; going {
			continue
		}
		for _, d := range dependent.Depends {
			if d.Conflict || !version.PackageSatisfies(r.cmp, old, d) {
				continue
			}
			if r.replacementPlanned(i, old, d, pendingRemoval) {
				continue
			}
			return fmt.Sprintf("still required by %s (%s)", dependent.ID(), d)
		}
	}
	return ""
}

// replacementPlanned reports whether something other than old will satisfy d
// once the changeset completes, ignoring failed items.
func (r *commitRun) replacementPlanned(i int, old *models.Package, d models.Dependency, pendingRemoval map[string]struct{}) bool {
	for _, p := range r.installed.Providers(d.Name) {
		if p.Name == old.Name {
			continue
		}
		if _, going := pendingRemoval[p.Name]; going {
			continue
		}
		if version.PackageSatisfies(r.cmp, p, d) {
			return true
		}
	}
	for _, later := range r.items[i+1:] {
		if later.NewPackage != nil && version.PackageSatisfies(r.cmp, later.NewPackage, d) {
			return true
		}
	}
	return false
}
