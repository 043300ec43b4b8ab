package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kilupskalvis/apkdb/internal/apkerr"
	"github.com/kilupskalvis/apkdb/internal/models"
	"github.com/kilupskalvis/apkdb/internal/state"
	"github.com/kilupskalvis/apkdb/internal/trust"
)

// Add requires spec in the world and commits the resulting changeset. spec is
// a name spec or the path of a package archive.
func (d *Database) Add(ctx context.Context, spec string, opts models.AddOptions) (*models.Changeset, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.mutable(opts.Simulate); err != nil {
		return nil, err
	}

	if IsSideloadSpec(spec) {
		return d.addLocal(ctx, spec, opts)
	}
	dep, err := d.resolveName(spec)
	if err != nil {
		return nil, err
	}

	scratch := d.world.Clone()
	scratch.Add(dep)
	return d.apply(ctx, d.idx, scratch, opts.Solver, opts.Simulate)
}

// addLocal solves against a copy of the index holding the sideloaded
// package. The package joins the real index once it is installed.
func (d *Database) addLocal(ctx context.Context, spec string, opts models.AddOptions) (*models.Changeset, error) {
	pkg, data, err := d.sideload(ctx, spec, opts)
	if err != nil {
		return nil, err
	}

	idx := d.idx.Clone()
	local := idx.AddLocal(pkg)
	if p, ok := d.installer.(Preloader); ok && !opts.Simulate {
		p.Preload(local, data)
		defer p.Unload(local)
	}
	d.logger.Info("sideloading package", "path", spec, "package", local.ID())

	scratch := d.world.Clone()
	scratch.Add(models.Dependency{Name: local.Name, Op: models.OpEqual, Version: local.Version})

	cs, err := d.apply(ctx, idx, scratch, opts.Solver, opts.Simulate)
	if opts.Simulate {
		return cs, err
	}
	if got := d.installed.Get(local.Name); got != nil && got.Version == local.Version && got.Repo == state.LocalSlot {
		d.idx = idx
		if perr := d.st.PutLocal(local); perr != nil {
			return cs, errors.Join(err, fmt.Errorf("record sideloaded package: %w", perr))
		}
	}
	return cs, err
}

// Del stops requiring the named package and commits the resulting changeset.
// With DelRdepends the installed packages depending on it go too.
func (d *Database) Del(ctx context.Context, spec string, flags models.DelFlags) (*models.Changeset, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	simulate := flags&models.DelSimulate != 0
	if err := d.mutable(simulate); err != nil {
		return nil, err
	}

	dep, err := ParseNameSpec(spec)
	if err != nil {
		return nil, err
	}
	scratch, err := PlanDelete(d.world, d.installed, d.idx.Names(), dep.Name, flags&models.DelRdepends != 0, d.cmp)
	if err != nil {
		return nil, err
	}
	return d.apply(ctx, d.idx, scratch, 0, simulate)
}

// Upgrade moves installed packages to the preferred available versions.
func (d *Database) Upgrade(ctx context.Context, flags models.UpgradeFlags) (*models.Changeset, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	simulate := flags&models.UpgradeSimulate != 0
	if err := d.mutable(simulate); err != nil {
		return nil, err
	}

	scratch, sflags := d.upgradePlan(flags)
	return d.apply(ctx, d.idx, scratch, sflags, simulate)
}

// UpgradeablePackagesCount returns how many packages an upgrade would install
// or change. Removals are not counted; a failed solve counts as zero.
func (d *Database) UpgradeablePackagesCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.readable() != nil {
		return 0
	}

	scratch, sflags := d.upgradePlan(models.UpgradeDefault)
	cs, err := d.solver.Solve(d.idx, d.installed, scratch, sflags)
	if err != nil {
		d.logger.Debug("upgrade simulation failed", "error", err)
		return 0
	}
	return cs.NumInstall + cs.NumAdjust
}

func (d *Database) upgradePlan(flags models.UpgradeFlags) (*state.World, models.SolverFlags) {
	sflags := models.SolverUpgrade
	scratch := d.world.Clone()
	if flags&models.UpgradeAvailable != 0 {
		sflags |= models.SolverAvailable
		scratch = d.world.Unpinned()
	}
	if flags&models.UpgradeLatest != 0 {
		sflags |= models.SolverLatest
	}
	return scratch, sflags
}

// mutable checks that a mutation may run. Simulations only need an open
// database.
func (d *Database) mutable(simulate bool) error {
	if simulate {
		return d.readable()
	}
	return d.writable()
}

// resolveName parses spec and checks that something provides the name.
func (d *Database) resolveName(spec string) (models.Dependency, error) {
	dep, err := ParseNameSpec(spec)
	if err != nil {
		return dep, err
	}
	if !dep.Conflict && !d.idx.Names().Has(dep.Name) && len(d.installed.Providers(dep.Name)) == 0 {
		return dep, &apkerr.NotFoundError{Name: dep.Name}
	}
	return dep, nil
}

// sideload checks the policy, then reads and verifies a package archive.
func (d *Database) sideload(ctx context.Context, spec string, opts models.AddOptions) (*models.Package, []byte, error) {
	force := opts.ForceNonRepository || d.cfg.ForceNonRepository
	if !AllowNonRepositoryInstall(force, d.cacheActive, !d.cfg.Ephemeral) {
		return nil, nil, nonRepositoryPolicyError(spec)
	}

	data, err := os.ReadFile(spec)
	if err != nil {
		return nil, nil, apkerr.NewFetchError(spec, err)
	}

	vctx := ctx
	if opts.AllowUntrusted {
		vctx = trust.AllowUntrusted(ctx)
	}
	meta, err := d.verifier.Verify(vctx, data)
	if err != nil {
		return nil, nil, apkerr.NewTrustError(spec, err)
	}
	d.logger.Debug("verified archive", "path", spec, "signed", meta.Signed, "key", meta.KeyName)

	pkg := *meta.Package
	pkg.Filename = filepath.Base(spec)
	if pkg.Arch == "" {
		pkg.Arch = d.cfg.Arch
	}
	return &pkg, data, nil
}

// apply solves scratch and, unless simulating, commits the changeset. The
// world is replaced by scratch only when every change applied; the installed
// set always reflects what was applied.
func (d *Database) apply(ctx context.Context, idx *state.Index, scratch *state.World, flags models.SolverFlags, simulate bool) (*models.Changeset, error) {
	cs, err := d.solver.Solve(idx, d.installed, scratch, flags)
	if err != nil {
		d.logger.Warn("solve failed", "error", err)
		return nil, err
	}
	if simulate {
		return cs, nil
	}

	if cs.IsEmpty() {
		if !scratch.Equal(d.world) {
			if err := d.st.SaveState(scratch, d.installed); err != nil {
				return cs, fmt.Errorf("save state: %w", err)
			}
			d.world = scratch
		}
		return cs, nil
	}

	installed := d.installed.Clone()
	commitErr := d.committer.Commit(ctx, cs, installed, d.progress)
	d.installed = installed

	var world *state.World
	if commitErr == nil {
		world = scratch
		d.world = scratch
	}
	if err := d.st.SaveState(world, installed); err != nil {
		return cs, errors.Join(commitErr, fmt.Errorf("save state: %w", err))
	}

	d.logger.Info("changeset committed",
		"installed", cs.NumInstall,
		"removed", cs.NumRemove,
		"adjusted", cs.NumAdjust,
		"reinstalled", len(cs.Reinstalls),
		"ok", commitErr == nil,
	)
	return cs, commitErr
}
