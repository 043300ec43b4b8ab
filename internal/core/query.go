package core

import (
	"context"
	"fmt"
	"sort"

	"github.com/gobwas/glob"
	"github.com/kilupskalvis/apkdb/internal/apkerr"
	"github.com/kilupskalvis/apkdb/internal/cache"
	"github.com/kilupskalvis/apkdb/internal/config"
	"github.com/kilupskalvis/apkdb/internal/models"
	"github.com/kilupskalvis/apkdb/internal/store"
)

// PackageInfo describes a package name: what is installed and what the
// repositories offer.
type PackageInfo struct {
	Name        string
	Installed   *models.Package
	Available   []*models.Package
	RequiredBy  []string
	InWorld     bool
	WorldEntry  models.Dependency
	Upgradeable bool
}

// World returns the world constraints in order.
func (d *Database) World() ([]models.Dependency, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.readable(); err != nil {
		return nil, err
	}
	return d.world.Dependencies(), nil
}

// InstalledPackages returns the installed packages sorted by name.
func (d *Database) InstalledPackages() ([]*models.Package, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.readable(); err != nil {
		return nil, err
	}
	return d.installed.Packages(), nil
}

// AvailablePackages returns every package of every index slot.
func (d *Database) AvailablePackages() ([]*models.Package, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.readable(); err != nil {
		return nil, err
	}
	return d.idx.Packages(), nil
}

// Query returns installed or available packages whose name matches the glob
// pattern. An empty pattern matches everything.
func (d *Database) Query(pattern string, installedOnly bool) ([]*models.Package, error) {
	var g glob.Glob
	if pattern != "" {
		var err error
		if g, err = glob.Compile(pattern); err != nil {
			return nil, &apkerr.ParseError{Input: pattern, Reason: err.Error()}
		}
	}

	var pkgs []*models.Package
	var err error
	if installedOnly {
		pkgs, err = d.InstalledPackages()
	} else {
		pkgs, err = d.AvailablePackages()
	}
	if err != nil {
		return nil, err
	}

	var out []*models.Package
	for _, p := range pkgs {
		if g == nil || g.Match(p.Name) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return d.cmp.Compare(out[i].Version, out[j].Version) > 0
	})
	return out, nil
}

// Info returns what is known about the named package.
func (d *Database) Info(name string) (*PackageInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.readable(); err != nil {
		return nil, err
	}

	info := &PackageInfo{Name: name, Installed: d.installed.Get(name)}
	for _, p := range d.idx.Providers(name) {
		if p.Name == name {
			info.Available = append(info.Available, p)
		}
	}
	sort.SliceStable(info.Available, func(i, j int) bool {
		return d.cmp.Compare(info.Available[i].Version, info.Available[j].Version) > 0
	})
	info.WorldEntry, info.InWorld = d.world.Get(name)

	if info.Installed == nil && len(info.Available) == 0 && !info.InWorld {
		return nil, &apkerr.NotFoundError{Name: name}
	}
	if info.Installed != nil {
		for _, p := range d.installed.ReverseDependencies(d.cmp, info.Installed) {
			info.RequiredBy = append(info.RequiredBy, p.Name)
		}
		if len(info.Available) > 0 {
			info.Upgradeable = d.cmp.Compare(info.Available[0].Version, info.Installed.Version) > 0
		}
	}
	return info, nil
}

// Repositories returns every repository of the repositories file, enabled
// or not, in file order.
func (d *Database) Repositories() ([]models.Repository, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.readable(); err != nil {
		return nil, err
	}
	return d.repos.List(), nil
}

// SetRepositoryEnabled enables or disables a repository in the repositories
// file and reloads the index from the cached repository indexes.
func (d *Database) SetRepositoryEnabled(url string, enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writable(); err != nil {
		return err
	}
	if err := d.repos.SetEnabled(url, enabled); err != nil {
		return err
	}
	if err := config.SaveRepositories(d.root, d.repos); err != nil {
		return err
	}
	d.logger.Info("repository toggled", "repo", url, "enabled", enabled)
	return d.loadIndex()
}

// CleanCache removes cached archives no installed package refers to.
func (d *Database) CleanCache(ctx context.Context) (*cache.CleanResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writable(); err != nil {
		return nil, err
	}
	refs, ok := d.installer.(cache.Referencer)
	if d.cache == nil || !ok {
		return nil, fmt.Errorf("package cache is not managed by this database")
	}
	return cache.Clean(ctx, d.cache, refs, d.logger)
}

// History returns the most recent transactions, newest first.
func (d *Database) History(limit int) ([]*store.HistoryEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.readable(); err != nil {
		return nil, err
	}
	if d.history == nil {
		return nil, nil
	}
	return d.history.List(limit)
}

// RecordHistory appends a finished transaction to the history log. It is a
// no-op on a read-only database.
func (d *Database) RecordHistory(e *store.HistoryEntry) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.history == nil {
		return nil
	}
	return d.history.Record(e)
}

// Stats is a point-in-time summary of the database.
type Stats struct {
	Installed  int
	Available  int
	World      int
	Repos      int
	Upgradable int
}

// Stats returns counts of the loaded state.
func (d *Database) Stats() (Stats, error) {
	d.mu.RLock()
	if err := d.readable(); err != nil {
		d.mu.RUnlock()
		return Stats{}, err
	}
	s := Stats{
		Installed: d.installed.Len(),
		Available: d.idx.Count(),
		World:     d.world.Len(),
		Repos:     len(d.repos.Enabled()),
	}
	d.mu.RUnlock()
	s.Upgradable = d.UpgradeablePackagesCount()
	return s, nil
}
