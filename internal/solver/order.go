package solver

import (
	"sort"

	"github.com/kilupskalvis/apkdb/internal/models"
	"github.com/kilupskalvis/apkdb/internal/version"
)

// changeset turns a settled round into ordered changeset items: removals of
// packages the new set conflicts with, then installs and upgrades with
// dependencies first, then the remaining removals with dependents first.
func (c *solveContext) changeset(r *round) *models.Changeset {
	target := r.byName

	var changing []string
	for _, name := range sortedKeys(target) {
		old := c.installed.Get(name)
		if old == nil || old.Version != target[name].Version {
			changing = append(changing, name)
		}
	}

	var removed []*models.Package
	for _, p := range c.installed.Packages() {
		if _, keep := target[p.Name]; !keep {
			removed = append(removed, p)
		}
	}

	var conflicting, plain []*models.Package
	for _, p := range removed {
		if c.conflictsWithTarget(p, r) {
			conflicting = append(conflicting, p)
		} else {
			plain = append(plain, p)
		}
	}

	var items []models.ChangesetItem
	for _, p := range conflicting {
		items = append(items, models.ChangesetItem{OldPackage: p})
	}

	changeSet := make(map[string]struct{}, len(changing))
	for _, name := range changing {
		changeSet[name] = struct{}{}
	}
	for _, p := range c.installOrder(r) {
		if _, ok := changeSet[p.Name]; !ok {
			continue
		}
		items = append(items, models.ChangesetItem{OldPackage: c.installed.Get(p.Name), NewPackage: p})
	}

	for _, p := range removalOrder(c.cmp, plain) {
		items = append(items, models.ChangesetItem{OldPackage: p})
	}

	cs := models.NewChangeset(items)

	if c.flags.Has(models.SolverReinstall) {
		for _, d := range c.world.Dependencies() {
			if d.Conflict {
				continue
			}
			p := r.sel[d.Name]
			if p == nil {
				continue
			}
			old := c.installed.Get(p.Name)
			if old == nil || old.Version != p.Version {
				continue
			}
			cs.Reinstalls = append(cs.Reinstalls, models.ChangesetItem{OldPackage: old, NewPackage: p, Reinstall: true})
		}
	}

	c.logger.Debug("solver changeset",
		"install", cs.NumInstall,
		"remove", cs.NumRemove,
		"adjust", cs.NumAdjust,
		"reinstall", len(cs.Reinstalls),
	)
	return cs
}

// conflictsWithTarget reports whether an installed package must go before
// the new set can be installed.
func (c *solveContext) conflictsWithTarget(old *models.Package, r *round) bool {
	for _, f := range r.forbidden {
		if conflictMatches(c.cmp, old, f.dep) {
			return true
		}
	}
	for _, d := range old.Depends {
		if !d.Conflict {
			continue
		}
		for _, p := range r.byName {
			if conflictMatches(c.cmp, p, d) {
				return true
			}
		}
	}
	// another package takes over a name the old one provided
	for _, prov := range old.Provides {
		if p := r.sel[prov.Name]; p != nil && p.Name != old.Name {
			return true
		}
	}
	return false
}

// installOrder returns the target packages dependencies first. Names are
// visited in lexical order and cycles are broken at the first back edge.
func (c *solveContext) installOrder(r *round) []*models.Package {
	const (
		unvisited = iota
		visiting
		done
	)
	mark := make(map[string]int, len(r.byName))
	var out []*models.Package

	var visit func(p *models.Package)
	visit = func(p *models.Package) {
		switch mark[p.Name] {
		case visiting, done:
			return
		}
		mark[p.Name] = visiting
		for _, d := range p.Depends {
			if d.Conflict {
				continue
			}
			if dep := r.sel[d.Name]; dep != nil {
				visit(r.byName[dep.Name])
			}
		}
		mark[p.Name] = done
		out = append(out, p)
	}

	for _, name := range sortedKeys(r.byName) {
		visit(r.byName[name])
	}
	return out
}

// removalOrder orders removed packages so that a package goes before the
// packages it depends on.
func removalOrder(cmp version.Comparator, removed []*models.Package) []*models.Package {
	byName := make(map[string]*models.Package, len(removed))
	for _, p := range removed {
		byName[p.Name] = p
	}
	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)

	visited := make(map[string]bool, len(removed))
	var post []*models.Package
	var visit func(p *models.Package)
	visit = func(p *models.Package) {
		if visited[p.Name] {
			return
		}
		visited[p.Name] = true
		for _, d := range p.Depends {
			if d.Conflict {
				continue
			}
			for _, n := range names {
				if q := byName[n]; q.Name != p.Name && version.PackageSatisfies(cmp, q, d) {
					visit(q)
				}
			}
		}
		post = append(post, p)
	}
	for _, n := range names {
		visit(byName[n])
	}

	// post-order lists dependencies first; reverse for dependents first
	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}
