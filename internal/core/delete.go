package core

import (
	"github.com/kilupskalvis/apkdb/internal/apkerr"
	"github.com/kilupskalvis/apkdb/internal/models"
	"github.com/kilupskalvis/apkdb/internal/state"
	"github.com/kilupskalvis/apkdb/internal/version"
)

// PlanDelete returns a copy of world that no longer requires name. With
// recursive set, installed packages that need name, directly or through
// other removed packages, stop being required too. A dependent is kept when
// another installed package outside the removal set still satisfies it.
func PlanDelete(world *state.World, installed *state.Installed, names *state.Names, name string, recursive bool, cmp version.Comparator) (*state.World, error) {
	_, inWorld := world.Get(name)
	known := false
	if names != nil {
		_, known = names.Lookup(name)
	}
	if !inWorld && !installed.Has(name) && !known {
		return nil, &apkerr.NotFoundError{Name: name}
	}

	scratch := world.Clone()
	scratch.Remove(name)

	pkg := installed.Get(name)
	if pkg == nil || !recursive {
		return scratch, nil
	}

	visited := map[string]struct{}{name: {}}
	worklist := []*models.Package{pkg}
	for len(worklist) > 0 {
		p := worklist[0]
		worklist = worklist[1:]

		for _, rdep := range installed.ReverseDependencies(cmp, p) {
			if _, seen := visited[rdep.Name]; seen {
				continue
			}
			if !losesDependency(rdep, p, installed, visited, cmp) {
				continue
			}
			visited[rdep.Name] = struct{}{}
			scratch.Remove(rdep.Name)
			worklist = append(worklist, rdep)
		}
	}
	return scratch, nil
}

// losesDependency reports whether removing p leaves some dependency of
// dependent that p satisfies without another installed provider.
func losesDependency(dependent, p *models.Package, installed *state.Installed, removed map[string]struct{}, cmp version.Comparator) bool {
	for _, d := range dependent.Depends {
		if d.Conflict || !version.PackageSatisfies(cmp, p, d) {
			continue
		}
		alternative := false
		for _, q := range installed.Providers(d.Name) {
			if _, gone := removed[q.Name]; gone || q.Name == p.Name {
				continue
			}
			if version.PackageSatisfies(cmp, q, d) {
				alternative = true
				break
			}
		}
		if !alternative {
			return true
		}
	}
	return false
}
