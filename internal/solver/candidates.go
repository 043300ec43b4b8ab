package solver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kilupskalvis/apkdb/internal/models"
	"github.com/kilupskalvis/apkdb/internal/version"
)

// candidate is a package considered for a dependency name.
type candidate struct {
	pkg       *models.Package
	installed bool // same name and version as the installed package
	offered   bool // comes from an index slot
	selected  bool // already chosen for its package name in this round
}

// candidates gathers every index copy providing name, then installed
// providers that no index offers any more.
func (c *solveContext) candidates(name string, cur *round) []*candidate {
	var out []*candidate
	offered := make(map[string]struct{})
	add := func(p *models.Package, isOffered bool) {
		cand := &candidate{pkg: p, offered: isOffered}
		if inst := c.installed.Get(p.Name); inst != nil && inst.Version == p.Version {
			cand.installed = true
		}
		if chosen := cur.byName[p.Name]; chosen != nil && chosen.Version == p.Version {
			cand.selected = true
		}
		out = append(out, cand)
	}
	for _, p := range c.idx.Providers(name) {
		offered[p.Name+"\x00"+p.Version] = struct{}{}
		add(p, true)
	}
	for _, p := range c.installed.Providers(name) {
		if _, ok := offered[p.Name+"\x00"+p.Version]; ok {
			continue
		}
		add(p, false)
	}
	return out
}

// choose picks the preferred eligible candidate for name. When nothing is
// eligible it returns the reason, listing why each candidate was disqualified.
func (c *solveContext) choose(name string, cons, forbidden []constraint, cur, prev *round) (*models.Package, string) {
	cands := c.candidates(name, cur)
	if len(cands) == 0 {
		return nil, fmt.Sprintf("no such package (required by %s)", requiredBy(cons))
	}

	dq := make(map[*candidate]string)
	var eligible []*candidate
	for _, cand := range cands {
		if reason := c.disqualify(name, cand, cons, forbidden, cur, prev); reason != "" {
			dq[cand] = reason
			continue
		}
		eligible = append(eligible, cand)
	}
	if len(eligible) == 0 {
		reasons := make([]string, 0, len(cands))
		for _, cand := range cands {
			reasons = append(reasons, fmt.Sprintf("%s %s", cand.pkg.ID(), dq[cand]))
		}
		return nil, fmt.Sprintf("no candidate satisfies %s (required by %s): %s",
			constraintList(cons), requiredBy(cons), strings.Join(reasons, "; "))
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return c.better(name, eligible[i], eligible[j])
	})
	return eligible[0].pkg, ""
}

// disqualify returns why cand can not be selected for name, or "".
func (c *solveContext) disqualify(name string, cand *candidate, cons, forbidden []constraint, cur, prev *round) string {
	p := cand.pkg
	if _, ok := c.excluded[p.ID()]; ok {
		return "was ruled out by an earlier conflict"
	}
	for _, con := range cons {
		if !version.PackageSatisfies(c.cmp, p, con.dep) {
			return fmt.Sprintf("does not satisfy %s", con.dep)
		}
	}

	// constraints known on the candidate's own name apply too
	var own []constraint
	if p.Name != name {
		own = mergeConstraints(cur.cons[p.Name], prevConstraints(prev, p.Name))
		for _, con := range own {
			if !version.PackageSatisfies(c.cmp, p, con.dep) {
				return fmt.Sprintf("does not satisfy %s on %s", con.dep, p.Name)
			}
		}
	}

	if !c.tagAllowed(cand, cons) && !c.tagAllowed(cand, own) {
		return fmt.Sprintf("is pinned to @%s", c.tagOf(cand))
	}

	if chosen := cur.byName[p.Name]; chosen != nil && chosen.Version != p.Version {
		return fmt.Sprintf("conflicts with selected %s", chosen.ID())
	}

	if c.flags.Has(models.SolverIgnoreConflict) {
		return ""
	}
	for _, f := range forbidden {
		if f.from == p.ID() {
			continue
		}
		if conflictMatches(c.cmp, p, f.dep) {
			return fmt.Sprintf("excluded by %s from %s", f.dep, f.from)
		}
	}
	for _, d := range p.Depends {
		if !d.Conflict {
			continue
		}
		for _, chosenName := range sortedKeys(cur.byName) {
			chosen := cur.byName[chosenName]
			if chosen.Name != p.Name && conflictMatches(c.cmp, chosen, d) {
				return fmt.Sprintf("conflicts with selected %s via %s", chosen.ID(), d)
			}
		}
	}
	return ""
}

// tagOf returns the repository tag of the slot a candidate comes from.
// Installed packages no index offers are not pinned.
func (c *solveContext) tagOf(cand *candidate) string {
	if !cand.offered {
		return ""
	}
	return c.idx.TagOf(cand.pkg)
}

// tagAllowed reports whether a candidate from a tagged repository is asked
// for by a constraint carrying that tag.
func (c *solveContext) tagAllowed(cand *candidate, cons []constraint) bool {
	tag := c.tagOf(cand)
	if tag == "" {
		return true
	}
	for _, con := range cons {
		if con.dep.Tag == tag {
			return true
		}
	}
	return false
}

// better orders candidates for name: already selected, installed (unless
// upgrading), offered, provider priority, provided version, repository
// order, version string, package name.
func (c *solveContext) better(name string, a, b *candidate) bool {
	if a.selected != b.selected {
		return a.selected
	}
	if ka, kb := c.keepInstalled(a), c.keepInstalled(b); ka != kb {
		return ka
	}
	if c.flags.Has(models.SolverAvailable) && a.offered != b.offered {
		return a.offered
	}
	if a.pkg.ProviderPriority != b.pkg.ProviderPriority {
		return a.pkg.ProviderPriority > b.pkg.ProviderPriority
	}
	va, _ := a.pkg.ProvidedVersion(name)
	vb, _ := b.pkg.ProvidedVersion(name)
	if va != "" && vb != "" {
		if v := c.cmp.Compare(va, vb); v != 0 {
			return v > 0
		}
	}
	if a.offered != b.offered {
		return a.offered
	}
	if a.pkg.Repo != b.pkg.Repo {
		return a.pkg.Repo < b.pkg.Repo
	}
	if a.pkg.Version != b.pkg.Version {
		return a.pkg.Version > b.pkg.Version
	}
	return a.pkg.Name < b.pkg.Name
}

// keepInstalled reports whether the installed preference applies to cand.
func (c *solveContext) keepInstalled(cand *candidate) bool {
	if !cand.installed {
		return false
	}
	if c.flags.Has(models.SolverUpgrade) || c.flags.Has(models.SolverLatest) {
		return false
	}
	if c.flags.Has(models.SolverAvailable) && !cand.offered {
		return false
	}
	return true
}

func requiredBy(cons []constraint) string {
	seen := make(map[string]struct{})
	var from []string
	for _, con := range cons {
		if _, ok := seen[con.from]; ok {
			continue
		}
		seen[con.from] = struct{}{}
		from = append(from, con.from)
	}
	if len(from) == 0 {
		return "nothing"
	}
	return strings.Join(from, ", ")
}

func constraintList(cons []constraint) string {
	parts := make([]string, 0, len(cons))
	seen := make(map[string]struct{})
	for _, con := range cons {
		s := con.dep.String()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		parts = append(parts, s)
	}
	return strings.Join(parts, " ")
}
