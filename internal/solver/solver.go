// Package solver computes the changeset that turns the installed set into
// the closure of the world constraints over the available index.
package solver

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/kilupskalvis/apkdb/internal/apkerr"
	"github.com/kilupskalvis/apkdb/internal/models"
	"github.com/kilupskalvis/apkdb/internal/state"
	"github.com/kilupskalvis/apkdb/internal/version"
)

const (
	// defaultMaxRounds bounds the fixpoint iteration of one attempt.
	defaultMaxRounds = 64
	// defaultMaxAttempts bounds how many exclusion sets are tried.
	defaultMaxAttempts = 256
)

// fromWorld marks constraints taken directly from the world.
const fromWorld = "world"

// Solver selects packages. A Solver holds no per-solve state and may be reused.
type Solver struct {
	cmp         version.Comparator
	logger      *slog.Logger
	maxRounds   int
	maxAttempts int
}

// New creates a Solver ordering versions with cmp.
func New(cmp version.Comparator, logger *slog.Logger) *Solver {
	if cmp == nil {
		cmp = version.APK{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Solver{cmp: cmp, logger: logger, maxRounds: defaultMaxRounds, maxAttempts: defaultMaxAttempts}
}

// constraint is a dependency together with who asked for it.
type constraint struct {
	dep  models.Dependency
	from string
}

// round is the outcome of one propagation pass.
type round struct {
	sel       map[string]*models.Package // dependency name -> chosen package
	byName    map[string]*models.Package // package name -> chosen package
	cons      map[string][]constraint    // dependency name -> constraints
	forbidden []constraint               // "!name" constraints
	order     []string                   // dependency names in visit order
	conflicts []apkerr.Conflict
}

// Solve computes the changeset for world. The inputs are not modified.
func (s *Solver) Solve(idx *state.Index, installed *state.Installed, world *state.World, flags models.SolverFlags) (*models.Changeset, error) {
	if missing := missingTags(idx, world); len(missing) > 0 {
		return nil, &apkerr.MissingRepoTagsError{Tags: missing}
	}

	ctx := &solveContext{
		Solver:    s,
		idx:       idx,
		installed: installed,
		world:     world,
		flags:     flags,
		tried:     make(map[string]struct{}),
	}

	budget := s.maxAttempts
	final, conflicts := ctx.search(nil, &budget)
	if len(conflicts) > 0 {
		return nil, &apkerr.UnsatisfiableError{Conflicts: conflicts}
	}
	return ctx.changeset(final), nil
}

// settle iterates propagation until the selection stops changing and
// returns the final round with everything wrong with it.
func (c *solveContext) settle() (*round, []apkerr.Conflict) {
	var prev *round
	var converged bool
	for i := 0; i < c.maxRounds; i++ {
		cur := c.propagate(prev)
		c.logger.Debug("solver round", "round", i, "selected", len(cur.byName), "conflicts", len(cur.conflicts))
		if prev != nil && fingerprint(cur) == fingerprint(prev) {
			prev = cur
			converged = true
			break
		}
		prev = cur
	}

	final := prev
	conflicts := append([]apkerr.Conflict(nil), final.conflicts...)
	if !converged {
		conflicts = append(conflicts, apkerr.Conflict{Name: "*", Reason: fmt.Sprintf("selection did not settle after %d rounds", c.maxRounds)})
	}
	conflicts = append(conflicts, c.checkSelection(final)...)
	if c.flags.Has(models.SolverLatest) {
		conflicts = append(conflicts, c.checkLatest(final)...)
	}
	return final, dedupeConflicts(conflicts)
}

// missingTags returns the world tags that no loaded repository serves.
func missingTags(idx *state.Index, world *state.World) []string {
	var missing []string
	for _, tag := range world.Tags() {
		if !idx.HasTag(tag) {
			missing = append(missing, tag)
		}
	}
	return missing
}

type solveContext struct {
	*Solver
	idx       *state.Index
	installed *state.Installed
	world     *state.World
	flags     models.SolverFlags

	excluded map[string]struct{} // package IDs ruled out for this attempt
	tried    map[string]struct{} // exclusion sets already solved
}

// propagate walks the dependency closure from the world roots, choosing a
// package for every reached name. Constraints collected by the previous
// round are applied up front so late constraints still shape early choices.
func (c *solveContext) propagate(prev *round) *round {
	cur := &round{
		sel:    make(map[string]*models.Package),
		byName: make(map[string]*models.Package),
		cons:   make(map[string][]constraint),
	}

	var queue []string
	enqueue := func(con constraint) {
		if con.dep.Conflict {
			cur.forbidden = append(cur.forbidden, con)
			return
		}
		name := con.dep.Name
		if _, seen := cur.cons[name]; !seen {
			queue = append(queue, name)
		}
		cur.cons[name] = append(cur.cons[name], con)
	}

	for _, d := range c.world.Dependencies() {
		enqueue(constraint{dep: d, from: fromWorld})
	}

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		cur.order = append(cur.order, name)

		known := mergeConstraints(cur.cons[name], prevConstraints(prev, name))
		forbidden := mergeConstraints(cur.forbidden, prevForbidden(prev))
		pkg, reason := c.choose(name, known, forbidden, cur, prev)
		if pkg == nil {
			cur.conflicts = append(cur.conflicts, apkerr.Conflict{Name: name, Reason: reason})
			continue
		}
		cur.sel[name] = pkg
		if _, ok := cur.byName[pkg.Name]; !ok {
			cur.byName[pkg.Name] = pkg
			for _, d := range pkg.Depends {
				enqueue(constraint{dep: d, from: pkg.ID()})
			}
		}
	}
	return cur
}

func prevConstraints(prev *round, name string) []constraint {
	if prev == nil {
		return nil
	}
	return prev.cons[name]
}

func prevForbidden(prev *round) []constraint {
	if prev == nil {
		return nil
	}
	return prev.forbidden
}

// mergeConstraints concatenates a and b, dropping exact duplicates.
func mergeConstraints(a, b []constraint) []constraint {
	if len(b) == 0 {
		return a
	}
	out := make([]constraint, 0, len(a)+len(b))
	seen := make(map[constraint]struct{}, len(a)+len(b))
	for _, list := range [][]constraint{a, b} {
		for _, con := range list {
			if _, ok := seen[con]; ok {
				continue
			}
			seen[con] = struct{}{}
			out = append(out, con)
		}
	}
	return out
}

// checkSelection verifies the settled round: every constraint holds, one
// version per package name, no forbidden package selected.
func (c *solveContext) checkSelection(r *round) []apkerr.Conflict {
	var out []apkerr.Conflict
	for _, name := range r.order {
		pkg := r.sel[name]
		if pkg == nil {
			continue
		}
		for _, con := range r.cons[name] {
			if !version.PackageSatisfies(c.cmp, pkg, con.dep) {
				out = append(out, apkerr.Conflict{
					Name:   name,
					Reason: fmt.Sprintf("%s does not satisfy %s required by %s", pkg.ID(), con.dep, con.from),
				})
			}
		}
		if other := r.byName[pkg.Name]; other != nil && other.Version != pkg.Version {
			out = append(out, apkerr.Conflict{
				Name:   pkg.Name,
				Reason: fmt.Sprintf("both %s and %s selected", other.ID(), pkg.ID()),
			})
		}
	}
	if !c.flags.Has(models.SolverIgnoreConflict) {
		for _, name := range sortedKeys(r.byName) {
			pkg := r.byName[name]
			for _, f := range r.forbidden {
				if f.from == pkg.ID() {
					continue
				}
				if conflictMatches(c.cmp, pkg, f.dep) {
					out = append(out, apkerr.Conflict{
						Name:   pkg.Name,
						Reason: fmt.Sprintf("%s conflicts with %s required by %s", pkg.ID(), f.dep, f.from),
					})
				}
			}
		}
	}
	return out
}

// checkLatest requires the newest eligible version for unpinned world roots.
func (c *solveContext) checkLatest(r *round) []apkerr.Conflict {
	var out []apkerr.Conflict
	for _, d := range c.world.Dependencies() {
		if d.Conflict || d.IsVersioned() {
			continue
		}
		sel := r.sel[d.Name]
		if sel == nil {
			continue
		}
		var newest *models.Package
		for _, p := range c.idx.Providers(d.Name) {
			if p.Name != d.Name || !c.tagAllowed(&candidate{pkg: p, offered: true}, r.cons[d.Name]) {
				continue
			}
			if newest == nil || c.cmp.Compare(p.Version, newest.Version) > 0 {
				newest = p
			}
		}
		if newest != nil && c.cmp.Compare(sel.Version, newest.Version) != 0 {
			out = append(out, apkerr.Conflict{
				Name:   d.Name,
				Reason: fmt.Sprintf("newest version %s is not selectable, %s selected", newest.Version, sel.Version),
			})
		}
	}
	return out
}

// conflictMatches reports whether pkg is excluded by the conflict dependency f.
func conflictMatches(cmp version.Comparator, pkg *models.Package, f models.Dependency) bool {
	f.Conflict = false
	return version.PackageSatisfies(cmp, pkg, f)
}

// fingerprint captures a round's selection and constraints for convergence checks.
func fingerprint(r *round) string {
	var parts []string
	for name, p := range r.sel {
		parts = append(parts, "s "+name+" "+p.ID())
	}
	for name, cons := range r.cons {
		for _, con := range cons {
			parts = append(parts, "c "+name+" "+con.dep.String()+" "+con.from)
		}
	}
	for _, f := range r.forbidden {
		parts = append(parts, "f "+f.dep.String()+" "+f.from)
	}
	for _, cf := range r.conflicts {
		parts = append(parts, "x "+cf.Name+" "+cf.Reason)
	}
	sort.Strings(parts)
	return strings.Join(parts, "\n")
}

func dedupeConflicts(in []apkerr.Conflict) []apkerr.Conflict {
	seen := make(map[apkerr.Conflict]struct{}, len(in))
	out := make([]apkerr.Conflict, 0, len(in))
	for _, c := range in {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
