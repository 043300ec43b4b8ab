package solver

import (
	"sort"
	"strings"

	"github.com/kilupskalvis/apkdb/internal/apkerr"
)

// search settles the selection with the given packages excluded. When the
// result has conflicts, each package that constrained a conflicting name is
// excluded in turn and the search goes on depth first, until an attempt has
// no conflicts or the budget runs out. The conflicts of the first attempt
// are the ones reported.
func (c *solveContext) search(excluded map[string]struct{}, budget *int) (*round, []apkerr.Conflict) {
	*budget--
	c.tried[exclusionKey(excluded)] = struct{}{}
	c.excluded = excluded

	final, conflicts := c.settle()
	if len(conflicts) == 0 {
		return final, nil
	}

	for _, id := range c.culprits(final, conflicts) {
		if *budget <= 0 {
			break
		}
		next := make(map[string]struct{}, len(excluded)+1)
		for k := range excluded {
			next[k] = struct{}{}
		}
		next[id] = struct{}{}
		if _, done := c.tried[exclusionKey(next)]; done {
			continue
		}

		c.logger.Debug("solver backtracking", "exclude", id, "excluded", len(excluded), "conflicts", len(conflicts))
		if r, cf := c.search(next, budget); len(cf) == 0 {
			return r, nil
		}
	}
	return final, conflicts
}

// culprits lists the selected packages that put a constraint on a
// conflicting name, latest constraint first, followed by the package
// selected for that name. World constraints have no culprit.
func (c *solveContext) culprits(r *round, conflicts []apkerr.Conflict) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(id string) {
		if id == fromWorld {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		if _, ok := c.excluded[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	for _, cf := range conflicts {
		cons := r.cons[cf.Name]
		for i := len(cons) - 1; i >= 0; i-- {
			add(cons[i].from)
		}
		for i := len(r.forbidden) - 1; i >= 0; i-- {
			if r.forbidden[i].dep.Name == cf.Name {
				add(r.forbidden[i].from)
			}
		}
		if p := r.sel[cf.Name]; p != nil {
			add(p.ID())
		}
		if p := r.byName[cf.Name]; p != nil {
			add(p.ID())
		}
	}
	return out
}

func exclusionKey(excluded map[string]struct{}) string {
	ids := make([]string, 0, len(excluded))
	for id := range excluded {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return strings.Join(ids, "\x00")
}
