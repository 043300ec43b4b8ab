package state

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kilupskalvis/apkdb/internal/models"
)

// World is the ordered set of top-level constraints, unique by name.
type World struct {
	deps []models.Dependency
}

// NewWorld creates a world from deps. A later constraint on a name replaces
// an earlier one.
func NewWorld(deps ...models.Dependency) *World {
	w := &World{}
	for _, d := range deps {
		w.Add(d)
	}
	return w
}

// ParseWorld reads a world file: whitespace separated dependencies.
func ParseWorld(text string) (*World, error) {
	w := &World{}
	for _, f := range strings.Fields(text) {
		d, err := models.ParseDependency(f)
		if err != nil {
			return nil, fmt.Errorf("world entry %q: %w", f, err)
		}
		w.Add(d)
	}
	return w, nil
}

// String renders the world in file form, one dependency per line.
func (w *World) String() string {
	var b strings.Builder
	for _, d := range w.deps {
		b.WriteString(d.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// Clone returns an independent copy.
func (w *World) Clone() *World {
	return &World{deps: append([]models.Dependency(nil), w.deps...)}
}

// Add inserts d, replacing an existing constraint on the same name in place.
func (w *World) Add(d models.Dependency) {
	for i := range w.deps {
		if w.deps[i].Name == d.Name {
			w.deps[i] = d
			return
		}
	}
	w.deps = append(w.deps, d)
}

// Remove drops the constraint on name. It returns false if there was none.
func (w *World) Remove(name string) bool {
	for i := range w.deps {
		if w.deps[i].Name == name {
			w.deps = append(w.deps[:i], w.deps[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns the constraint on name.
func (w *World) Get(name string) (models.Dependency, bool) {
	for _, d := range w.deps {
		if d.Name == name {
			return d, true
		}
	}
	return models.Dependency{}, false
}

// Dependencies returns a copy of the constraints in order.
func (w *World) Dependencies() []models.Dependency {
	return append([]models.Dependency(nil), w.deps...)
}

// Len returns the number of constraints.
func (w *World) Len() int {
	return len(w.deps)
}

// Unpinned returns a copy with version constraints dropped. Tags are kept.
func (w *World) Unpinned() *World {
	c := &World{deps: make([]models.Dependency, len(w.deps))}
	for i, d := range w.deps {
		c.deps[i] = d.Unversioned()
	}
	return c
}

// Tags returns the distinct repository tags referenced, sorted.
func (w *World) Tags() []string {
	seen := make(map[string]struct{})
	for _, d := range w.deps {
		if d.Tag != "" {
			seen[d.Tag] = struct{}{}
		}
	}
	tags := make([]string, 0, len(seen))
	for t := range seen {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// Equal compares two worlds including order.
func (w *World) Equal(o *World) bool {
	if len(w.deps) != len(o.deps) {
		return false
	}
	for i := range w.deps {
		if w.deps[i] != o.deps[i] {
			return false
		}
	}
	return true
}
