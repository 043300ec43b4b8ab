package state

import (
	"sort"

	"github.com/kilupskalvis/apkdb/internal/models"
)

// LocalSlot holds cached and sideloaded packages. It is never refreshed.
const LocalSlot = 0

// Slot is the content of one repository in the index.
type Slot struct {
	URL         string
	Tag         string
	Description string
	Packages    []*models.Package
}

// Index is the set of available packages, keyed by repository slot.
type Index struct {
	slots map[int]*Slot
	names *Names
}

// NewIndex creates an empty index with an empty local slot.
func NewIndex() *Index {
	x := &Index{slots: map[int]*Slot{LocalSlot: {}}}
	x.rebuild()
	return x
}

// SetSlot replaces the content of a slot wholesale. Packages are copied and
// stamped with the slot number.
func (x *Index) SetSlot(slot int, url, tag, description string, pkgs []*models.Package) {
	s := &Slot{URL: url, Tag: tag, Description: description, Packages: make([]*models.Package, 0, len(pkgs))}
	for _, p := range pkgs {
		cp := *p
		cp.Repo = slot
		s.Packages = append(s.Packages, &cp)
	}
	x.slots[slot] = s
	x.rebuild()
}

// RemoveSlot drops a repository slot. The local slot can not be removed.
func (x *Index) RemoveSlot(slot int) {
	if slot == LocalSlot {
		return
	}
	delete(x.slots, slot)
	x.rebuild()
}

// AddLocal places a package in the local slot, replacing a package with the
// same name and version.
func (x *Index) AddLocal(pkg *models.Package) *models.Package {
	cp := *pkg
	cp.Repo = LocalSlot
	local := x.slots[LocalSlot]
	for i, p := range local.Packages {
		if p.Name == cp.Name && p.Version == cp.Version {
			local.Packages[i] = &cp
			x.rebuild()
			return &cp
		}
	}
	local.Packages = append(local.Packages, &cp)
	x.rebuild()
	return &cp
}

// Slot returns the slot content, or nil.
func (x *Index) Slot(slot int) *Slot {
	return x.slots[slot]
}

// SlotNumbers returns the populated slot numbers in ascending order.
func (x *Index) SlotNumbers() []int {
	out := make([]int, 0, len(x.slots))
	for n := range x.slots {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// TagOf returns the tag of the repository a package was loaded from.
func (x *Index) TagOf(pkg *models.Package) string {
	if s, ok := x.slots[pkg.Repo]; ok {
		return s.Tag
	}
	return ""
}

// HasTag returns true if a slot with the tag holds at least one package.
func (x *Index) HasTag(tag string) bool {
	for _, s := range x.slots {
		if s.Tag == tag && len(s.Packages) > 0 {
			return true
		}
	}
	return false
}

// Providers returns every package providing name, by name or through
// provides, in slot order.
func (x *Index) Providers(name string) []*models.Package {
	e, ok := x.names.Lookup(name)
	if !ok {
		return nil
	}
	return e.Providers
}

// Names returns the name table of the index.
func (x *Index) Names() *Names {
	return x.names
}

// Find returns the package with the given name and version, preferring the
// lowest slot.
func (x *Index) Find(name, version string) *models.Package {
	for _, p := range x.Providers(name) {
		if p.Name == name && p.Version == version {
			return p
		}
	}
	return nil
}

// Offers returns true if some slot still carries name at version.
func (x *Index) Offers(pkg *models.Package) bool {
	return x.Find(pkg.Name, pkg.Version) != nil
}

// Packages returns every package of every slot, slot order.
func (x *Index) Packages() []*models.Package {
	var out []*models.Package
	for _, n := range x.SlotNumbers() {
		out = append(out, x.slots[n].Packages...)
	}
	return out
}

// Count returns the number of distinct package names (not provides).
func (x *Index) Count() int {
	seen := make(map[string]struct{})
	for _, s := range x.slots {
		for _, p := range s.Packages {
			seen[p.Name] = struct{}{}
		}
	}
	return len(seen)
}

// Clone returns an index sharing the immutable packages.
func (x *Index) Clone() *Index {
	c := &Index{slots: make(map[int]*Slot, len(x.slots))}
	for n, s := range x.slots {
		cs := *s
		cs.Packages = append([]*models.Package(nil), s.Packages...)
		c.slots[n] = &cs
	}
	c.rebuild()
	return c
}

func (x *Index) rebuild() {
	x.names = NewNames()
	for _, n := range x.SlotNumbers() {
		for _, p := range x.slots[n].Packages {
			x.names.addProvider(p)
		}
	}
}
