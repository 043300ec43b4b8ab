// Package state holds the in-memory package database: the interned name
// table, the repository index, the world constraints and the installed set.
// None of these types are safe for concurrent mutation; the database facade
// serializes access.
package state

import (
	"sort"

	"github.com/kilupskalvis/apkdb/internal/models"
)

// Name is an interned package name with the packages providing it.
type Name struct {
	Name      string
	Providers []*models.Package
}

// Names is a per-database name table.
type Names struct {
	byName map[string]*Name
}

// NewNames creates an empty name table.
func NewNames() *Names {
	return &Names{byName: make(map[string]*Name)}
}

// Intern returns the entry for s, creating it if needed.
func (n *Names) Intern(s string) *Name {
	if e, ok := n.byName[s]; ok {
		return e
	}
	e := &Name{Name: s}
	n.byName[s] = e
	return e
}

// Lookup returns the entry for s.
func (n *Names) Lookup(s string) (*Name, bool) {
	e, ok := n.byName[s]
	return e, ok
}

// Has returns true if s has at least one provider.
func (n *Names) Has(s string) bool {
	e, ok := n.byName[s]
	return ok && len(e.Providers) > 0
}

// Len returns the number of names with at least one provider.
func (n *Names) Len() int {
	count := 0
	for _, e := range n.byName {
		if len(e.Providers) > 0 {
			count++
		}
	}
	return count
}

// Sorted returns all names with providers in lexical order.
func (n *Names) Sorted() []string {
	out := make([]string, 0, len(n.byName))
	for s, e := range n.byName {
		if len(e.Providers) > 0 {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// addProvider registers pkg under its own name and each provided name.
func (n *Names) addProvider(pkg *models.Package) {
	e := n.Intern(pkg.Name)
	e.Providers = append(e.Providers, pkg)
	for _, prov := range pkg.Provides {
		if prov.Name == pkg.Name {
			continue
		}
		pe := n.Intern(prov.Name)
		if len(pe.Providers) > 0 && pe.Providers[len(pe.Providers)-1] == pkg {
			continue
		}
		pe.Providers = append(pe.Providers, pkg)
	}
}
