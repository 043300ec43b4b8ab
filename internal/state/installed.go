package state

import (
	"sort"

	"github.com/kilupskalvis/apkdb/internal/models"
	"github.com/kilupskalvis/apkdb/internal/version"
)

// Installed is the set of installed packages keyed by name.
type Installed struct {
	pkgs map[string]*models.Package
}

// NewInstalled creates an installed set from pkgs.
func NewInstalled(pkgs ...*models.Package) *Installed {
	s := &Installed{pkgs: make(map[string]*models.Package, len(pkgs))}
	for _, p := range pkgs {
		s.pkgs[p.Name] = p
	}
	return s
}

// Get returns the installed package called name, or nil.
func (s *Installed) Get(name string) *models.Package {
	return s.pkgs[name]
}

// Has returns true if a package called name is installed.
func (s *Installed) Has(name string) bool {
	_, ok := s.pkgs[name]
	return ok
}

// Set records pkg as installed, replacing any version with the same name.
func (s *Installed) Set(pkg *models.Package) {
	s.pkgs[pkg.Name] = pkg
}

// Remove forgets the package called name.
func (s *Installed) Remove(name string) {
	delete(s.pkgs, name)
}

// Len returns the number of installed packages.
func (s *Installed) Len() int {
	return len(s.pkgs)
}

// Packages returns the installed packages sorted by name.
func (s *Installed) Packages() []*models.Package {
	out := make([]*models.Package, 0, len(s.pkgs))
	for _, p := range s.pkgs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Clone returns a copy sharing the immutable packages.
func (s *Installed) Clone() *Installed {
	c := &Installed{pkgs: make(map[string]*models.Package, len(s.pkgs))}
	for k, v := range s.pkgs {
		c.pkgs[k] = v
	}
	return c
}

// Providers returns installed packages that provide name, sorted by name.
func (s *Installed) Providers(name string) []*models.Package {
	var out []*models.Package
	for _, p := range s.Packages() {
		if _, ok := p.ProvidedVersion(name); ok {
			out = append(out, p)
		}
	}
	return out
}

// Satisfied returns true if some installed package satisfies dep.
func (s *Installed) Satisfied(cmp version.Comparator, dep models.Dependency) bool {
	for _, p := range s.Providers(dep.Name) {
		if version.PackageSatisfies(cmp, p, dep) {
			return true
		}
	}
	return false
}

// ReverseDependencies returns the installed packages with a dependency that
// pkg satisfies, by name or through its provides. Conflict dependencies are
// not counted. The result is sorted by name and excludes pkg.
func (s *Installed) ReverseDependencies(cmp version.Comparator, pkg *models.Package) []*models.Package {
	var out []*models.Package
	for _, p := range s.Packages() {
		if p.Name == pkg.Name {
			continue
		}
		for _, d := range p.Depends {
			if d.Conflict {
				continue
			}
			if version.PackageSatisfies(cmp, pkg, d) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}
