// Package version compares package version strings and evaluates dependency
// constraints against them.
package version

import (
	"fmt"
	"strings"

	"github.com/kilupskalvis/apkdb/internal/models"
)

// Comparator orders version strings. Compare returns -1, 0 or 1.
type Comparator interface {
	Compare(a, b string) int
}

// New returns the comparator registered under name ("apk" or "semver").
// An empty name selects apk ordering.
func New(name string) (Comparator, error) {
	switch strings.ToLower(name) {
	case "", "apk":
		return APK{}, nil
	case "semver":
		return Semver{}, nil
	default:
		return nil, fmt.Errorf("unknown version comparator %q", name)
	}
}

// Satisfies reports whether version v meets the constraint op want.
func Satisfies(cmp Comparator, v string, op models.Op, want string) bool {
	if op == models.OpAny {
		return true
	}
	if op == models.OpFuzzy {
		return fuzzyMatch(v, want)
	}
	c := cmp.Compare(v, want)
	switch op {
	case models.OpLess:
		return c < 0
	case models.OpLessEqual:
		return c <= 0
	case models.OpEqual:
		return c == 0
	case models.OpGreaterEqual:
		return c >= 0
	case models.OpGreater:
		return c > 0
	}
	return false
}

// PackageSatisfies reports whether pkg satisfies dep by name or through one of
// its provides. A provide without a version only satisfies unversioned
// dependencies. The conflict flag and the repository tag are not evaluated here.
func PackageSatisfies(cmp Comparator, pkg *models.Package, dep models.Dependency) bool {
	if pkg == nil {
		return false
	}
	if pkg.Name == dep.Name {
		return Satisfies(cmp, pkg.Version, dep.Op, dep.Version)
	}
	for _, prov := range pkg.Provides {
		if prov.Name != dep.Name {
			continue
		}
		if !dep.IsVersioned() {
			return true
		}
		if prov.Version == "" {
			continue
		}
		if Satisfies(cmp, prov.Version, dep.Op, dep.Version) {
			return true
		}
	}
	return false
}

// fuzzyMatch implements "~=": v equals prefix or continues it at a component boundary.
func fuzzyMatch(v, prefix string) bool {
	if !strings.HasPrefix(v, prefix) {
		return false
	}
	if len(v) == len(prefix) {
		return true
	}
	next := v[len(prefix)]
	last := prefix[len(prefix)-1]
	if isDigit(next) && isDigit(last) {
		return false
	}
	return true
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
