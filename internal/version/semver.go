package version

import (
	"github.com/Masterminds/semver/v3"
)

// Semver orders versions by semantic versioning precedence. Versions that
// are not valid semver fall back to apk ordering.
type Semver struct{}

// Compare implements Comparator.
func (Semver) Compare(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA != nil || errB != nil {
		return APK{}.Compare(a, b)
	}
	return va.Compare(vb)
}
