package core

import (
	"testing"

	"github.com/kilupskalvis/apkdb/internal/apkerr"
	"github.com/kilupskalvis/apkdb/internal/models"
	"github.com/kilupskalvis/apkdb/internal/state"
	"github.com/kilupskalvis/apkdb/internal/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pkg(name, ver string, deps ...string) *models.Package {
	p := &models.Package{Name: name, Version: ver, Arch: "x86_64"}
	for _, d := range deps {
		dep, err := models.ParseDependency(d)
		if err != nil {
			panic(err)
		}
		p.Depends = append(p.Depends, dep)
	}
	return p
}

func world(t *testing.T, specs ...string) *state.World {
	t.Helper()
	w := state.NewWorld()
	for _, s := range specs {
		d, err := models.ParseDependency(s)
		require.NoError(t, err)
		w.Add(d)
	}
	return w
}

func names(w *state.World) []string {
	var out []string
	for _, d := range w.Dependencies() {
		out = append(out, d.Name)
	}
	return out
}

// ==================== PlanDelete Tests ====================

func TestPlanDelete_UnknownName(t *testing.T) {
	_, err := PlanDelete(world(t, "a"), state.NewInstalled(), state.NewNames(), "ghost", false, version.APK{})
	var nf *apkerr.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "ghost", nf.Name)
}

func TestPlanDelete_NotInstalledRemovesWorldEntry(t *testing.T) {
	w := world(t, "a", "b>=2")
	got, err := PlanDelete(w, state.NewInstalled(), state.NewNames(), "b", true, version.APK{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, names(got))
	assert.Equal(t, 2, w.Len(), "input world untouched")
}

func TestPlanDelete_KnownButAbsent(t *testing.T) {
	n := state.NewNames()
	n.Intern("c")
	got, err := PlanDelete(world(t, "a"), state.NewInstalled(), n, "c", false, version.APK{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, names(got))
}

func TestPlanDelete_NonRecursiveKeepsDependents(t *testing.T) {
	installed := state.NewInstalled(pkg("app", "1", "lib"), pkg("lib", "1"))
	got, err := PlanDelete(world(t, "app", "lib"), installed, nil, "lib", false, version.APK{})
	require.NoError(t, err)
	assert.Equal(t, []string{"app"}, names(got))
}

func TestPlanDelete_RecursiveClosure(t *testing.T) {
	installed := state.NewInstalled(
		pkg("base", "1"),
		pkg("lib", "1", "base"),
		pkg("app", "1", "lib"),
		pkg("tool", "1", "app>=1"),
		pkg("other", "1"),
	)
	w := world(t, "tool", "app", "other", "lib")

	got, err := PlanDelete(w, installed, nil, "base", true, version.APK{})
	require.NoError(t, err)
	assert.Equal(t, []string{"other"}, names(got))
}

func TestPlanDelete_RecursiveSatisfiesSemantics(t *testing.T) {
	// "old" requires lib<1 which the installed lib-2 does not satisfy
	installed := state.NewInstalled(
		pkg("lib", "2"),
		pkg("new", "1", "lib>=2"),
		pkg("old", "1", "lib<1"),
	)
	got, err := PlanDelete(world(t, "new", "old"), installed, nil, "lib", true, version.APK{})
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, names(got))
}

func TestPlanDelete_AlternateProviderKeepsDependent(t *testing.T) {
	busybox := pkg("busybox", "1")
	busybox.Provides = []models.Dependency{{Name: "cmd:sh"}}
	dash := pkg("dash", "1")
	dash.Provides = []models.Dependency{{Name: "cmd:sh"}}
	installed := state.NewInstalled(busybox, dash, pkg("script", "1", "cmd:sh"))

	got, err := PlanDelete(world(t, "busybox", "dash", "script"), installed, nil, "busybox", true, version.APK{})
	require.NoError(t, err)
	assert.Equal(t, []string{"dash", "script"}, names(got))
}

func TestPlanDelete_Cycle(t *testing.T) {
	installed := state.NewInstalled(pkg("a", "1", "b"), pkg("b", "1", "a"), pkg("c", "1", "a"))
	got, err := PlanDelete(world(t, "a", "c"), installed, nil, "b", true, version.APK{})
	require.NoError(t, err)
	assert.Empty(t, names(got))
}
