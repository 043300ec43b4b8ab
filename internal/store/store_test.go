package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/kilupskalvis/apkdb/internal/models"
	"github.com/kilupskalvis/apkdb/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore creates a new bbolt store in a temp directory for testing.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := New(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Initialize())
	t.Cleanup(func() { st.Close() })
	return st
}

func mustDep(t *testing.T, s string) models.Dependency {
	t.Helper()
	d, err := models.ParseDependency(s)
	require.NoError(t, err)
	return d
}

// ==================== Store Tests ====================

func TestStore_Initialize(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "test.db")
	st, err := New(dbPath)
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.Initialize())

	world, err := st.LoadWorld()
	require.NoError(t, err)
	assert.Equal(t, 0, world.Len())

	installed, err := st.LoadInstalled()
	require.NoError(t, err)
	assert.Equal(t, 0, installed.Len())
}

func TestStore_GetSetValue(t *testing.T) {
	st := newTestStore(t)

	require.NoError(t, st.SetValue("test_key", "test_value"))
	val, err := st.GetValue("test_key")
	require.NoError(t, err)
	assert.Equal(t, "test_value", val)

	val, err = st.GetValue("nonexistent")
	require.NoError(t, err)
	assert.Equal(t, "", val)
}

func TestStore_ReadOnly(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := New(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Initialize())
	require.NoError(t, st.SaveState(state.NewWorld(mustDep(t, "curl")), state.NewInstalled()))
	require.NoError(t, st.Close())

	ro, err := NewReadOnly(dbPath)
	require.NoError(t, err)
	defer ro.Close()

	world, err := ro.LoadWorld()
	require.NoError(t, err)
	assert.Equal(t, "curl\n", world.String())

	assert.Error(t, ro.SetValue("k", "v"))
}

// ==================== State Tests ====================

func TestStore_SaveAndLoadState(t *testing.T) {
	st := newTestStore(t)

	world := state.NewWorld(mustDep(t, "curl>=8"), mustDep(t, "busybox@edge"))
	installed := state.NewInstalled(
		&models.Package{Name: "curl", Version: "8.5.0-r0", Arch: "x86_64", Depends: []models.Dependency{mustDep(t, "so:libc.musl-x86_64.so.1")}},
		&models.Package{Name: "busybox", Version: "1.36.1-r15", Arch: "x86_64", Repo: 2},
	)
	require.NoError(t, st.SaveState(world, installed))

	gotWorld, err := st.LoadWorld()
	require.NoError(t, err)
	assert.True(t, world.Equal(gotWorld))

	gotInstalled, err := st.LoadInstalled()
	require.NoError(t, err)
	require.Equal(t, 2, gotInstalled.Len())
	curl := gotInstalled.Get("curl")
	require.NotNil(t, curl)
	assert.Equal(t, "8.5.0-r0", curl.Version)
	assert.Equal(t, "so:libc.musl-x86_64.so.1", curl.Depends[0].Name)
	assert.Equal(t, 2, gotInstalled.Get("busybox").Repo)
}

func TestStore_SaveStateReplacesInstalled(t *testing.T) {
	st := newTestStore(t)

	require.NoError(t, st.SaveState(state.NewWorld(), state.NewInstalled(
		&models.Package{Name: "a", Version: "1"},
		&models.Package{Name: "b", Version: "1"},
	)))
	require.NoError(t, st.SaveState(nil, state.NewInstalled(&models.Package{Name: "b", Version: "2"})))

	installed, err := st.LoadInstalled()
	require.NoError(t, err)
	assert.False(t, installed.Has("a"))
	assert.Equal(t, "2", installed.Get("b").Version)
}

func TestStore_SaveStateNilWorldKeepsWorld(t *testing.T) {
	st := newTestStore(t)

	require.NoError(t, st.SaveState(state.NewWorld(mustDep(t, "a")), state.NewInstalled()))
	require.NoError(t, st.SaveState(nil, state.NewInstalled()))

	world, err := st.LoadWorld()
	require.NoError(t, err)
	assert.Equal(t, 1, world.Len())
}

// ==================== Index Tests ====================

func TestStore_IndexCache(t *testing.T) {
	st := newTestStore(t)
	url := "https://dl-cdn.alpinelinux.org/alpine/edge/main"

	got, err := st.GetIndex(url)
	require.NoError(t, err)
	assert.Nil(t, got)

	last, err := st.LastUpdate()
	require.NoError(t, err)
	assert.True(t, last.IsZero())

	fetched := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.SaveIndex(&CachedIndex{
		URL:         url,
		Description: "v3.20.0-1-g1234",
		Packages:    []*models.Package{{Name: "curl", Version: "8.5.0-r0"}},
		FetchedAt:   fetched,
	}))

	got, err = st.GetIndex(url)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "v3.20.0-1-g1234", got.Description)
	require.Len(t, got.Packages, 1)
	assert.Equal(t, "curl", got.Packages[0].Name)

	last, err = st.LastUpdate()
	require.NoError(t, err)
	assert.True(t, fetched.Equal(last))

	require.NoError(t, st.DeleteIndex(url))
	got, err = st.GetIndex(url)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_LocalPackages(t *testing.T) {
	st := newTestStore(t)

	b := &models.Package{Name: "b", Version: "1", Arch: "x86_64"}
	a := &models.Package{Name: "a", Version: "1", Arch: "x86_64"}
	require.NoError(t, st.PutLocal(b))
	require.NoError(t, st.PutLocal(a))

	pkgs, err := st.ListLocal()
	require.NoError(t, err)
	require.Len(t, pkgs, 2)
	assert.Equal(t, "a", pkgs[0].Name)

	require.NoError(t, st.DeleteLocal(a.ID()))
	pkgs, err = st.ListLocal()
	require.NoError(t, err)
	require.Len(t, pkgs, 1)
	assert.Equal(t, "b", pkgs[0].Name)
}

// ==================== ETag Tests ====================

func TestStore_ETags(t *testing.T) {
	st := newTestStore(t)
	url := "https://example.com/main/x86_64/APKINDEX.tar.gz"

	etag, err := st.GetETag(url)
	require.NoError(t, err)
	assert.Empty(t, etag)

	require.NoError(t, st.SetETag(url, `"abc"`))
	etag, err = st.GetETag(url)
	require.NoError(t, err)
	assert.Equal(t, `"abc"`, etag)

	require.NoError(t, st.SetETag(url, ""))
	etag, err = st.GetETag(url)
	require.NoError(t, err)
	assert.Empty(t, etag)
}
