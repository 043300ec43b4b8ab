package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kilupskalvis/apkdb/internal/apkerr"
	"github.com/kilupskalvis/apkdb/internal/config"
	"github.com/kilupskalvis/apkdb/internal/fetch"
	"github.com/kilupskalvis/apkdb/internal/models"
	"github.com/kilupskalvis/apkdb/internal/trust"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	repoMain      = "https://mirror.example.com/alpine/v3.20/main"
	repoCommunity = "https://mirror.example.com/alpine/v3.20/community"
	repoTesting   = "https://mirror.example.com/alpine/edge/testing"
)

type fakeFetcher struct {
	mu      sync.Mutex
	indexes map[string][]byte
	errs    map[string]error
	gates   map[string]chan struct{}
	calls   int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{indexes: map[string][]byte{}, errs: map[string]error{}, gates: map[string]chan struct{}{}}
}

func (f *fakeFetcher) FetchIndex(_ context.Context, url string, _ bool) ([]byte, error) {
	f.mu.Lock()
	gate := f.gates[url]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	data, ok := f.indexes[url]
	if !ok {
		return nil, fetch.ErrNotFound
	}
	return data, nil
}

func (f *fakeFetcher) serve(repo string, pkgs ...*models.Package) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexes[fetch.IndexURL(repo, "x86_64")] = fetch.FormatIndexText(pkgs)
}

// hold makes fetches of repo wait until the returned channel is closed.
func (f *fakeFetcher) hold(repo string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gates[fetch.IndexURL(repo, "x86_64")] = gate
	return gate
}

func (f *fakeFetcher) fail(repo string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[fetch.IndexURL(repo, "x86_64")] = err
}

type fakeInstaller struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (f *fakeInstaller) Install(_ context.Context, p *models.Package) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "+"+p.Name+"-"+p.Version)
	return f.fail[p.Name]
}

func (f *fakeInstaller) Remove(_ context.Context, p *models.Package) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "-"+p.Name+"-"+p.Version)
	return f.fail[p.Name]
}

type testEnv struct {
	root      string
	fetcher   *fakeFetcher
	installer *fakeInstaller
	db        *Database
}

// newTestEnv lays out a root with the given repositories file and opens it
// read-write with fake collaborators.
func newTestEnv(t *testing.T, repositories string) *testEnv {
	t.Helper()
	root := t.TempDir()
	_, err := config.Initialize(root, "x86_64")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, config.RepositoriesFile), []byte(repositories), 0644))

	env := &testEnv{root: root, fetcher: newFakeFetcher(), installer: &fakeInstaller{fail: map[string]error{}}}
	env.db = env.open(t, models.OpenReadWrite)
	return env
}

func (e *testEnv) open(t *testing.T, flags models.OpenFlags) *Database {
	t.Helper()
	db := New(WithRoot(e.root), WithFetcher(e.fetcher), WithInstaller(e.installer))
	require.NoError(t, db.Open(flags))
	t.Cleanup(func() { db.Close() })
	return db
}

func (e *testEnv) reopen(t *testing.T, flags models.OpenFlags) {
	t.Helper()
	require.NoError(t, e.db.Close())
	e.db = e.open(t, flags)
}

func standardRepos() string {
	return repoMain + "\n@community " + repoCommunity + "\n" + repoTesting + "\n"
}

// newStandardEnv serves three repositories and refreshes them.
func newStandardEnv(t *testing.T) *testEnv {
	t.Helper()
	env := newTestEnv(t, standardRepos())
	env.fetcher.serve(repoMain,
		pkg("curl", "8.5.0-r0", "libcurl"),
		pkg("libcurl", "8.5.0-r0"),
		pkg("busybox", "1.36.1-r15"),
	)
	env.fetcher.serve(repoCommunity,
		pkg("foo", "1.2.3-r0"),
		pkg("foo", "1.3.0-r0"),
	)
	env.fetcher.serve(repoTesting, pkg("bar", "1.0-r0"))

	report, err := env.db.Update(context.Background(), models.UpdateDefault)
	require.NoError(t, err)
	require.True(t, report.Success())
	return env
}

func summary(cs *models.Changeset) []string {
	var out []string
	for _, c := range cs.Changes {
		switch {
		case c.IsInstall():
			out = append(out, "+"+c.NewPackage.Name+"-"+c.NewPackage.Version)
		case c.IsRemove():
			out = append(out, "-"+c.OldPackage.Name+"-"+c.OldPackage.Version)
		default:
			out = append(out, "~"+c.NewPackage.Name+"-"+c.OldPackage.Version+">"+c.NewPackage.Version)
		}
	}
	return out
}

func worldNames(t *testing.T, db *Database) []string {
	t.Helper()
	deps, err := db.World()
	require.NoError(t, err)
	var out []string
	for _, d := range deps {
		out = append(out, d.String())
	}
	return out
}

// ==================== Lifecycle Tests ====================

func TestDatabase_Lifecycle(t *testing.T) {
	root := t.TempDir()
	db := New(WithRoot(root), WithFetcher(newFakeFetcher()), WithInstaller(&fakeInstaller{}))

	assert.False(t, db.IsOpen())
	_, err := db.World()
	assert.ErrorIs(t, err, apkerr.ErrNotOpen)
	_, err = db.Add(context.Background(), "curl", models.AddOptions{})
	assert.ErrorIs(t, err, apkerr.ErrNotOpen)

	require.NoError(t, db.Open(models.OpenReadWrite))
	assert.True(t, db.IsOpen())
	assert.Error(t, db.Open(models.OpenReadWrite))
	assert.Error(t, db.SetRoot(t.TempDir()))
	assert.Equal(t, root, db.Root())

	require.NoError(t, db.Close())
	assert.False(t, db.IsOpen())
	require.NoError(t, db.Close())

	other := t.TempDir()
	require.NoError(t, db.SetRoot(other))
	assert.Equal(t, other, db.Root())
}

func TestDatabase_RootFromEnvironment(t *testing.T) {
	root := t.TempDir()
	t.Setenv(config.EnvRoot, root)
	assert.Equal(t, root, New().Root())
}

func TestDatabase_ReadOnly(t *testing.T) {
	env := newStandardEnv(t)
	ctx := context.Background()
	_, err := env.db.Add(ctx, "curl", models.AddOptions{})
	require.NoError(t, err)

	env.reopen(t, models.OpenReadOnly)

	_, err = env.db.Add(ctx, "busybox", models.AddOptions{})
	assert.ErrorIs(t, err, apkerr.ErrReadOnly)
	_, err = env.db.Del(ctx, "curl", models.DelDefault)
	assert.ErrorIs(t, err, apkerr.ErrReadOnly)
	_, err = env.db.Update(ctx, models.UpdateDefault)
	assert.ErrorIs(t, err, apkerr.ErrReadOnly)
	_, err = env.db.Upgrade(ctx, models.UpgradeDefault)
	assert.ErrorIs(t, err, apkerr.ErrReadOnly)

	// simulations and queries still work
	cs, err := env.db.Add(ctx, "busybox", models.AddOptions{Simulate: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"+busybox-1.36.1-r15"}, summary(cs))
	assert.Equal(t, []string{"curl"}, worldNames(t, env.db))
}

func TestDatabase_ReadOnlyFreshRoot(t *testing.T) {
	db := New(WithRoot(t.TempDir()), WithFetcher(newFakeFetcher()))
	require.NoError(t, db.Open(models.OpenReadOnly))
	defer db.Close()

	pkgs, err := db.InstalledPackages()
	require.NoError(t, err)
	assert.Empty(t, pkgs)
}

// ==================== Update Tests ====================

func TestUpdate_PartialRefresh(t *testing.T) {
	env := newTestEnv(t, standardRepos())
	env.fetcher.serve(repoMain, pkg("curl", "8.5.0-r0"), pkg("busybox", "1.36.1-r15"))
	env.fetcher.fail(repoCommunity, fetch.ErrUpstreamDown)
	env.fetcher.serve(repoTesting, pkg("bar", "1.0-r0"))

	var progress []models.Progress
	env.db.SetProgressFunc(func(p models.Progress) { progress = append(progress, p) })

	report, err := env.db.Update(context.Background(), models.UpdateDefault)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Updated)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, 0, report.UpToDate)
	assert.Equal(t, 3, report.Available)
	assert.False(t, report.Success())

	require.Len(t, report.Repos, 3)
	assert.Equal(t, models.RepoUpdated, report.Repos[0].Status)
	assert.Equal(t, 2, report.Repos[0].Packages)
	assert.Equal(t, models.RepoFailed, report.Repos[1].Status)
	assert.Equal(t, "community", report.Repos[1].Tag)
	var fe *apkerr.FetchError
	require.ErrorAs(t, report.Repos[1].Err, &fe)
	assert.Equal(t, apkerr.EREMOTEIO, fe.Code)
	assert.NotEmpty(t, report.Repos[1].Reason)
	assert.Equal(t, models.RepoUpdated, report.Repos[2].Status)

	assert.Equal(t, []models.Progress{{0, 3}, {1, 3}, {2, 3}, {3, 3}}, progress)
}

func TestUpdate_ProgressWhileFetching(t *testing.T) {
	env := newTestEnv(t, standardRepos())
	env.fetcher.serve(repoMain, pkg("curl", "8.5.0-r0"))
	env.fetcher.serve(repoCommunity, pkg("foo", "1.3.0-r0"))
	env.fetcher.serve(repoTesting, pkg("bar", "1.0-r0"))
	gate := env.fetcher.hold(repoTesting)

	progress := make(chan models.Progress, 8)
	env.db.SetProgressFunc(func(p models.Progress) { progress <- p })

	type result struct {
		report *models.RefreshReport
		err    error
	}
	finished := make(chan result, 1)
	go func() {
		report, err := env.db.Update(context.Background(), models.UpdateDefault)
		finished <- result{report, err}
	}()

	// the first two repositories are applied while the third is still fetching
	for _, want := range []models.Progress{{0, 3}, {1, 3}, {2, 3}} {
		select {
		case got := <-progress:
			assert.Equal(t, want, got)
		case <-time.After(5 * time.Second):
			t.Fatalf("no progress %v while a repository was fetching", want)
		}
	}
	select {
	case <-finished:
		t.Fatal("update finished before the held repository was released")
	default:
	}

	close(gate)
	res := <-finished
	require.NoError(t, res.err)
	assert.Equal(t, 3, res.report.Updated)
	assert.Equal(t, models.Progress{Done: 3, Total: 3}, <-progress)
}

func TestUpdate_CanceledBeforeFetch(t *testing.T) {
	env := newTestEnv(t, standardRepos())
	env.fetcher.serve(repoMain, pkg("curl", "8.5.0-r0"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := env.db.Update(ctx, models.UpdateDefault)

	var re *apkerr.RefreshError
	require.ErrorAs(t, err, &re)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, report.Errors)
	assert.Equal(t, 0, env.fetcher.calls)
}

func TestUpdate_AllFail(t *testing.T) {
	env := newTestEnv(t, repoMain+"\n")
	env.fetcher.fail(repoMain, fetch.ErrNotFound)

	report, err := env.db.Update(context.Background(), models.UpdateDefault)
	var re *apkerr.RefreshError
	require.ErrorAs(t, err, &re)
	assert.Same(t, report, re.Report)
	assert.Equal(t, 1, report.Errors)
}

func TestUpdate_NoRepositories(t *testing.T) {
	env := newTestEnv(t, "# nothing here\n")
	report, err := env.db.Update(context.Background(), models.UpdateDefault)
	require.NoError(t, err)
	assert.True(t, report.Success())
	assert.Empty(t, report.Repos)
}

func TestUpdate_NotModifiedKeepsCachedIndex(t *testing.T) {
	env := newStandardEnv(t)
	env.reopen(t, models.OpenReadWrite)

	// the index survives a reopen through the store
	pkgs, err := env.db.AvailablePackages()
	require.NoError(t, err)
	assert.Len(t, pkgs, 6)

	for _, repo := range []string{repoMain, repoCommunity, repoTesting} {
		env.fetcher.fail(repo, fetch.ErrNotModified)
	}
	report, err := env.db.Update(context.Background(), models.UpdateDefault)
	require.NoError(t, err)
	assert.Equal(t, 3, report.UpToDate)
	assert.Equal(t, 3, report.Repos[0].Packages)
	assert.Equal(t, 5, report.Available)
}

func TestUpdate_UntrustedIndexIsTrustError(t *testing.T) {
	env := newTestEnv(t, repoMain+"\n")
	env.fetcher.fail(repoMain, trust.ErrUntrusted)

	report, err := env.db.Update(context.Background(), models.UpdateDefault)
	require.Error(t, err)
	var te *apkerr.TrustError
	require.ErrorAs(t, report.Repos[0].Err, &te)
	assert.Equal(t, apkerr.ENOKEY, te.Code)
}

func TestUpdate_DisabledRepositorySkipped(t *testing.T) {
	env := newTestEnv(t, repoMain+"\n#"+repoTesting+"\n")
	env.fetcher.serve(repoMain, pkg("curl", "8.5.0-r0"))

	report, err := env.db.Update(context.Background(), models.UpdateDefault)
	require.NoError(t, err)
	require.Len(t, report.Repos, 1)
	assert.Equal(t, 1, env.fetcher.calls)
}

// ==================== Add Tests ====================

func TestAdd_InstallsAndPersists(t *testing.T) {
	env := newStandardEnv(t)
	ctx := context.Background()

	cs, err := env.db.Add(ctx, "curl", models.AddOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"+libcurl-8.5.0-r0", "+curl-8.5.0-r0"}, summary(cs))
	assert.Equal(t, []string{"+libcurl-8.5.0-r0", "+curl-8.5.0-r0"}, env.installer.calls)

	env.reopen(t, models.OpenReadWrite)
	assert.Equal(t, []string{"curl"}, worldNames(t, env.db))
	installed, err := env.db.InstalledPackages()
	require.NoError(t, err)
	require.Len(t, installed, 2)
	assert.Equal(t, "curl", installed[0].Name)
}

func TestAdd_AlreadySatisfiedIsNoop(t *testing.T) {
	env := newStandardEnv(t)
	ctx := context.Background()
	_, err := env.db.Add(ctx, "curl", models.AddOptions{})
	require.NoError(t, err)

	cs, err := env.db.Add(ctx, "curl", models.AddOptions{})
	require.NoError(t, err)
	assert.True(t, cs.IsEmpty())
	assert.Len(t, env.installer.calls, 2)
}

func TestAdd_TaggedSpec(t *testing.T) {
	env := newStandardEnv(t)
	ctx := context.Background()

	// community is pinned; an untagged request can not reach it
	_, err := env.db.Add(ctx, "foo", models.AddOptions{})
	var ue *apkerr.UnsatisfiableError
	require.ErrorAs(t, err, &ue)

	cs, err := env.db.Add(ctx, "foo@community>=1.2.3", models.AddOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"+foo-1.3.0-r0"}, summary(cs))
	assert.Equal(t, []string{"foo@community>=1.2.3"}, worldNames(t, env.db))
}

func TestAdd_MissingTag(t *testing.T) {
	env := newStandardEnv(t)
	_, err := env.db.Add(context.Background(), "bar@edge", models.AddOptions{})
	var mt *apkerr.MissingRepoTagsError
	require.ErrorAs(t, err, &mt)
	assert.Equal(t, []string{"edge"}, mt.Tags)
	assert.Empty(t, worldNames(t, env.db))
}

func TestAdd_NotFound(t *testing.T) {
	env := newStandardEnv(t)
	_, err := env.db.Add(context.Background(), "ghost", models.AddOptions{})
	var nf *apkerr.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "no such package: ghost", err.Error())
}

func TestAdd_ParseError(t *testing.T) {
	env := newStandardEnv(t)
	_, err := env.db.Add(context.Background(), "curl>=", models.AddOptions{})
	var pe *apkerr.ParseError
	assert.ErrorAs(t, err, &pe)
}

func TestAdd_SimulateMatchesCommit(t *testing.T) {
	env := newStandardEnv(t)
	ctx := context.Background()

	simulated, err := env.db.Add(ctx, "curl", models.AddOptions{Simulate: true})
	require.NoError(t, err)
	assert.Empty(t, env.installer.calls)
	assert.Empty(t, worldNames(t, env.db))

	committed, err := env.db.Add(ctx, "curl", models.AddOptions{})
	require.NoError(t, err)
	assert.Equal(t, simulated, committed)
}

func TestAdd_CommitFailureKeepsWorld(t *testing.T) {
	env := newStandardEnv(t)
	ctx := context.Background()
	env.installer.fail["curl"] = errors.New("disk full")

	var progress []models.Progress
	env.db.SetProgressFunc(func(p models.Progress) { progress = append(progress, p) })

	_, err := env.db.Add(ctx, "curl", models.AddOptions{})
	var ce *apkerr.CommitError
	require.ErrorAs(t, err, &ce)
	require.Len(t, ce.Failures, 1)
	assert.Equal(t, "curl", ce.Failures[0].Name)

	// libcurl stays installed, the world is not promoted
	assert.Empty(t, worldNames(t, env.db))
	installed, err := env.db.InstalledPackages()
	require.NoError(t, err)
	require.Len(t, installed, 1)
	assert.Equal(t, "libcurl", installed[0].Name)
	assert.Equal(t, models.Progress{Done: 2, Total: 2}, progress[len(progress)-1])

	env.reopen(t, models.OpenReadWrite)
	installed, err = env.db.InstalledPackages()
	require.NoError(t, err)
	assert.Len(t, installed, 1)
}

// ==================== Sideload Tests ====================

func writeArchive(t *testing.T, dir string, p *models.Package) string {
	t.Helper()
	data, err := trust.BuildArchive(p, "", map[string][]byte{"usr/bin/" + p.Name: []byte("x")})
	require.NoError(t, err)
	path := filepath.Join(dir, p.Name+"-"+p.Version+".apk")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestAdd_SideloadRejectedByPolicy(t *testing.T) {
	env := newTestEnv(t, "")
	cfg := env.db.Config()
	cfg.Ephemeral = true
	cfg.CacheDir = "var/cache/disabled"
	require.NoError(t, cfg.Save())
	env.reopen(t, models.OpenReadWrite)

	_, err := env.db.Add(context.Background(), "./local.apk", models.AddOptions{})
	var pe *apkerr.PolicyError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "./local.apk", pe.Spec)
	assert.Contains(t, err.Error(), "--force-non-repository")
}

func TestAdd_SideloadForced(t *testing.T) {
	env := newTestEnv(t, "")
	cfg := env.db.Config()
	cfg.Ephemeral = true
	cfg.CacheDir = "var/cache/disabled"
	require.NoError(t, cfg.Save())
	env.reopen(t, models.OpenReadWrite)

	path := writeArchive(t, t.TempDir(), &models.Package{Name: "local", Version: "0.1-r0", Arch: "x86_64"})
	ctx := context.Background()

	// unsigned archives need AllowUntrusted
	_, err := env.db.Add(ctx, path, models.AddOptions{ForceNonRepository: true})
	var te *apkerr.TrustError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, apkerr.ENOKEY, te.Code)

	// a simulation does not leave the package in the index
	cs, err := env.db.Add(ctx, path, models.AddOptions{ForceNonRepository: true, AllowUntrusted: true, Simulate: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"+local-0.1-r0"}, summary(cs))
	avail, err := env.db.Query("local", false)
	require.NoError(t, err)
	assert.Empty(t, avail)

	cs, err = env.db.Add(ctx, path, models.AddOptions{ForceNonRepository: true, AllowUntrusted: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"+local-0.1-r0"}, summary(cs))
	assert.Equal(t, []string{"local=0.1-r0"}, worldNames(t, env.db))

	// the sideloaded package stays available from the local slot
	env.reopen(t, models.OpenReadWrite)
	avail, err = env.db.Query("local", false)
	require.NoError(t, err)
	require.Len(t, avail, 1)
	assert.Equal(t, 0, avail[0].Repo)
}

func TestAdd_SideloadMissingFile(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.db.Add(context.Background(), filepath.Join(t.TempDir(), "gone.apk"), models.AddOptions{})
	var fe *apkerr.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, apkerr.ENOENT, fe.Code)
}

// ==================== Del Tests ====================

func TestDel_RecursiveRemovesDependents(t *testing.T) {
	env := newStandardEnv(t)
	ctx := context.Background()
	for _, spec := range []string{"curl", "busybox"} {
		_, err := env.db.Add(ctx, spec, models.AddOptions{})
		require.NoError(t, err)
	}

	// libcurl is not in the world and curl still needs it
	cs, err := env.db.Del(ctx, "libcurl", models.DelDefault)
	require.NoError(t, err)
	assert.True(t, cs.IsEmpty())

	cs, err = env.db.Del(ctx, "libcurl", models.DelRdepends|models.DelSimulate)
	require.NoError(t, err)
	assert.Equal(t, []string{"-curl-8.5.0-r0", "-libcurl-8.5.0-r0"}, summary(cs))
	assert.Equal(t, []string{"curl", "busybox"}, worldNames(t, env.db))

	_, err = env.db.Del(ctx, "libcurl", models.DelRdepends)
	require.NoError(t, err)
	assert.Equal(t, []string{"busybox"}, worldNames(t, env.db))
	installed, err := env.db.InstalledPackages()
	require.NoError(t, err)
	require.Len(t, installed, 1)
	assert.Equal(t, "busybox", installed[0].Name)
}

func TestDel_NotFound(t *testing.T) {
	env := newStandardEnv(t)
	_, err := env.db.Del(context.Background(), "ghost", models.DelDefault)
	var nf *apkerr.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

// ==================== Upgrade Tests ====================

func TestUpgrade(t *testing.T) {
	env := newStandardEnv(t)
	ctx := context.Background()
	_, err := env.db.Add(ctx, "curl", models.AddOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, env.db.UpgradeablePackagesCount())

	env.fetcher.serve(repoMain,
		pkg("curl", "8.6.0-r0", "libcurl", "ca-certificates"),
		pkg("libcurl", "8.6.0-r0"),
		pkg("ca-certificates", "20240226-r0"),
		pkg("busybox", "1.36.1-r15"),
	)
	_, err = env.db.Update(ctx, models.UpdateDefault)
	require.NoError(t, err)

	assert.Equal(t, 3, env.db.UpgradeablePackagesCount())

	cs, err := env.db.Upgrade(ctx, models.UpgradeSimulate)
	require.NoError(t, err)
	assert.Equal(t, 1, cs.NumInstall)
	assert.Equal(t, 2, cs.NumAdjust)

	_, err = env.db.Upgrade(ctx, models.UpgradeDefault)
	require.NoError(t, err)
	info, err := env.db.Info("curl")
	require.NoError(t, err)
	assert.Equal(t, "8.6.0-r0", info.Installed.Version)
	assert.False(t, info.Upgradeable)
	assert.Equal(t, 0, env.db.UpgradeablePackagesCount())
}

func TestUpgrade_AvailableDropsPins(t *testing.T) {
	env := newStandardEnv(t)
	ctx := context.Background()
	_, err := env.db.Add(ctx, "foo@community=1.2.3-r0", models.AddOptions{})
	require.NoError(t, err)

	env.fetcher.serve(repoCommunity, pkg("foo", "1.3.0-r0"))
	_, err = env.db.Update(ctx, models.UpdateDefault)
	require.NoError(t, err)

	cs, err := env.db.Upgrade(ctx, models.UpgradeAvailable)
	require.NoError(t, err)
	assert.Equal(t, []string{"~foo-1.2.3-r0>1.3.0-r0"}, summary(cs))
	assert.Equal(t, []string{"foo@community"}, worldNames(t, env.db))
}

// ==================== Query Tests ====================

func TestQuery(t *testing.T) {
	env := newStandardEnv(t)
	_, err := env.db.Add(context.Background(), "curl", models.AddOptions{})
	require.NoError(t, err)

	got, err := env.db.Query("*curl", false)
	require.NoError(t, err)
	var ids []string
	for _, p := range got {
		ids = append(ids, p.Name)
	}
	assert.Equal(t, []string{"curl", "libcurl"}, ids)

	got, err = env.db.Query("foo", false)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1.3.0-r0", got[0].Version, "newest first")

	got, err = env.db.Query("", true)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestInfo(t *testing.T) {
	env := newStandardEnv(t)
	_, err := env.db.Add(context.Background(), "curl", models.AddOptions{})
	require.NoError(t, err)

	info, err := env.db.Info("libcurl")
	require.NoError(t, err)
	require.NotNil(t, info.Installed)
	assert.Equal(t, []string{"curl"}, info.RequiredBy)
	assert.False(t, info.InWorld)

	info, err = env.db.Info("curl")
	require.NoError(t, err)
	assert.True(t, info.InWorld)

	info, err = env.db.Info("bar")
	require.NoError(t, err)
	assert.Nil(t, info.Installed)
	assert.Len(t, info.Available, 1)

	_, err = env.db.Info("ghost")
	var nf *apkerr.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

// ==================== Repository Tests ====================

func TestSetRepositoryEnabled(t *testing.T) {
	env := newStandardEnv(t)

	require.NoError(t, env.db.SetRepositoryEnabled(repoTesting, false))
	repos, err := env.db.Repositories()
	require.NoError(t, err)
	require.Len(t, repos, 3)
	assert.False(t, repos[2].Enabled)

	_, err = env.db.Info("bar")
	var nf *apkerr.NotFoundError
	assert.ErrorAs(t, err, &nf)

	data, err := os.ReadFile(filepath.Join(env.root, config.RepositoriesFile))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), "#"+repoTesting+"\n"))

	require.NoError(t, env.db.SetRepositoryEnabled(repoTesting, true))
	_, err = env.db.Info("bar")
	assert.NoError(t, err)
}

func TestStats(t *testing.T) {
	env := newStandardEnv(t)
	_, err := env.db.Add(context.Background(), "curl", models.AddOptions{})
	require.NoError(t, err)

	s, err := env.db.Stats()
	require.NoError(t, err)
	assert.Equal(t, Stats{Installed: 2, Available: 5, World: 1, Repos: 3}, s)
}
