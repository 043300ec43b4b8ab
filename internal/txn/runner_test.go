package txn

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kilupskalvis/apkdb/internal/apkerr"
	"github.com/kilupskalvis/apkdb/internal/metrics"
	"github.com/kilupskalvis/apkdb/internal/models"
	"github.com/kilupskalvis/apkdb/internal/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	mu       sync.Mutex
	progress models.ProgressFunc
	release  chan struct{}
	err      error
	calls    []string
}

func (f *fakeEngine) SetProgressFunc(fn models.ProgressFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = fn
}

func (f *fakeEngine) run(name string, steps uint64) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	progress := f.progress
	release := f.release
	f.mu.Unlock()

	if release != nil {
		<-release
	}
	for i := uint64(0); i <= steps; i++ {
		if progress != nil {
			progress(models.Progress{Done: i, Total: steps})
		}
	}
}

func (f *fakeEngine) Add(_ context.Context, spec string, _ models.AddOptions) (*models.Changeset, error) {
	f.run("add "+spec, 2)
	cs := models.NewChangeset([]models.ChangesetItem{
		{NewPackage: &models.Package{Name: spec, Version: "1.0-r0"}},
		{NewPackage: &models.Package{Name: "lib" + spec, Version: "1.0-r0"}},
	})
	return cs, f.err
}

func (f *fakeEngine) Del(_ context.Context, spec string, _ models.DelFlags) (*models.Changeset, error) {
	f.run("del "+spec, 1)
	cs := models.NewChangeset([]models.ChangesetItem{
		{OldPackage: &models.Package{Name: spec, Version: "1.0-r0"}},
	})
	return cs, f.err
}

func (f *fakeEngine) Upgrade(_ context.Context, _ models.UpgradeFlags) (*models.Changeset, error) {
	f.run("upgrade", 1)
	cs := models.NewChangeset([]models.ChangesetItem{{
		OldPackage: &models.Package{Name: "curl", Version: "8.5.0-r0"},
		NewPackage: &models.Package{Name: "curl", Version: "8.6.0-r0"},
	}})
	return cs, f.err
}

func (f *fakeEngine) Update(_ context.Context, _ models.UpdateFlags) (*models.RefreshReport, error) {
	f.run("update", 3)
	return &models.RefreshReport{
		Repos: []models.RepoResult{
			{Status: models.RepoUpdated},
			{Status: models.RepoFailed},
			{Status: models.RepoUpdated},
		},
		Updated: 2,
		Errors:  1,
	}, f.err
}

type memHistory struct {
	mu      sync.Mutex
	entries []*store.HistoryEntry
}

func (m *memHistory) RecordHistory(e *store.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func newTestRunner(t *testing.T, engine *fakeEngine, opts ...Option) *Runner {
	t.Helper()
	r := NewRunner(engine, opts...)
	t.Cleanup(r.Close)
	return r
}

func waitDone(t *testing.T, tx *Transaction) {
	t.Helper()
	select {
	case <-tx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("transaction did not finish")
	}
}

// ==================== Runner Tests ====================

func TestRunner_Add(t *testing.T) {
	engine := &fakeEngine{}
	hist := &memHistory{}
	r := newTestRunner(t, engine, WithHistory(hist))

	tx, err := r.Add(context.Background(), "curl", models.AddOptions{})
	require.NoError(t, err)
	assert.Equal(t, TypeAdd, tx.Type)
	assert.Equal(t, "add curl", tx.Description)

	var updates []models.Progress
	for p := range tx.Progress() {
		updates = append(updates, p)
	}
	waitDone(t, tx)

	assert.Equal(t, []models.Progress{{0, 2}, {1, 2}, {2, 2}}, updates)
	require.NoError(t, tx.Wait(context.Background()))
	assert.Equal(t, float64(100), tx.Percent())
	assert.Equal(t, 2, tx.Changeset().NumInstall)
	assert.Empty(t, tx.ErrorMessage())
	assert.False(t, r.Busy())

	require.Len(t, hist.entries, 1)
	e := hist.entries[0]
	assert.Equal(t, tx.ID.String(), e.ID)
	assert.Equal(t, "add", e.Type)
	assert.Equal(t, 2, e.Installed)
	assert.Equal(t, []string{"install curl-1.0-r0", "install libcurl-1.0-r0"}, e.Packages)
	assert.True(t, e.Succeeded())
	assert.False(t, e.FinishedAt.Before(e.StartedAt))
}

func TestRunner_BusyRejection(t *testing.T) {
	engine := &fakeEngine{release: make(chan struct{})}
	rec := metrics.NewRecorder(true)
	r := newTestRunner(t, engine, WithMetrics(rec))

	first, err := r.Add(context.Background(), "curl", models.AddOptions{})
	require.NoError(t, err)
	assert.True(t, r.Busy())
	assert.False(t, first.Finished())

	_, err = r.Del(context.Background(), "busybox", models.DelDefault)
	assert.ErrorIs(t, err, apkerr.ErrBusy)
	_, err = r.Update(context.Background(), models.UpdateDefault)
	assert.ErrorIs(t, err, apkerr.ErrBusy)

	close(engine.release)
	waitDone(t, first)

	second, err := r.Del(context.Background(), "busybox", models.DelRdepends)
	require.NoError(t, err)
	waitDone(t, second)
	assert.Equal(t, "del busybox (recursive)", second.Description)
	assert.Equal(t, []string{"add curl", "del busybox"}, engine.calls)

	expected := `
		# HELP apkdb_transaction_busy_rejections_total Transactions refused because another one was in flight
		# TYPE apkdb_transaction_busy_rejections_total counter
		apkdb_transaction_busy_rejections_total 2
	`
	assert.NoError(t, testutil.GatherAndCompare(rec.Registry(), strings.NewReader(expected), "apkdb_transaction_busy_rejections_total"))
}

func TestRunner_FailureIsRecorded(t *testing.T) {
	commitErr := &apkerr.CommitError{Total: 2, Failures: []apkerr.Failure{
		{Name: "curl", Version: "1.0-r0", Action: "install", Kind: apkerr.FailureError, Err: errors.New("disk full")},
	}}
	engine := &fakeEngine{err: commitErr}
	hist := &memHistory{}
	r := newTestRunner(t, engine, WithHistory(hist))

	tx, err := r.Add(context.Background(), "curl", models.AddOptions{})
	require.NoError(t, err)
	waitDone(t, tx)

	var ce *apkerr.CommitError
	require.ErrorAs(t, tx.Err(), &ce)
	assert.Contains(t, tx.ErrorMessage(), "1 of 2 changes failed")

	require.Len(t, hist.entries, 1)
	assert.Equal(t, 1, hist.entries[0].Failed)
	assert.False(t, hist.entries[0].Succeeded())
}

func TestRunner_UpdateReport(t *testing.T) {
	engine := &fakeEngine{}
	hist := &memHistory{}
	r := newTestRunner(t, engine, WithHistory(hist))

	tx, err := r.Update(context.Background(), models.UpdateDefault)
	require.NoError(t, err)
	waitDone(t, tx)

	require.NotNil(t, tx.Report())
	assert.Equal(t, 2, tx.Report().Updated)
	assert.Nil(t, tx.Changeset())
	assert.Equal(t, 1, hist.entries[0].Failed)
}

func TestRunner_Upgrade(t *testing.T) {
	engine := &fakeEngine{}
	r := newTestRunner(t, engine)

	tx, err := r.Upgrade(context.Background(), models.UpgradeAvailable|models.UpgradeLatest)
	require.NoError(t, err)
	waitDone(t, tx)

	assert.Equal(t, "upgrade --available --latest", tx.Description)
	assert.Equal(t, 1, tx.Changeset().NumAdjust)
}

func TestRunner_WaitHonorsContext(t *testing.T) {
	engine := &fakeEngine{release: make(chan struct{})}
	r := newTestRunner(t, engine)

	tx, err := r.Add(context.Background(), "curl", models.AddOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, tx.Wait(ctx), context.Canceled)

	close(engine.release)
	waitDone(t, tx)
}

func TestRunner_Closed(t *testing.T) {
	r := NewRunner(&fakeEngine{})
	r.Close()
	r.Close()

	_, err := r.Add(context.Background(), "curl", models.AddOptions{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRunner_CloseWhileSubmitting(t *testing.T) {
	for round := 0; round < 50; round++ {
		r := NewRunner(&fakeEngine{})
		var wg sync.WaitGroup
		var accepted []*Transaction
		var mu sync.Mutex
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				tx, err := r.Update(context.Background(), models.UpdateDefault)
				if err != nil {
					assert.True(t, errors.Is(err, ErrClosed) || errors.Is(err, apkerr.ErrBusy), "unexpected error %v", err)
					return
				}
				mu.Lock()
				accepted = append(accepted, tx)
				mu.Unlock()
			}()
		}
		r.Close()
		wg.Wait()

		// every accepted transaction still runs to completion
		for _, tx := range accepted {
			select {
			case <-tx.Done():
			case <-time.After(5 * time.Second):
				t.Fatal("accepted transaction never finished")
			}
		}
	}
}

// ==================== Transaction Tests ====================

func TestTransaction_DropsProgressWhenFull(t *testing.T) {
	tx := newTransaction(TypeUpdate, "update")
	for i := 0; i < progressBuffer+10; i++ {
		tx.update(models.Progress{Done: uint64(i), Total: 200})
	}
	assert.Len(t, tx.progress, progressBuffer)
	assert.InDelta(t, 36.5, tx.Percent(), 0.001)
	assert.Zero(t, tx.Duration())
}

func TestRunner_SimulationNotRecorded(t *testing.T) {
	engine := &fakeEngine{}
	hist := &memHistory{}
	r := newTestRunner(t, engine, WithHistory(hist))

	tx, err := r.Add(context.Background(), "curl", models.AddOptions{Simulate: true})
	require.NoError(t, err)
	waitDone(t, tx)
	assert.Equal(t, 2, tx.Changeset().NumInstall)

	tx, err = r.Del(context.Background(), "curl", models.DelSimulate)
	require.NoError(t, err)
	waitDone(t, tx)

	assert.Empty(t, hist.entries)
}
