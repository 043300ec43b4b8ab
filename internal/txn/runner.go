package txn

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kilupskalvis/apkdb/internal/apkerr"
	"github.com/kilupskalvis/apkdb/internal/commit"
	"github.com/kilupskalvis/apkdb/internal/metrics"
	"github.com/kilupskalvis/apkdb/internal/models"
	"github.com/kilupskalvis/apkdb/internal/store"
)

// ErrClosed is returned for transactions submitted after Close.
var ErrClosed = errors.New("transaction runner is closed")

// Engine is the package database the runner drives.
type Engine interface {
	Add(ctx context.Context, spec string, opts models.AddOptions) (*models.Changeset, error)
	Del(ctx context.Context, spec string, flags models.DelFlags) (*models.Changeset, error)
	Upgrade(ctx context.Context, flags models.UpgradeFlags) (*models.Changeset, error)
	Update(ctx context.Context, flags models.UpdateFlags) (*models.RefreshReport, error)
	SetProgressFunc(fn models.ProgressFunc)
}

// HistoryRecorder keeps finished transactions.
type HistoryRecorder interface {
	RecordHistory(e *store.HistoryEntry) error
}

// Runner serializes mutations on a single worker goroutine. Only one
// transaction may be queued or running; further requests fail with
// apkerr.ErrBusy until it finishes.
type Runner struct {
	engine   Engine
	history  HistoryRecorder
	notifier Notifier
	metrics  *metrics.Recorder
	logger   *slog.Logger

	// mu guards closed and sends on tasks.
	mu     sync.Mutex
	closed bool
	tasks  chan func()
	busy   atomic.Bool
	wg     sync.WaitGroup
}

// Option configures a Runner.
type Option func(*Runner)

// WithHistory records every finished transaction that was not a simulation.
func WithHistory(h HistoryRecorder) Option {
	return func(r *Runner) { r.history = h }
}

// WithNotifier announces every finished transaction that was not a simulation.
func WithNotifier(n Notifier) Option {
	return func(r *Runner) { r.notifier = n }
}

// WithMetrics reports transactions to a metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a runner and starts its worker.
func NewRunner(engine Engine, opts ...Option) *Runner {
	r := &Runner{
		engine: engine,
		logger: slog.New(slog.DiscardHandler),
		tasks:  make(chan func(), 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = metrics.NewRecorder(false)
	}

	r.wg.Add(1)
	go r.work()
	return r
}

func (r *Runner) work() {
	defer r.wg.Done()
	for task := range r.tasks {
		task()
	}
}

// Close stops the worker after the running transaction finishes.
func (r *Runner) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.tasks)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// Busy returns true while a transaction is queued or running.
func (r *Runner) Busy() bool {
	return r.busy.Load()
}

// Add queues adding spec to the world.
func (r *Runner) Add(ctx context.Context, spec string, opts models.AddOptions) (*Transaction, error) {
	desc := "add " + spec
	return r.submit(ctx, TypeAdd, desc, !opts.Simulate, func(ctx context.Context) (*models.Changeset, *models.RefreshReport, error) {
		cs, err := r.engine.Add(ctx, spec, opts)
		return cs, nil, err
	})
}

// Del queues removing spec from the world.
func (r *Runner) Del(ctx context.Context, spec string, flags models.DelFlags) (*Transaction, error) {
	desc := "del " + spec
	if flags&models.DelRdepends != 0 {
		desc += " (recursive)"
	}
	return r.submit(ctx, TypeDel, desc, flags&models.DelSimulate == 0, func(ctx context.Context) (*models.Changeset, *models.RefreshReport, error) {
		cs, err := r.engine.Del(ctx, spec, flags)
		return cs, nil, err
	})
}

// Upgrade queues an upgrade of the installed packages.
func (r *Runner) Upgrade(ctx context.Context, flags models.UpgradeFlags) (*Transaction, error) {
	desc := "upgrade"
	if flags&models.UpgradeAvailable != 0 {
		desc += " --available"
	}
	if flags&models.UpgradeLatest != 0 {
		desc += " --latest"
	}
	return r.submit(ctx, TypeUpgrade, desc, flags&models.UpgradeSimulate == 0, func(ctx context.Context) (*models.Changeset, *models.RefreshReport, error) {
		cs, err := r.engine.Upgrade(ctx, flags)
		return cs, nil, err
	})
}

// Update queues a refresh of the repository indexes.
func (r *Runner) Update(ctx context.Context, flags models.UpdateFlags) (*Transaction, error) {
	return r.submit(ctx, TypeUpdate, "update", true, func(ctx context.Context) (*models.Changeset, *models.RefreshReport, error) {
		report, err := r.engine.Update(ctx, flags)
		return nil, report, err
	})
}

type runFunc func(ctx context.Context) (*models.Changeset, *models.RefreshReport, error)

// submit queues run. Simulations are not kept in the history.
func (r *Runner) submit(ctx context.Context, typ Type, desc string, record bool, run runFunc) (*Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if !r.busy.CompareAndSwap(false, true) {
		r.metrics.BusyRejected()
		r.logger.Warn("transaction rejected", "type", typ, "description", desc, "error", apkerr.ErrBusy)
		return nil, apkerr.ErrBusy
	}

	t := newTransaction(typ, desc)
	r.tasks <- func() { r.execute(ctx, t, record, run) }
	r.logger.Debug("transaction queued", "id", t.ID, "type", typ)
	return t, nil
}

func (r *Runner) execute(ctx context.Context, t *Transaction, record bool, run runFunc) {
	t.start()
	r.metrics.TransactionStarted()
	r.logger.Info("transaction started", "id", t.ID, "type", t.Type, "description", t.Description)

	r.engine.SetProgressFunc(t.update)
	cs, report, err := run(ctx)
	r.engine.SetProgressFunc(nil)

	t.finish(cs, report, err)
	r.metrics.TransactionFinished(string(t.Type), t.Duration(), err)
	if record {
		r.recordMetrics(cs, report, err)
		r.recordHistory(t, cs, report, err)
		r.notify(t, cs)
	}

	if err != nil {
		r.logger.Warn("transaction failed", "id", t.ID, "type", t.Type, "error", err)
	} else {
		r.logger.Info("transaction finished", "id", t.ID, "type", t.Type, "duration", t.Duration())
	}

	r.busy.Store(false)
	t.close()
}

func (r *Runner) recordMetrics(cs *models.Changeset, report *models.RefreshReport, err error) {
	if cs != nil {
		r.metrics.RecordChanges(cs.NumInstall, cs.NumRemove, cs.NumAdjust, failedCount(err))
	}
	if report != nil {
		for _, repo := range report.Repos {
			r.metrics.RecordRepositoryRefresh(string(repo.Status))
		}
	}
}

func (r *Runner) recordHistory(t *Transaction, cs *models.Changeset, report *models.RefreshReport, err error) {
	if r.history == nil {
		return
	}
	e := &store.HistoryEntry{
		ID:          t.ID.String(),
		Type:        string(t.Type),
		Description: t.Description,
		StartedAt:   t.startedAt,
		FinishedAt:  t.finishedAt,
		Failed:      failedCount(err),
		Error:       t.ErrorMessage(),
	}
	if cs != nil {
		e.Installed, e.Removed, e.Adjusted = cs.NumInstall, cs.NumRemove, cs.NumAdjust
		e.Packages = changeList(cs)
	}
	if report != nil {
		e.Failed = report.Errors
	}
	if herr := r.history.RecordHistory(e); herr != nil {
		r.logger.Warn("failed to record transaction history", "id", t.ID, "error", herr)
	}
}

func (r *Runner) notify(t *Transaction, cs *models.Changeset) {
	if r.notifier == nil {
		return
	}
	r.notifier.Notify(&Event{
		Event:       "transaction",
		ID:          t.ID.String(),
		Type:        string(t.Type),
		Description: t.Description,
		Success:     t.Err() == nil,
		Error:       t.ErrorMessage(),
		Packages:    changeList(cs),
		Timestamp:   t.finishedAt.Format(time.RFC3339),
	})
}

// changeList renders every item of cs as "<action> <name>-<version>".
func changeList(cs *models.Changeset) []string {
	if cs == nil {
		return nil
	}
	var out []string
	for _, item := range append(append([]models.ChangesetItem{}, cs.Changes...), cs.Reinstalls...) {
		p := item.NewPackage
		if p == nil {
			p = item.OldPackage
		}
		out = append(out, commit.Action(item)+" "+p.Name+"-"+p.Version)
	}
	return out
}

// failedCount returns the number of changeset items a commit error reports.
func failedCount(err error) int {
	var ce *apkerr.CommitError
	if errors.As(err, &ce) {
		return len(ce.Failures)
	}
	return 0
}
