// Package core implements the package database: it owns the world, the
// installed set and the repository index of a root, and drives the solver
// and committer for add, del, upgrade and update.
package core

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"github.com/kilupskalvis/apkdb/internal/apkerr"
	"github.com/kilupskalvis/apkdb/internal/cache"
	"github.com/kilupskalvis/apkdb/internal/commit"
	"github.com/kilupskalvis/apkdb/internal/config"
	"github.com/kilupskalvis/apkdb/internal/fetch"
	"github.com/kilupskalvis/apkdb/internal/install"
	"github.com/kilupskalvis/apkdb/internal/models"
	"github.com/kilupskalvis/apkdb/internal/solver"
	"github.com/kilupskalvis/apkdb/internal/state"
	"github.com/kilupskalvis/apkdb/internal/store"
	"github.com/kilupskalvis/apkdb/internal/trust"
	"github.com/kilupskalvis/apkdb/internal/version"
)

// Preloader accepts the archive of a sideloaded package ahead of commit.
type Preloader interface {
	Preload(pkg *models.Package, archive []byte)
	Unload(pkg *models.Package)
}

// Database is a package database rooted at a directory. Queries may run
// concurrently; mutations are exclusive.
type Database struct {
	mu     sync.RWMutex
	root   string
	flags  models.OpenFlags
	isOpen bool
	logger *slog.Logger

	// collaborators supplied through options; nil means build the default
	optFetcher   fetch.RepositoryFetcher
	optVerifier  trust.Verifier
	optInstaller commit.PackageInstaller
	optCmp       version.Comparator

	cfg         *config.Config
	repos       *config.Repositories
	st          *store.Store
	history     *store.History
	cache       *cache.Store
	cacheActive bool

	idx       *state.Index
	world     *state.World
	installed *state.Installed

	cmp       version.Comparator
	solver    *solver.Solver
	committer *commit.Committer
	fetcher   fetch.RepositoryFetcher
	verifier  trust.Verifier
	installer commit.PackageInstaller
	progress  models.ProgressFunc
	closers   []func()
}

// Option configures a Database.
type Option func(*Database)

// WithRoot sets the root directory.
func WithRoot(root string) Option {
	return func(d *Database) { d.root = root }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Database) { d.logger = l }
}

// WithFetcher replaces the repository index fetcher.
func WithFetcher(f fetch.RepositoryFetcher) Option {
	return func(d *Database) { d.optFetcher = f }
}

// WithVerifier replaces the archive verifier used for sideloaded packages
// and by the default installer.
func WithVerifier(v trust.Verifier) Option {
	return func(d *Database) { d.optVerifier = v }
}

// WithInstaller replaces the package installer.
func WithInstaller(i commit.PackageInstaller) Option {
	return func(d *Database) { d.optInstaller = i }
}

// WithComparator replaces the version comparator chosen by the config.
func WithComparator(c version.Comparator) Option {
	return func(d *Database) { d.optCmp = c }
}

// New creates a closed Database. The root defaults to $APKDB_ROOT or "/".
func New(opts ...Option) *Database {
	d := &Database{
		root:   config.ResolveRoot(""),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetRoot changes the root directory. It fails while the database is open.
func (d *Database) SetRoot(root string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.isOpen {
		return fmt.Errorf("cannot change root of an open database")
	}
	d.root = root
	return nil
}

// Root returns the root directory.
func (d *Database) Root() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.root
}

// IsOpen returns true between a successful Open and Close.
func (d *Database) IsOpen() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isOpen
}

// SetProgressFunc sets where mutations report progress. nil disables it.
func (d *Database) SetProgressFunc(fn models.ProgressFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.progress = fn
}

// Config returns the configuration loaded by Open.
func (d *Database) Config() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// Open loads the configuration, state and cached indexes of the root.
// Without OpenReadWrite every mutation fails with apkerr.ErrReadOnly.
func (d *Database) Open(flags models.OpenFlags) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.isOpen {
		return fmt.Errorf("database already open")
	}

	if err := d.open(flags); err != nil {
		d.release()
		return err
	}
	d.isOpen = true
	d.logger.Info("database opened",
		"root", d.root,
		"writable", d.writableFlags(),
		"installed", d.installed.Len(),
		"world", d.world.Len(),
		"available", d.idx.Count(),
	)
	return nil
}

func (d *Database) open(flags models.OpenFlags) error {
	d.flags = flags
	readOnly := !d.writableFlags()

	cfg, err := config.Load(d.root)
	if err != nil {
		return err
	}
	d.cfg = cfg

	d.cmp = d.optCmp
	if d.cmp == nil {
		if d.cmp, err = version.New(cfg.Comparator); err != nil {
			return err
		}
	}

	if err := d.openStore(readOnly); err != nil {
		return err
	}

	if d.repos, err = config.LoadRepositories(d.root); err != nil {
		return err
	}
	if err := d.loadState(); err != nil {
		return err
	}

	d.verifier = d.optVerifier
	if d.verifier == nil {
		d.verifier = trust.NewPkgInfoVerifier(trust.NewKeyringChecker(cfg.KeysPath()), true)
	}

	var archives fetch.ArchiveFetcher
	d.fetcher = d.optFetcher
	if d.fetcher == nil {
		disp := d.defaultFetcher()
		d.fetcher, archives = disp, disp
	} else if af, ok := d.fetcher.(fetch.ArchiveFetcher); ok {
		archives = af
	}

	d.cacheActive = cfg.CacheActive()
	d.installer = d.optInstaller
	if d.installer == nil && !readOnly {
		if d.cache, err = cache.New(cfg.CachePath()); err != nil {
			return err
		}
		inst, err := install.New(cfg.PackagesPath(), d.cache, archives, d.verifier, d.locate,
			install.WithKeepArchives(d.cacheActive),
			install.WithLogger(d.logger),
		)
		if err != nil {
			return err
		}
		d.installer = inst
	}

	d.solver = solver.New(d.cmp, d.logger)
	d.committer = commit.New(d.installer, d.cmp, d.logger)
	return nil
}

func (d *Database) openStore(readOnly bool) error {
	dbPath := d.cfg.DatabasePath()
	if readOnly {
		if _, err := os.Stat(dbPath); errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		st, err := store.NewReadOnly(dbPath)
		if err != nil {
			return err
		}
		d.st = st
		return nil
	}

	st, err := store.New(dbPath)
	if err != nil {
		return err
	}
	d.st = st
	if err := st.Initialize(); err != nil {
		return err
	}

	h, err := store.NewHistory(d.cfg.HistoryPath())
	if err != nil {
		return err
	}
	d.history = h
	return h.Initialize()
}

func (d *Database) defaultFetcher() *fetch.Dispatcher {
	retry := fetch.DefaultRetryConfig()
	retry.MaxRetries = d.cfg.Fetch.Retries

	var fv fetch.Verifier
	if v, ok := d.verifier.(fetch.Verifier); ok {
		fv = v
	}

	opts := []fetch.Option{
		fetch.WithRetry(retry),
		fetch.WithTimeout(d.cfg.FetchTimeout()),
		fetch.WithLogger(d.logger),
		fetch.WithVerifier(fv),
	}
	if d.st != nil && d.writableFlags() {
		opts = append(opts, fetch.WithETagStore(d.st))
	}
	if d.cfg.Fetch.UserAgent != "" {
		opts = append(opts, fetch.WithUserAgent(d.cfg.Fetch.UserAgent))
	}
	httpFetcher := fetch.NewHTTPFetcher(opts...)
	d.closers = append(d.closers, httpFetcher.Close)
	return fetch.NewDispatcher(httpFetcher, fetch.NewFileFetcher(fv))
}

// loadState reads the world, the installed set and the index from the store.
func (d *Database) loadState() error {
	d.world = state.NewWorld()
	d.installed = state.NewInstalled()
	if d.st != nil {
		var err error
		if d.world, err = d.st.LoadWorld(); err != nil {
			return err
		}
		if d.installed, err = d.st.LoadInstalled(); err != nil {
			return err
		}
	}
	return d.loadIndex()
}

// loadIndex rebuilds the index from the local packages and the cached
// index of every enabled repository. Repository i of the enabled list takes
// slot FirstConfiguredRepo+i.
func (d *Database) loadIndex() error {
	idx := state.NewIndex()
	if d.st != nil {
		local, err := d.st.ListLocal()
		if err != nil {
			return err
		}
		for _, p := range local {
			idx.AddLocal(p)
		}
	}

	for i, repo := range d.repos.Enabled() {
		slot := models.FirstConfiguredRepo + i
		var desc string
		var pkgs []*models.Package
		if d.st != nil {
			cached, err := d.st.GetIndex(repo.URL)
			if err != nil {
				return err
			}
			if cached != nil {
				desc, pkgs = cached.Description, cached.Packages
			}
		}
		idx.SetSlot(slot, repo.URL, repo.Tag, desc, pkgs)
	}
	d.idx = idx
	return nil
}

// locate returns the archive URL of pkg from the repository it was indexed in.
func (d *Database) locate(pkg *models.Package) (string, error) {
	slot := d.idx.Slot(pkg.Repo)
	if slot == nil || slot.URL == "" {
		return "", fmt.Errorf("%s: no repository provides this package: %w", pkg.ID(), fetch.ErrNotFound)
	}
	arch := pkg.Arch
	if arch == "" || arch == "noarch" {
		arch = d.cfg.Arch
	}
	return fetch.ArchiveURL(slot.URL, arch, pkg.ArchiveName()), nil
}

// Close releases the store and network resources. Closing a closed
// database is a no-op.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.isOpen {
		return nil
	}
	err := d.release()
	d.isOpen = false
	d.logger.Info("database closed", "root", d.root)
	return err
}

func (d *Database) release() error {
	var errs []error
	if d.history != nil {
		errs = append(errs, d.history.Close())
		d.history = nil
	}
	if d.st != nil {
		errs = append(errs, d.st.Close())
		d.st = nil
	}
	for _, c := range d.closers {
		c()
	}
	d.closers = nil
	d.cache = nil
	d.installer = nil
	d.fetcher = nil
	return errors.Join(errs...)
}

func (d *Database) writableFlags() bool {
	return d.flags&models.OpenReadWrite != 0
}

// readable fails unless the database is open.
func (d *Database) readable() error {
	if !d.isOpen {
		return apkerr.ErrNotOpen
	}
	return nil
}

// writable fails unless the database is open for writing.
func (d *Database) writable() error {
	if err := d.readable(); err != nil {
		return err
	}
	if !d.writableFlags() {
		return apkerr.ErrReadOnly
	}
	return nil
}
