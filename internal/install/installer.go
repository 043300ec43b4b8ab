// Package install implements commit.PackageInstaller on top of the archive
// cache. Installing a package fetches and verifies its archive, keeps it in
// the cache and writes a record of the package under the root.
package install

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kilupskalvis/apkdb/internal/cache"
	"github.com/kilupskalvis/apkdb/internal/fetch"
	"github.com/kilupskalvis/apkdb/internal/models"
	"github.com/kilupskalvis/apkdb/internal/trust"
)

// ErrMismatch is returned when an archive does not contain the expected package.
var ErrMismatch = errors.New("archive does not match package")

// Locator returns where the archive of pkg can be fetched from.
type Locator func(pkg *models.Package) (string, error)

// Record is what is kept on disk for an installed package.
type Record struct {
	Package     *models.Package `json:"package"`
	SHA256      string          `json:"sha256"`
	KeyName     string          `json:"key_name,omitempty"`
	Files       []string        `json:"files"`
	InstalledAt time.Time       `json:"installed_at"`
}

// CacheInstaller installs packages into a records directory, keeping their
// archives in a cache.
type CacheInstaller struct {
	dir            string
	cache          *cache.Store
	keepArchives   bool
	fetcher        fetch.ArchiveFetcher
	verifier       trust.Verifier
	locate         Locator
	allowUntrusted bool
	logger         *slog.Logger

	mu      sync.Mutex
	preload map[string][]byte // package ID -> archive supplied by the caller
}

// Option configures a CacheInstaller.
type Option func(*CacheInstaller)

// WithKeepArchives keeps fetched archives in the cache after install.
func WithKeepArchives(keep bool) Option {
	return func(c *CacheInstaller) { c.keepArchives = keep }
}

// WithAllowUntrusted accepts unsigned archives.
func WithAllowUntrusted(allow bool) Option {
	return func(c *CacheInstaller) { c.allowUntrusted = allow }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *CacheInstaller) { c.logger = l }
}

// New creates a CacheInstaller writing records to dir.
func New(dir string, store *cache.Store, fetcher fetch.ArchiveFetcher, verifier trust.Verifier, locate Locator, opts ...Option) (*CacheInstaller, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create records directory: %w", err)
	}
	c := &CacheInstaller{
		dir:      dir,
		cache:    store,
		fetcher:  fetcher,
		verifier: verifier,
		locate:   locate,
		logger:   slog.New(slog.DiscardHandler),
		preload:  make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Preload supplies the archive of a sideloaded package so that Install does
// not fetch it.
func (c *CacheInstaller) Preload(pkg *models.Package, archive []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.preload[pkg.ID()] = archive
}

// Unload drops a preloaded archive.
func (c *CacheInstaller) Unload(pkg *models.Package) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.preload, pkg.ID())
}

// Install implements commit.PackageInstaller.
func (c *CacheInstaller) Install(ctx context.Context, pkg *models.Package) error {
	archive, err := c.archive(ctx, pkg)
	if err != nil {
		return err
	}

	vctx := ctx
	if c.allowUntrusted {
		vctx = trust.AllowUntrusted(ctx)
	}
	meta, err := c.verifier.Verify(vctx, archive)
	if err != nil {
		return fmt.Errorf("verify %s: %w", pkg.ID(), err)
	}
	if meta.Package.Name != pkg.Name || meta.Package.Version != pkg.Version {
		return fmt.Errorf("%s contains %s-%s: %w", pkg.ID(), meta.Package.Name, meta.Package.Version, ErrMismatch)
	}

	if c.keepArchives && c.cache != nil {
		if err := c.cache.Put(ctx, meta.SHA256, bytes.NewReader(archive), pkg.ID()); err != nil {
			return fmt.Errorf("cache %s: %w", pkg.ID(), err)
		}
	}

	files := make([]string, 0, len(meta.Files))
	for name := range meta.Files {
		files = append(files, name)
	}
	sort.Strings(files)

	rec := &Record{
		Package:     pkg,
		SHA256:      meta.SHA256,
		KeyName:     meta.KeyName,
		Files:       files,
		InstalledAt: time.Now().UTC(),
	}
	if err := c.writeRecord(rec); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.preload, pkg.ID())
	c.mu.Unlock()

	c.logger.Info("installed package", "package", pkg.ID(), "files", len(files), "signed", meta.Signed)
	return nil
}

// Remove implements commit.PackageInstaller. Removing a package without a
// record succeeds.
func (c *CacheInstaller) Remove(_ context.Context, pkg *models.Package) error {
	err := os.Remove(c.recordPath(pkg.Name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove record of %s: %w", pkg.Name, err)
	}
	c.logger.Info("removed package", "package", pkg.ID())
	return nil
}

// archive returns the archive of pkg from the preload set, the cache when the
// installed record points at it, or the repository.
func (c *CacheInstaller) archive(ctx context.Context, pkg *models.Package) ([]byte, error) {
	c.mu.Lock()
	data, ok := c.preload[pkg.ID()]
	c.mu.Unlock()
	if ok {
		return data, nil
	}

	if c.cache != nil {
		if rec, err := c.Record(pkg.Name); err == nil && rec != nil && rec.Package.Version == pkg.Version {
			data, err := c.cache.Get(ctx, rec.SHA256)
			if err == nil {
				c.logger.Debug("using cached archive", "package", pkg.ID(), "sha256", rec.SHA256)
				return data, nil
			}
			if !errors.Is(err, cache.ErrNotFound) {
				return nil, err
			}
		}
	}

	if c.locate == nil || c.fetcher == nil {
		return nil, fmt.Errorf("no source for %s: %w", pkg.ID(), fetch.ErrNotFound)
	}
	url, err := c.locate(pkg)
	if err != nil {
		return nil, err
	}
	data, err = c.fetcher.FetchArchive(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pkg.ID(), err)
	}
	return data, nil
}

// Record returns the install record of the named package. Returns (nil, nil)
// if the package has no record.
func (c *CacheInstaller) Record(name string) (*Record, error) {
	data, err := os.ReadFile(c.recordPath(name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read record of %s: %w", name, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse record of %s: %w", name, err)
	}
	return &rec, nil
}

// Records returns every install record sorted by package name.
func (c *CacheInstaller) Records() ([]*Record, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("read records directory: %w", err)
	}
	var recs []*Record
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		rec, err := c.Record(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			return nil, err
		}
		if rec != nil {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Package.Name < recs[j].Package.Name })
	return recs, nil
}

// ReferencedHashes implements cache.Referencer.
func (c *CacheInstaller) ReferencedHashes(_ context.Context) (map[string]bool, error) {
	recs, err := c.Records()
	if err != nil {
		return nil, err
	}
	refs := make(map[string]bool, len(recs))
	for _, r := range recs {
		refs[r.SHA256] = true
	}
	return refs, nil
}

func (c *CacheInstaller) recordPath(name string) string {
	return filepath.Join(c.dir, name+".json")
}

func (c *CacheInstaller) writeRecord(rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	path := c.recordPath(rec.Package.Name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write record of %s: %w", rec.Package.Name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write record of %s: %w", rec.Package.Name, err)
	}
	return nil
}
